package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/wallet-playground/wallet"
	"github.com/google/subcommands"
	"golang.org/x/exp/slog"
)

type serveCmd struct {
	env  string
	addr string
	text bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the wallet HTTP API" }
func (*serveCmd) Usage() string {
	return `wallet serve [-env <file>] [-listen <addr>] [-text]

  Loads the configuration from the .env file and the environment, opens the
  session of the configured owner and serves the API until interrupted.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.env, "env", ".env", "The .env file to load. A missing file is ignored.")
	f.StringVar(&c.addr, "listen", "", "The listen address. Overrides HTTP_ADDR.")
	f.BoolVar(&c.text, "text", false, "Log in text instead of JSON.")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if c.text {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)

	cfg, err := wallet.LoadConfig(c.env)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return subcommands.ExitFailure
	}
	if c.addr != "" {
		cfg.HTTPAddr = c.addr
	}

	app := wallet.NewApp(logger, cfg)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		app.Shutdown()
		return subcommands.ExitFailure
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	app.Shutdown()
	return subcommands.ExitSuccess
}
