package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/alovak/wallet-playground/cmd"
	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cmd.Commands {
		commander.Register(c, "")
	}

	flag.StringVar(&cmd.ServerURL, "url", cmd.ServerURL, "Base URL of the wallet API (WALLET_URL).")
	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
