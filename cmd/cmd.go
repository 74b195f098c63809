// Package cmd holds the subcommands of the wallet command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alovak/wallet-playground/internal/walletclient"
	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// ServerURL is the base URL of the wallet API used by the client commands.
var ServerURL = envOr("WALLET_URL", "http://localhost:8080")

// Commands lists every subcommand in the order they appear in the help.
var Commands = []subcommands.Command{
	&serveCmd{},
	&balanceCmd{},
	&addFundsCmd{},
	&sendCmd{},
	&cardsCmd{},
	&payCmd{},
	&statementCmd{},
	&exportCmd{},
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	// render turns markdown into terminal output.
	render = renderMarkdown
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newClient() *walletclient.Client {
	return walletclient.New(ServerURL, nil)
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 15*time.Second)
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func printMarkdown(md string) {
	out, err := render(md)
	if err != nil {
		// raw markdown is still readable
		out = md
	}
	fmt.Fprint(stdout, out)
}

// fail reports err and returns the failure status. API errors are shown with
// their kind so scripts can tell a rejected operation from a transport error.
func fail(err error) subcommands.ExitStatus {
	var apiErr *walletclient.APIError
	if errors.As(err, &apiErr) && apiErr.Kind != "" {
		fmt.Fprintf(stderr, "%s: %s\n", apiErr.Kind, apiErr.Message)
	} else {
		fmt.Fprintln(stderr, err)
	}
	return subcommands.ExitFailure
}

func usageError(f string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(stderr, f+"\n", args...)
	return subcommands.ExitUsageError
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be greater than zero")
	}
	return d, nil
}

// cell escapes a value for a markdown table.
func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
