package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/alovak/wallet-playground/internal/walletclient"
	"github.com/google/subcommands"
)

type balanceCmd struct{}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show the account balance and unread notifications" }
func (*balanceCmd) Usage() string {
	return `wallet balance

  Prints the cash balance of the wallet, the number of unread notifications
  and pending backend writes.
`
}
func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (*balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := requestContext(ctx)
	defer cancel()

	acc, err := newClient().Account(ctx)
	if err != nil {
		return fail(err)
	}
	printMarkdown(balanceMarkdown(acc))
	return subcommands.ExitSuccess
}

func balanceMarkdown(acc walletclient.AccountInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Balance\n\n**%s %s**\n\n", acc.Balance.StringFixed(2), acc.Currency)
	fmt.Fprintf(&b, "- Unread notifications: %d\n", acc.Unread)
	if acc.Sync.Pending > 0 {
		fmt.Fprintf(&b, "- Pending writes: %d", acc.Sync.Pending)
		if acc.Sync.LastError != "" {
			fmt.Fprintf(&b, " (last error: %s)", acc.Sync.LastError)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type addFundsCmd struct {
	amount string
}

func (*addFundsCmd) Name() string     { return "add-funds" }
func (*addFundsCmd) Synopsis() string { return "add funds to the wallet" }
func (*addFundsCmd) Usage() string {
	return `wallet add-funds -a <amount>

  Credits the account and its virtual card.
`
}

func (c *addFundsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.amount, "a", "", "The amount to add.")
}

func (c *addFundsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := parseAmount(c.amount)
	if err != nil {
		return usageError("%v", err)
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()

	tx, err := newClient().AddFunds(ctx, amount)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "added %s (transaction %s)\n", tx.Amount.StringFixed(2), tx.ID)
	return subcommands.ExitSuccess
}

type sendCmd struct {
	amount    string
	recipient string
	note      string
}

func (*sendCmd) Name() string     { return "send" }
func (*sendCmd) Synopsis() string { return "send money to a recipient" }
func (*sendCmd) Usage() string {
	return `wallet send -a <amount> -to <recipient> [-m <note>]

  Debits the account. The transfer is rejected when the balance does not
  cover the amount.
`
}

func (c *sendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.amount, "a", "", "The amount to send.")
	f.StringVar(&c.recipient, "to", "", "The recipient.")
	f.StringVar(&c.note, "m", "", "An optional note.")
}

func (c *sendCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := parseAmount(c.amount)
	if err != nil {
		return usageError("%v", err)
	}
	if strings.TrimSpace(c.recipient) == "" {
		return usageError("-to is required")
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()

	tx, err := newClient().Send(ctx, amount, c.recipient, c.note)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "sent %s to %s (transaction %s)\n", tx.Amount.StringFixed(2), tx.To, tx.ID)
	return subcommands.ExitSuccess
}
