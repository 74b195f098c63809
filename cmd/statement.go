package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// journalFlags are the search and filter flags shared by statement and export.
type journalFlags struct {
	query  string
	types  string
	status string
	from   string
	to     string
}

func (j *journalFlags) set(f *flag.FlagSet) {
	f.StringVar(&j.query, "q", "", "Only transactions containing this text.")
	f.StringVar(&j.types, "type", "", "Comma separated transaction types (send, receive, convert, add_funds, payment_request, card_payment).")
	f.StringVar(&j.status, "status", "", "Comma separated statuses (pending, completed, failed).")
	f.StringVar(&j.from, "from", "", "Start date, YYYY-MM-DD.")
	f.StringVar(&j.to, "to", "", "End date, YYYY-MM-DD, inclusive.")
}

func (j *journalFlags) values() url.Values {
	q := url.Values{}
	for k, v := range map[string]string{"q": j.query, "type": j.types, "status": j.status, "from": j.from, "to": j.to} {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

type statementCmd struct {
	journalFlags
}

func (*statementCmd) Name() string     { return "statement" }
func (*statementCmd) Synopsis() string { return "display the transaction journal, newest first" }
func (*statementCmd) Usage() string {
	return `wallet statement [-q <text>] [-type <types>] [-status <statuses>] [-from <date>] [-to <date>]

  Renders the journal as a table followed by totals per type.
`
}

func (c *statementCmd) SetFlags(f *flag.FlagSet) { c.journalFlags.set(f) }

func (c *statementCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := requestContext(ctx)
	defer cancel()

	txs, err := newClient().Transactions(ctx, c.values())
	if err != nil {
		return fail(err)
	}
	printMarkdown(statementMarkdown(txs))
	return subcommands.ExitSuccess
}

func statementMarkdown(txs []models.Transaction) string {
	var b strings.Builder
	b.WriteString("# Statement\n\n")
	if len(txs) == 0 {
		b.WriteString("No transactions.\n")
		return b.String()
	}

	b.WriteString("| Date | Type | Description | From | To | Amount | Status |\n")
	b.WriteString("|---|---|---|---|---|---:|---|\n")
	totals := map[models.TransactionType]decimal.Decimal{}
	for _, tx := range txs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			tx.Timestamp.Format("2006-01-02 15:04"),
			tx.Type,
			cell(tx.Description),
			cell(tx.From),
			cell(tx.To),
			tx.Amount.String(),
			tx.Status,
		)
		totals[tx.Type] = totals[tx.Type].Add(tx.Amount)
	}

	b.WriteString("\n## Totals\n\n")
	for _, typ := range models.TransactionTypes {
		if total, ok := totals[typ]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", typ, total.String())
		}
	}
	return b.String()
}

type exportCmd struct {
	journalFlags
	output string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export the transaction journal as CSV" }
func (*exportCmd) Usage() string {
	return `wallet export [-o <file>] [-q <text>] [-type <types>] [-status <statuses>] [-from <date>] [-to <date>]

  Writes the matching transactions as CSV to the file, or to stdout.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	c.journalFlags.set(f)
	f.StringVar(&c.output, "o", "", "The output file. Defaults to stdout.")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := requestContext(ctx)
	defer cancel()

	var w io.Writer = stdout
	if c.output != "" {
		f, err := os.Create(c.output)
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		w = f
	}

	if err := newClient().ExportCSV(ctx, c.values(), w); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
