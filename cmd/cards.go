package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/google/subcommands"
)

type cardsCmd struct{}

func (*cardsCmd) Name() string     { return "cards" }
func (*cardsCmd) Synopsis() string { return "list the wallet cards" }
func (*cardsCmd) Usage() string {
	return `wallet cards

  Lists the cards with their masked number, status, balance and limit.
`
}
func (*cardsCmd) SetFlags(*flag.FlagSet) {}

func (*cardsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := requestContext(ctx)
	defer cancel()

	cards, err := newClient().Cards(ctx)
	if err != nil {
		return fail(err)
	}
	printMarkdown(cardsMarkdown(cards))
	return subcommands.ExitSuccess
}

func cardsMarkdown(cards []models.Card) string {
	var b strings.Builder
	b.WriteString("# Cards\n\n")
	if len(cards) == 0 {
		b.WriteString("No cards.\n")
		return b.String()
	}
	b.WriteString("| ID | Kind | Number | Expiry | Status | Balance | Limit |\n")
	b.WriteString("|---|---|---|---|---|---:|---:|\n")
	for _, c := range cards {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			c.ID, c.Kind, c.MaskedNumber, c.Expiry, c.Status, c.Balance.StringFixed(2), c.Limit.StringFixed(2))
	}
	return b.String()
}

type payCmd struct {
	card     string
	amount   string
	merchant string
	category string
}

func (*payCmd) Name() string     { return "pay" }
func (*payCmd) Synopsis() string { return "pay a merchant with a card" }
func (*payCmd) Usage() string {
	return `wallet pay -a <amount> -merchant <name> [-category <category>] [-card <id>]

  Pays with the given card, or with the virtual card when -card is omitted.
`
}

func (c *payCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.card, "card", "", "The card id. Defaults to the virtual card.")
	f.StringVar(&c.amount, "a", "", "The amount to pay.")
	f.StringVar(&c.merchant, "merchant", "", "The merchant name.")
	f.StringVar(&c.category, "category", "", "The spending category.")
}

func (c *payCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := parseAmount(c.amount)
	if err != nil {
		return usageError("%v", err)
	}
	if strings.TrimSpace(c.merchant) == "" {
		return usageError("-merchant is required")
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()

	client := newClient()
	cardID := c.card
	if cardID == "" {
		cards, err := client.Cards(ctx)
		if err != nil {
			return fail(err)
		}
		for _, card := range cards {
			if card.Kind == models.CardVirtual {
				cardID = card.ID
			}
		}
		if cardID == "" {
			return fail(fmt.Errorf("no virtual card"))
		}
	}

	tx, err := client.Pay(ctx, cardID, amount, c.merchant, c.category)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(stdout, "paid %s at %s with %s (transaction %s)\n", tx.Amount.StringFixed(2), tx.To, tx.From, tx.ID)
	return subcommands.ExitSuccess
}
