// Package cardnet reports wallet card payments to a card network as ISO 8583
// financial advices (MTI 0220).
package cardnet

import (
	"fmt"
	"strings"
	"time"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/specs"
	"github.com/shopspring/decimal"
)

const (
	MTIAdvice         = "0220"
	MTIAdviceResponse = "0230"

	terminalID = "WALLET01"
	merchantID = "WALLETMERCHANT1"

	// ResponseApproved is the field 39 code of an accepted advice.
	ResponseApproved = "00"
)

// Payment is a committed card payment.
type Payment struct {
	TransactionID string
	PAN           string
	Amount        decimal.Decimal
	Currency      string
	Merchant      string
	Category      string
	At            time.Time
	STAN          int
}

var categoryMCC = map[string]string{
	"shopping":      "5311",
	"groceries":     "5411",
	"food":          "5812",
	"dining":        "5812",
	"restaurants":   "5812",
	"travel":        "4722",
	"transport":     "4111",
	"entertainment": "7832",
	"utilities":     "4900",
	"health":        "8062",
	"education":     "8299",
}

// CategoryMCC maps a wallet payment category to a merchant category code.
// Unknown categories map to 5999 (miscellaneous retail).
func CategoryMCC(category string) string {
	if mcc, ok := categoryMCC[strings.ToLower(strings.TrimSpace(category))]; ok {
		return mcc
	}
	return "5999"
}

var currencyNumeric = map[string]string{
	"USD": "840",
	"EUR": "978",
	"GBP": "826",
	"JPY": "392",
	"CAD": "124",
	"AUD": "036",
	"CHF": "756",
	"CNY": "156",
	"INR": "356",
}

// CurrencyNumeric returns the ISO 4217 numeric code of currency.
func CurrencyNumeric(currency string) (string, error) {
	code, ok := currencyNumeric[strings.ToUpper(currency)]
	if !ok {
		return "", fmt.Errorf("no numeric code for currency %q", currency)
	}
	return code, nil
}

// BuildAdvice builds the 0220 advice of p using the ISO 8583:1987 ASCII spec.
func BuildAdvice(p Payment) (*iso8583.Message, error) {
	if p.PAN == "" {
		return nil, fmt.Errorf("pan is required")
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	currency, err := CurrencyNumeric(p.Currency)
	if err != nil {
		return nil, err
	}
	at := p.At.UTC()
	minor := p.Amount.Shift(2).Round(0).IntPart()
	stan := p.STAN % 1_000_000

	msg := iso8583.NewMessage(specs.Spec87ASCII)
	msg.MTI(MTIAdvice)

	fields := map[int]string{
		2:  p.PAN,
		3:  "000000",
		4:  fmt.Sprintf("%012d", minor),
		7:  at.Format("0102150405"),
		11: fmt.Sprintf("%06d", stan),
		12: at.Format("150405"),
		13: at.Format("0102"),
		18: CategoryMCC(p.Category),
		37: fmt.Sprintf("%s%06d", at.Format("060102"), stan),
		41: terminalID,
		42: merchantID,
		43: fmt.Sprintf("%-40.40s", strings.ToUpper(p.Merchant)),
		49: currency,
	}
	for id, v := range fields {
		if err := msg.Field(id, v); err != nil {
			return nil, fmt.Errorf("setting field %d: %w", id, err)
		}
	}
	return msg, nil
}
