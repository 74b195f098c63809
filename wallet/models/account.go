package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the single owner's cash wallet.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
}
