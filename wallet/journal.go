package wallet

import (
	"strings"
	"time"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"
)

// Filters is a conjunction of optional constraints. Zero fields impose nothing.
type Filters struct {
	Types []models.TransactionType `json:"types,omitempty"`
	// From and To bound the timestamp, both inclusive.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
	// Min and Max bound the amount, both inclusive.
	Min      decimal.NullDecimal        `json:"min"`
	Max      decimal.NullDecimal        `json:"max"`
	Statuses []models.TransactionStatus `json:"statuses,omitempty"`
}

func (f Filters) match(tx models.Transaction) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, tx.Type) {
		return false
	}
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Timestamp.After(f.To) {
		return false
	}
	if f.Min.Valid && tx.Amount.LessThan(f.Min.Decimal) {
		return false
	}
	if f.Max.Valid && tx.Amount.GreaterThan(f.Max.Decimal) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, tx.Status) {
		return false
	}
	return true
}

// Filter returns the transactions matching f, in input order.
func Filter(txs []models.Transaction, f Filters) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.match(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// Search returns the transactions containing query, case-insensitively, in
// their type, description, parties, amount or date. An empty query returns
// txs unchanged.
func Search(txs []models.Transaction, query string) []models.Transaction {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return txs
	}
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		for _, field := range searchable(tx) {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, tx)
				break
			}
		}
	}
	return out
}

func searchable(tx models.Transaction) []string {
	return []string{
		string(tx.Type),
		tx.Description,
		tx.From,
		tx.To,
		tx.Amount.String(),
		tx.Amount.StringFixed(2),
		tx.Timestamp.Format("2006-01-02"),
		tx.Timestamp.Format("Jan 2, 2006"),
	}
}

// newestFirst returns a reversed copy of a chronological slice.
func newestFirst[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
