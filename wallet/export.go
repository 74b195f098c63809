package wallet

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/alovak/wallet-playground/wallet/models"
)

var exportHeader = []string{"id", "type", "amount", "date", "from", "to", "status", "description"}

// WriteCSV writes txs as CSV with a header row, in the given order.
func WriteCSV(w io.Writer, txs []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, tx := range txs {
		record := []string{
			tx.ID,
			string(tx.Type),
			tx.Amount.String(),
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.From,
			tx.To,
			string(tx.Status),
			tx.Description,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing transaction %s: %w", tx.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
