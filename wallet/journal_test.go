package wallet_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/alovak/wallet-playground/wallet"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func journalFixture() []models.Transaction {
	day := func(d int) time.Time { return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC) }
	return []models.Transaction{
		{ID: "1", Type: models.TxAddFunds, Amount: dec("100"), Timestamp: day(1), From: "Bank Transfer", Status: models.TxCompleted, Description: "Funds added to wallet"},
		{ID: "2", Type: models.TxSend, Amount: dec("12.5"), Timestamp: day(3), From: "Ann", To: "Alice", Status: models.TxCompleted, Description: "Dinner"},
		{ID: "3", Type: models.TxCardPayment, Amount: dec("49.99"), Timestamp: day(7), From: "**** **** **** 4242", To: "Amazon", Status: models.TxCompleted, Description: "Card payment at Amazon"},
		{ID: "4", Type: models.TxPaymentRequest, Amount: dec("20"), Timestamp: day(7), From: "Ann", To: "Bob", Status: models.TxPending, Description: "Concert tickets"},
		{ID: "5", Type: models.TxConvert, Amount: dec("0.0015"), Timestamp: day(10), From: "BTC", To: "EUR", Status: models.TxCompleted, Description: "Converted 0.0015 BTC to 40.5 EUR"},
	}
}

func ids(txs []models.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.ID)
	}
	return out
}

func TestSearch(t *testing.T) {
	txs := journalFixture()

	require.Equal(t, txs, wallet.Search(txs, ""))
	require.Equal(t, txs, wallet.Search(txs, "   "))

	cases := []struct {
		query string
		want  []string
	}{
		{"AMAZON", []string{"3"}},
		{"alice", []string{"2"}},
		{"card_payment", []string{"3"}},
		{"12.50", []string{"2"}},
		{"49.99", []string{"3"}},
		{"0.0015", []string{"5"}},
		{"2024-03-07", []string{"3", "4"}},
		{"Mar 3, 2024", []string{"2"}},
		{"tickets", []string{"4"}},
		{"nothing like this", []string{}},
	}
	for _, c := range cases {
		t.Run(c.query, func(t *testing.T) {
			require.Equal(t, c.want, ids(wallet.Search(txs, c.query)))
		})
	}
}

func TestFilter(t *testing.T) {
	txs := journalFixture()

	require.Equal(t, txs, wallet.Filter(txs, wallet.Filters{}))

	byType := wallet.Filters{Types: []models.TransactionType{models.TxSend, models.TxCardPayment}}
	require.Equal(t, []string{"2", "3"}, ids(wallet.Filter(txs, byType)))

	byStatus := wallet.Filters{Statuses: []models.TransactionStatus{models.TxPending}}
	require.Equal(t, []string{"4"}, ids(wallet.Filter(txs, byStatus)))

	// bounds are inclusive
	byDate := wallet.Filters{
		From: time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC),
		To:   time.Date(2024, time.March, 7, 12, 0, 0, 0, time.UTC),
	}
	require.Equal(t, []string{"2", "3", "4"}, ids(wallet.Filter(txs, byDate)))

	byAmount := wallet.Filters{Min: decimal.NewNullDecimal(dec("12.5")), Max: decimal.NewNullDecimal(dec("49.99"))}
	require.Equal(t, []string{"2", "3", "4"}, ids(wallet.Filter(txs, byAmount)))

	t.Run("composition", func(t *testing.T) {
		both := wallet.Filters{
			Types: byType.Types,
			From:  byDate.From,
			To:    byDate.To,
			Min:   decimal.NewNullDecimal(dec("20")),
		}
		chained := wallet.Filter(wallet.Filter(wallet.Filter(txs, byType), byDate), wallet.Filters{Min: both.Min})
		require.Equal(t, ids(wallet.Filter(txs, both)), ids(chained))
		require.Equal(t, []string{"3"}, ids(chained))

		// search and filter commute
		require.Equal(t,
			ids(wallet.Search(wallet.Filter(txs, byDate), "ann")),
			ids(wallet.Filter(wallet.Search(txs, "ann"), byDate)),
		)
	})
}

func TestWriteCSV(t *testing.T) {
	txs := journalFixture()[1:3]
	txs[0].Description = `Dinner, "the good place"`

	var buf bytes.Buffer
	require.NoError(t, wallet.WriteCSV(&buf, txs))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"id", "type", "amount", "date", "from", "to", "status", "description"}, records[0])
	require.Equal(t, []string{"2", "send", "12.5", "2024-03-03T12:00:00Z", "Ann", "Alice", "completed", `Dinner, "the good place"`}, records[1])
	require.Equal(t, "49.99", records[2][2])

	buf.Reset()
	require.NoError(t, wallet.WriteCSV(&buf, nil))
	require.Equal(t, "id,type,amount,date,from,to,status,description\n", buf.String())
}
