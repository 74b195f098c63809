package walletclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/account":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"a1","balance":"1100","currency":"USD","unreadNotifications":2,"sync":{"pending":0}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/transfers/send":
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"insufficient_funds","message":"balance 50.00 is less than 100.00"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/transactions":
			if r.URL.Query().Get("q") != "coffee" {
				http.Error(w, "missing query", http.StatusBadRequest)
				return
			}
			w.Write([]byte(`[{"id":"t1","type":"send","amount":"4.5","status":"completed"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/transactions/export":
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("id,type\nt1,send\n"))
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	ctx := context.Background()

	acc, err := c.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", acc.ID)
	require.True(t, acc.Balance.Equal(decimal.NewFromInt(1100)))
	require.Equal(t, 2, acc.Unread)

	_, err = c.Send(ctx, decimal.NewFromInt(100), "bob", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "insufficient_funds", apiErr.Kind)
	require.Equal(t, "bob", gotBody["recipient"])

	txs, err := c.Transactions(ctx, url.Values{"q": {"coffee"}})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.True(t, txs[0].Amount.Equal(decimal.RequireFromString("4.5")))

	var csv strings.Builder
	require.NoError(t, c.ExportCSV(ctx, nil, &csv))
	require.Contains(t, csv.String(), "t1,send")

	_, err = c.Cards(ctx)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTeapot, apiErr.Status)
	require.Equal(t, "nope", apiErr.Message)
}
