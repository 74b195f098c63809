package wallet_test

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alovak/wallet-playground/wallet"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const adminToken = "s3cret"

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPI(t *testing.T) (*apiClient, *wallet.Service) {
	t.Helper()
	svc := newService(t, nil, nil)
	api := wallet.NewAPI(svc)
	r := chi.NewRouter()
	api.AppendRoutes(r)
	api.AppendAdminRoutes(r, adminToken)
	return &apiClient{t: t, router: r}, svc
}

func (c *apiClient) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func requireAPIError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Equal(t, kind, decodeBody[apiError](t, w).Error)
}

func TestAPI(t *testing.T) {
	c, _ := newAPI(t)

	// nothing works before registration
	requireAPIError(t, c.do(http.MethodPost, "/account/funds", `{"amount": 10}`), http.StatusConflict, "invalid_state")

	w := c.do(http.MethodPost, "/auth/register", `{"name":"Ann Lee","email":"ann@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := decodeBody[wallet.Snapshot](t, w)
	require.Len(t, snap.Cards, 1)
	card := snap.Cards[0]
	require.Empty(t, card.FullNumber)
	require.NotContains(t, w.Body.String(), "passwordHash")

	t.Run("add funds", func(t *testing.T) {
		w := c.do(http.MethodPost, "/account/funds", `{"amount": "100"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		tx := decodeBody[models.Transaction](t, w)
		require.Equal(t, models.TxAddFunds, tx.Type)

		w = c.do(http.MethodGet, "/account", "")
		require.Equal(t, http.StatusOK, w.Code)
		acc := decodeBody[struct {
			Balance string `json:"balance"`
			Unread  int    `json:"unreadNotifications"`
		}](t, w)
		require.Equal(t, "1100", acc.Balance)
		require.Equal(t, 2, acc.Unread)
	})

	t.Run("schema rejections", func(t *testing.T) {
		requireAPIError(t, c.do(http.MethodPost, "/transfers/send", `{"amount": 10}`), http.StatusBadRequest, "validation_error")
		requireAPIError(t, c.do(http.MethodPost, "/account/funds", `{"amount": "ten"}`), http.StatusBadRequest, "validation_error")
		requireAPIError(t, c.do(http.MethodPost, "/account/funds", `{"amount":`), http.StatusBadRequest, "validation_error")
		requireAPIError(t, c.do(http.MethodPatch, "/cards/"+card.ID+"/settings", `{"pin": "1234"}`), http.StatusBadRequest, "validation_error")
		requireAPIError(t, c.do(http.MethodPost, "/account/funds", `{"amount": -5}`), http.StatusBadRequest, "validation_error")
	})

	t.Run("error mapping", func(t *testing.T) {
		requireAPIError(t, c.do(http.MethodPost, "/transfers/send", `{"amount": 5000, "recipient": "bob"}`), http.StatusUnprocessableEntity, "insufficient_funds")
		requireAPIError(t, c.do(http.MethodGet, "/cards/missing", ""), http.StatusNotFound, "not_found")
		requireAPIError(t, c.do(http.MethodPost, "/cards/"+card.ID+"/limit", `{"limit": 1500}`), http.StatusConflict, "invalid_state")
	})

	t.Run("card lifecycle", func(t *testing.T) {
		w := c.do(http.MethodPost, "/cards/"+card.ID+"/freeze", `{"freeze": true}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, models.CardFrozen, decodeBody[models.Card](t, w).Status)

		requireAPIError(t, c.do(http.MethodPost, "/cards/"+card.ID+"/payments", `{"amount": 5, "merchant": "Cafe"}`), http.StatusConflict, "invalid_state")

		w = c.do(http.MethodPost, "/cards/"+card.ID+"/freeze", `{"freeze": false}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = c.do(http.MethodPost, "/cards/"+card.ID+"/payments", `{"amount": 5, "merchant": "Cafe", "category": "Food"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = c.do(http.MethodPatch, "/cards/"+card.ID+"/settings", `{"internationalPayments": true}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.True(t, decodeBody[models.Card](t, w).Settings.InternationalPayments)

		w = c.do(http.MethodPost, "/cards/"+card.ID+"/reveal", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		require.Len(t, decodeBody[models.Reveal](t, w).FullNumber, 16)

		w = c.do(http.MethodPost, "/cards/physical", "")
		require.Equal(t, http.StatusCreated, w.Code)
		physical := decodeBody[models.Card](t, w)
		require.Equal(t, models.CardInactive, physical.Status)

		w = c.do(http.MethodPost, "/cards/"+physical.ID+"/activate", "")
		require.Equal(t, http.StatusOK, w.Code)

		w = c.do(http.MethodGet, "/cards", "")
		require.Len(t, decodeBody[[]models.Card](t, w), 2)
	})

	t.Run("transactions", func(t *testing.T) {
		w := c.do(http.MethodPost, "/transfers/send", `{"amount": "12.50", "recipient": "Alice", "note": "Dinner"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = c.do(http.MethodGet, "/transactions", "")
		require.Equal(t, http.StatusOK, w.Code)
		all := decodeBody[[]models.Transaction](t, w)
		require.Len(t, all, 3)
		require.Equal(t, models.TxSend, all[0].Type)

		w = c.do(http.MethodGet, "/transactions?q=dinner", "")
		require.Len(t, decodeBody[[]models.Transaction](t, w), 1)

		w = c.do(http.MethodGet, "/transactions?type=add_funds,card_payment&min=10", "")
		hits := decodeBody[[]models.Transaction](t, w)
		require.Len(t, hits, 1)
		require.Equal(t, models.TxAddFunds, hits[0].Type)

		today := time.Now().UTC().Format("2006-01-02")
		w = c.do(http.MethodGet, "/transactions?from="+today+"&to="+today, "")
		require.Len(t, decodeBody[[]models.Transaction](t, w), 3)

		requireAPIError(t, c.do(http.MethodGet, "/transactions?from=yesterday", ""), http.StatusBadRequest, "validation_error")

		w = c.do(http.MethodGet, "/transactions/export?type=send", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "Alice", records[1][5])
	})

	t.Run("payment requests", func(t *testing.T) {
		w := c.do(http.MethodPost, "/payment-requests", `{"amount": 20, "description": "Tickets", "to": "Bob"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		req := decodeBody[models.PaymentRequest](t, w)
		require.Equal(t, models.RequestPending, req.Status)

		requireAPIError(t, c.do(http.MethodPatch, "/payment-requests/"+req.ID, `{"status": "pending"}`), http.StatusBadRequest, "validation_error")

		w = c.do(http.MethodPatch, "/payment-requests/"+req.ID, `{"status": "cancelled"}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, models.RequestCancelled, decodeBody[models.PaymentRequest](t, w).Status)

		requireAPIError(t, c.do(http.MethodPatch, "/payment-requests/"+req.ID, `{"status": "completed"}`), http.StatusConflict, "invalid_state")

		w = c.do(http.MethodGet, "/payment-requests", "")
		require.Len(t, decodeBody[[]models.PaymentRequest](t, w), 1)
	})

	t.Run("notifications", func(t *testing.T) {
		w := c.do(http.MethodGet, "/notifications", "")
		require.Equal(t, http.StatusOK, w.Code)
		feed := decodeBody[struct {
			Unread int                   `json:"unread"`
			Items  []models.Notification `json:"items"`
		}](t, w)
		require.Positive(t, feed.Unread)
		require.Len(t, feed.Items, feed.Unread)

		w = c.do(http.MethodPost, "/notifications/"+feed.Items[0].ID+"/read", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.True(t, decodeBody[models.Notification](t, w).Read)

		w = c.do(http.MethodPost, "/notifications/read-all", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, feed.Unread-1, decodeBody[map[string]int](t, w)["marked"])
	})

	t.Run("profile", func(t *testing.T) {
		w := c.do(http.MethodPatch, "/profile", `{"name": "Ann Smith"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, "Ann Smith", decodeBody[models.Profile](t, w).Name)

		w = c.do(http.MethodPatch, "/profile/preferences", `{"twoFactorEnabled": true}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.True(t, decodeBody[models.Profile](t, w).Preferences.TwoFactorEnabled)

		requireAPIError(t, c.do(http.MethodPost, "/profile/password", `{"current": "wrong password", "new": "another secret"}`), http.StatusBadRequest, "validation_error")
		w = c.do(http.MethodPost, "/profile/password", `{"current": "correct horse", "new": "another secret"}`)
		require.Equal(t, http.StatusNoContent, w.Code)

		requireAPIError(t, c.do(http.MethodPost, "/auth/login", `{"email": "ann@example.com", "password": "correct horse"}`), http.StatusBadRequest, "validation_error")
		w = c.do(http.MethodPost, "/auth/login", `{"email": "ann@example.com", "password": "another secret"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("conversions", func(t *testing.T) {
		w := c.do(http.MethodPost, "/conversions", `{"amount": 10, "from": "USD", "to": "GBP"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		conv := decodeBody[wallet.Conversion](t, w)
		require.Equal(t, "7.9", conv.Converted.String())

		requireAPIError(t, c.do(http.MethodPost, "/conversions", `{"amount": 10, "from": "USD", "to": "USD"}`), http.StatusBadRequest, "validation_error")
	})
}

func TestAPI_AdminRoutes(t *testing.T) {
	c, svc := newAPI(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, owner)
	require.NoError(t, err)
	tx, err := svc.AddFunds(ctx, dec("10"))
	require.NoError(t, err)

	requireAPIError(t, c.do(http.MethodGet, "/admin/check", ""), http.StatusForbidden, "forbidden")
	requireAPIError(t, c.do(http.MethodDelete, "/admin/transactions/"+tx.ID, "", "X-Admin-Token", "wrong"), http.StatusForbidden, "forbidden")

	w := c.do(http.MethodGet, "/admin/check", "", "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decodeBody[struct {
		Problems []string `json:"problems"`
	}](t, w).Problems)

	w = c.do(http.MethodDelete, "/admin/transactions/"+tx.ID, "", "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Empty(t, svc.Journal())

	requireAPIError(t, c.do(http.MethodDelete, "/admin/transactions/"+tx.ID, "", "X-Admin-Token", adminToken), http.StatusNotFound, "not_found")
}

func TestAPI_Events(t *testing.T) {
	_, svc := newAPI(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, owner)
	require.NoError(t, err)

	api := wallet.NewAPI(svc)
	r := chi.NewRouter()
	api.AppendRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription exists once the headers are flushed
	_, err = svc.AddFunds(ctx, dec("1"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() && len(lines) < 2 {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	require.Equal(t, "event: transaction.committed", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: {"))
}
