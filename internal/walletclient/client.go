// Package walletclient is a small HTTP client of the wallet API used by the CLI.
package walletclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/shopspring/decimal"
)

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// APIError is a non-2xx response of the wallet API.
type APIError struct {
	Status  int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("wallet api status=%d body=%s", e.Status, e.Message)
	}
	return fmt.Sprintf("wallet api status=%d %s: %s", e.Status, e.Kind, e.Message)
}

// AccountInfo is the response of GET /account.
type AccountInfo struct {
	models.Account
	Unread int `json:"unreadNotifications"`
	Sync   struct {
		Pending   int    `json:"pending"`
		LastError string `json:"lastError"`
	} `json:"sync"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Kind == "" {
		apiErr.Kind = ""
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	var out AccountInfo
	err := c.do(ctx, http.MethodGet, "/account", nil, &out)
	return out, err
}

func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var out models.Profile
	err := c.do(ctx, http.MethodGet, "/profile", nil, &out)
	return out, err
}

func (c *Client) Cards(ctx context.Context) ([]models.Card, error) {
	var out []models.Card
	err := c.do(ctx, http.MethodGet, "/cards", nil, &out)
	return out, err
}

func (c *Client) AddFunds(ctx context.Context, amount decimal.Decimal) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPost, "/account/funds", map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) Send(ctx context.Context, amount decimal.Decimal, recipient, note string) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPost, "/transfers/send", map[string]any{
		"amount":    amount,
		"recipient": recipient,
		"note":      note,
	}, &out)
	return out, err
}

func (c *Client) Pay(ctx context.Context, cardID string, amount decimal.Decimal, merchant, category string) (models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPost, "/cards/"+url.PathEscape(cardID)+"/payments", map[string]any{
		"amount":   amount,
		"merchant": merchant,
		"category": category,
	}, &out)
	return out, err
}

// Transactions returns the journal newest first, narrowed by the query
// parameters understood by GET /transactions.
func (c *Client) Transactions(ctx context.Context, query url.Values) ([]models.Transaction, error) {
	var out []models.Transaction
	err := c.do(ctx, http.MethodGet, "/transactions"+encodeQuery(query), nil, &out)
	return out, err
}

// ExportCSV copies the CSV export to w.
func (c *Client) ExportCSV(ctx context.Context, query url.Values, w io.Writer) error {
	return c.do(ctx, http.MethodGet, "/transactions/export"+encodeQuery(query), nil, w)
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
