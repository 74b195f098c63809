package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 20

// API is a HTTP API for the wallet service
type API struct {
	wallet *Service
}

func NewAPI(wallet *Service) *API {
	return &API{
		wallet: wallet,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.register)
		r.Post("/login", a.login)
	})
	r.Route("/profile", func(r chi.Router) {
		r.Get("/", a.getProfile)
		r.Patch("/", a.updateProfile)
		r.Patch("/preferences", a.updatePreferences)
		r.Post("/password", a.changePassword)
	})
	r.Get("/snapshot", a.getSnapshot)
	r.Route("/account", func(r chi.Router) {
		r.Get("/", a.getAccount)
		r.Post("/funds", a.addFunds)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/send", a.sendMoney)
		r.Post("/receive", a.receiveMoney)
	})
	r.Post("/conversions", a.convertCurrency)
	r.Route("/cards", func(r chi.Router) {
		r.Get("/", a.listCards)
		r.Post("/physical", a.requestPhysicalCard)
		r.Route("/{cardID}", func(r chi.Router) {
			r.Get("/", a.getCard)
			r.Post("/top-up", a.topUpCard)
			r.Post("/payments", a.makeCardPayment)
			r.Post("/freeze", a.freezeCard)
			r.Patch("/settings", a.updateCardSettings)
			r.Post("/limit", a.requestLimitIncrease)
			r.Post("/activate", a.activateCard)
			r.Post("/reveal", a.revealCard)
		})
	})
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", a.listTransactions)
		r.Get("/export", a.exportTransactions)
	})
	r.Route("/payment-requests", func(r chi.Router) {
		r.Get("/", a.listPaymentRequests)
		r.Post("/", a.createPaymentRequest)
		r.Patch("/{requestID}", a.updatePaymentRequest)
	})
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", a.listNotifications)
		r.Post("/read-all", a.markAllNotificationsRead)
		r.Post("/{notificationID}/read", a.markNotificationRead)
	})
	r.Get("/events", a.streamEvents)
}

// AppendAdminRoutes mounts administrative routes guarded by token, sent in the
// X-Admin-Token header.
func (a *API) AppendAdminRoutes(r chi.Router, token string) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if token == "" || req.Header.Get("X-Admin-Token") != token {
					writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: "admin token required"})
					return
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Delete("/transactions/{transactionID}", a.deleteTransaction)
		r.Get("/check", a.check)
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the wallet error taxonomy to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status, kind, msg := http.StatusInternalServerError, "internal_error", "internal error"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, kind, msg = http.StatusBadRequest, "validation_error", models.Reason(err)
	case errors.Is(err, models.ErrInsufficientFunds):
		status, kind, msg = http.StatusUnprocessableEntity, "insufficient_funds", models.Reason(err)
	case errors.Is(err, models.ErrNotFound):
		status, kind, msg = http.StatusNotFound, "not_found", models.Reason(err)
	case errors.Is(err, models.ErrInvalidState):
		status, kind, msg = http.StatusConflict, "invalid_state", models.Reason(err)
	case errors.Is(err, models.ErrPersistence):
		status, kind, msg = http.StatusServiceUnavailable, "persistence_error", err.Error()
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// respond writes a successful mutation result. A lagging backend is reported
// in the Warning header; the operation itself has been committed.
func (a *API) respond(w http.ResponseWriter, status int, v any) {
	if err := a.wallet.PersistenceErr(); err != nil {
		w.Header().Set("Warning", fmt.Sprintf("199 wallet %q", err.Error()))
	}
	writeJSON(w, status, v)
}

// decode validates the request body against schema and decodes it into v.
func decode(w http.ResponseWriter, r *http.Request, schema string, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: err.Error()})
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	violations, err := validateBody(schema, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: "malformed JSON body"})
		return false
	}
	if violations != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: violations})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: err.Error()})
		return false
	}
	return true
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decode(w, r, "register", &req) {
		return
	}
	snap, err := a.wallet.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, snap)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, "login", &req) {
		return
	}
	snap, err := a.wallet.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, snap)
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.wallet.Profile())
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	if !decode(w, r, "profile", &patch) {
		return
	}
	profile, err := a.wallet.UpdateProfile(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, profile)
}

func (a *API) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch models.PreferencesPatch
	if !decode(w, r, "preferences", &patch) {
		return
	}
	profile, err := a.wallet.UpdatePreferences(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, profile)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if !decode(w, r, "password", &req) {
		return
	}
	if err := a.wallet.ChangePassword(r.Context(), req.Current, req.New); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.wallet.Snapshot())
}

type accountResponse struct {
	models.Account
	Unread int        `json:"unreadNotifications"`
	Sync   SyncStatus `json:"sync"`
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, accountResponse{
		Account: a.wallet.Account(),
		Unread:  a.wallet.UnreadCount(),
		Sync:    a.wallet.SyncStatus(),
	})
}

func (a *API) addFunds(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, "amount", &req) {
		return
	}
	tx, err := a.wallet.AddFunds(r.Context(), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, tx)
}

func (a *API) sendMoney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Recipient string          `json:"recipient"`
		Note      string          `json:"note"`
	}
	if !decode(w, r, "send", &req) {
		return
	}
	tx, err := a.wallet.SendMoney(r.Context(), req.Amount, req.Recipient, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, tx)
}

func (a *API) receiveMoney(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Sender string          `json:"sender"`
		Note   string          `json:"note"`
	}
	if !decode(w, r, "receive", &req) {
		return
	}
	tx, err := a.wallet.ReceiveMoney(r.Context(), req.Amount, req.Sender, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, tx)
}

func (a *API) convertCurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		From   string          `json:"from"`
		To     string          `json:"to"`
	}
	if !decode(w, r, "convert", &req) {
		return
	}
	conv, err := a.wallet.ConvertCurrency(r.Context(), req.Amount, req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, conv)
}

func (a *API) listCards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.wallet.Cards())
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.wallet.Card(chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) requestPhysicalCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.wallet.RequestPhysicalCard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, card)
}

func (a *API) topUpCard(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, "amount", &req) {
		return
	}
	tx, err := a.wallet.TopUpCard(r.Context(), chi.URLParam(r, "cardID"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, tx)
}

func (a *API) makeCardPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Merchant string          `json:"merchant"`
		Category string          `json:"category"`
	}
	if !decode(w, r, "payment", &req) {
		return
	}
	tx, err := a.wallet.MakeCardPayment(r.Context(), chi.URLParam(r, "cardID"), req.Amount, req.Merchant, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, tx)
}

func (a *API) freezeCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Freeze bool `json:"freeze"`
	}
	if !decode(w, r, "freeze", &req) {
		return
	}
	card, err := a.wallet.FreezeCard(r.Context(), chi.URLParam(r, "cardID"), req.Freeze)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, card)
}

func (a *API) updateCardSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.SettingsPatch
	if !decode(w, r, "settings", &patch) {
		return
	}
	card, err := a.wallet.UpdateCardSettings(r.Context(), chi.URLParam(r, "cardID"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, card)
}

func (a *API) requestLimitIncrease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit decimal.Decimal `json:"limit"`
	}
	if !decode(w, r, "limit", &req) {
		return
	}
	card, err := a.wallet.RequestLimitIncrease(r.Context(), chi.URLParam(r, "cardID"), req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, card)
}

func (a *API) activateCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.wallet.ActivateCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, card)
}

func (a *API) revealCard(w http.ResponseWriter, r *http.Request) {
	reveal, err := a.wallet.RevealCard(r.Context(), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.respond(w, http.StatusOK, reveal)
}

// listTransactions returns the journal newest first. Query parameters:
// q (search), type and status (comma separated), from and to (YYYY-MM-DD or
// RFC 3339, inclusive), min and max (inclusive).
func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	txs := Filter(a.wallet.SearchTransactions(r.URL.Query().Get("q")), f)
	writeJSON(w, http.StatusOK, txs)
}

func (a *API) exportTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	txs := Filter(a.wallet.SearchTransactions(r.URL.Query().Get("q")), f)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
	if err := WriteCSV(w, txs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	for _, t := range splitList(q["type"]) {
		f.Types = append(f.Types, models.TransactionType(t))
	}
	for _, s := range splitList(q["status"]) {
		f.Statuses = append(f.Statuses, models.TransactionStatus(s))
	}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = parseTime(v, false); err != nil {
			return Filters{}, fmt.Errorf("from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = parseTime(v, true); err != nil {
			return Filters{}, fmt.Errorf("to: %w", err)
		}
	}
	if v := q.Get("min"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Filters{}, fmt.Errorf("min: %w", err)
		}
		f.Min = decimal.NewNullDecimal(d)
	}
	if v := q.Get("max"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Filters{}, fmt.Errorf("max: %w", err)
		}
		f.Max = decimal.NewNullDecimal(d)
	}
	return f, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseTime accepts RFC 3339 or a date. A date used as an upper bound means
// the end of that day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (a *API) listPaymentRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.wallet.PaymentRequests())
}

func (a *API) createPaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		To          string          `json:"to"`
	}
	if !decode(w, r, "request", &req) {
		return
	}
	pr, err := a.wallet.CreatePaymentRequest(r.Context(), req.Amount, req.Description, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusCreated, pr)
}

func (a *API) updatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.PaymentRequestStatus `json:"status"`
	}
	if !decode(w, r, "requestStatus", &req) {
		return
	}
	pr, err := a.wallet.UpdatePaymentRequest(r.Context(), chi.URLParam(r, "requestID"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, pr)
}

type notificationsResponse struct {
	Unread int                   `json:"unread"`
	Items  []models.Notification `json:"items"`
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread: a.wallet.UnreadCount(),
		Items:  a.wallet.Notifications(),
	})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.wallet.MarkNotificationRead(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, n)
}

func (a *API) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.wallet.MarkAllNotificationsRead(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]int{"marked": n})
}

func (a *API) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := a.wallet.DeleteTransaction(r.Context(), chi.URLParam(r, "transactionID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) check(w http.ResponseWriter, r *http.Request) {
	problems := a.wallet.Check()
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"problems": problems, "sync": a.wallet.SyncStatus()})
}

// streamEvents sends committed events as server-sent events until the client
// goes away.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, cancel := a.wallet.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
