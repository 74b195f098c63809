package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/alovak/wallet-playground/internal/rates"
	"github.com/alovak/wallet-playground/internal/security"
	"github.com/alovak/wallet-playground/internal/store"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// Service is the operation layer of the wallet: the only code that mutates the
// ledger. Every operation holds the write lock for its whole
// validate, mutate, journal, notify sequence and then queues its backend writes.
type Service struct {
	cfg     *Config
	logger  *slog.Logger
	backend store.Backend
	syncer  *Syncer
	rates   rates.Provider
	cards   *cardIssuer
	bus     *bus
	now     func() time.Time

	mu     sync.RWMutex
	ledger *Ledger
}

func NewService(logger *slog.Logger, cfg *Config, backend store.Backend, provider rates.Provider) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if provider == nil {
		provider = rates.DefaultStatic()
	}
	logger = logger.With(slog.String("component", "service"))
	return &Service{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		syncer:  NewSyncer(logger, backend, cfg.SyncRetryMax),
		rates:   provider,
		cards:   newCardIssuer(logger, cfg),
		bus:     newBus(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close ends all subscriptions, flushes pending writes until ctx is done and
// stops the syncer.
func (s *Service) Close(ctx context.Context) error {
	s.bus.close()
	flushErr := s.syncer.Flush(ctx)
	closeErr := s.syncer.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Flush blocks until all committed changes reached the backend.
func (s *Service) Flush(ctx context.Context) error { return s.syncer.Flush(ctx) }

func (s *Service) SyncStatus() SyncStatus { return s.syncer.Status() }

// PersistenceErr returns a *models.PersistenceError while backend writes fail.
func (s *Service) PersistenceErr() error { return s.syncer.Err() }

// Subscribe returns a channel of committed events and a function releasing it.
// A subscriber that falls more than buffer events behind loses events.
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.subscribe(buffer)
}

// CloseSubscriptions closes every subscriber channel. Later Subscribe calls
// get a closed channel.
func (s *Service) CloseSubscriptions() { s.bus.close() }

// commit hands the changes of a finished operation to the syncer and publishes
// its events. Must be called with the write lock held.
func (s *Service) commit(events ...Event) {
	s.syncer.enqueue(s.ledger.drain()...)
	s.bus.publish(events...)
	if err := s.syncer.Err(); err != nil {
		s.logger.Warn("persistence is lagging behind", slog.Any("err", err))
	}
}

func (s *Service) session(op string) error {
	if s.ledger == nil {
		return models.InvalidState(op, "no active session")
	}
	return nil
}

func requirePositive(op, field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return models.Validation(op, "%s must be greater than zero", field)
	}
	return nil
}

// commitTransaction posts p and appends tx with its notification. currency is
// the currency of tx.Amount. tx.CardAmount records what the card really moved
// by, which is less than the amount when the posting floored the card. also runs after the posting succeeded and
// before the journal append, for operations owning more than the journal entry.
func (s *Service) commitTransaction(op string, tx models.Transaction, currency string, p posting, also ...func() []Event) (models.Transaction, error) {
	l := s.ledger
	now := s.now()
	tx.ID = uuid.New().String()
	tx.Timestamp = now
	if tx.Status == "" {
		tx.Status = models.TxCompleted
	}

	n, err := transactionNotification(tx, currency, now)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}
	if !p.isZero() {
		moved, err := l.post(op, p)
		if err != nil {
			return models.Transaction{}, err
		}
		tx.CardAmount = moved
	}
	var events []Event
	for _, f := range also {
		events = append(events, f()...)
	}
	tx = l.appendTransaction(tx)
	n = l.appendNotification(n)

	events = append(events, transactionEvent(tx), notificationEvent(n))
	if p.cardID != "" {
		if i := l.cardIndex(p.cardID); i >= 0 {
			events = append(events, cardEvent(l.cards[i]))
		}
	}
	s.commit(events...)

	s.logger.Info("transaction committed",
		slog.String("op", op),
		slog.String("id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.String("amount", tx.Amount.String()),
	)
	return tx, nil
}

// notify appends a notice that is not tied to a journal entry.
func (s *Service) notify(category models.NotificationCategory, title, message string, extra ...Event) models.Notification {
	n := s.ledger.appendNotification(notice(category, title, message, s.now()))
	s.commit(append(extra, notificationEvent(n))...)
	return n
}

func (s *Service) virtualCardID() string {
	if c, ok := s.ledger.cardOfKind(models.CardVirtual); ok {
		return c.ID
	}
	return ""
}

func (s *Service) findCard(op, id string) (int, error) {
	i := s.ledger.cardIndex(id)
	if i < 0 {
		return -1, models.NotFound(op, "card %s not found", id)
	}
	return i, nil
}

// AddFunds credits the account and its virtual card.
func (s *Service) AddFunds(ctx context.Context, amount decimal.Decimal) (models.Transaction, error) {
	const op = "addFunds"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Transaction{}, err
	}

	card := s.virtualCardID()
	tx := models.Transaction{
		Type:        models.TxAddFunds,
		Amount:      amount,
		From:        "Bank Transfer",
		Description: "Funds added to wallet",
		Category:    "Deposit",
		CardID:      card,
	}
	return s.commitTransaction(op, tx, s.ledger.account.Currency, posting{account: amount, cardID: card, card: amount})
}

// SendMoney debits the account and mirrors the debit on the virtual card.
func (s *Service) SendMoney(ctx context.Context, amount decimal.Decimal, recipient, note string) (models.Transaction, error) {
	const op = "sendMoney"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.Transaction{}, err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return models.Transaction{}, models.Validation(op, "recipient is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Transaction{}, err
	}

	l := s.ledger
	if l.account.Balance.LessThan(amount) {
		return models.Transaction{}, models.InsufficientFunds(op, "balance %s is less than %s", l.account.Balance.StringFixed(2), amount.StringFixed(2))
	}

	description := strings.TrimSpace(note)
	if description == "" {
		description = "Payment to " + recipient
	}
	card := s.virtualCardID()
	tx := models.Transaction{
		Type:        models.TxSend,
		Amount:      amount,
		From:        l.profile.Name,
		To:          recipient,
		Description: description,
		Category:    "Transfer",
		CardID:      card,
	}
	return s.commitTransaction(op, tx, l.account.Currency, posting{
		account:   amount.Neg(),
		cardID:    card,
		card:      amount.Neg(),
		floorCard: true,
	})
}

// ReceiveMoney credits the account and the virtual card.
func (s *Service) ReceiveMoney(ctx context.Context, amount decimal.Decimal, sender, note string) (models.Transaction, error) {
	const op = "receiveMoney"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.Transaction{}, err
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		sender = "Unknown sender"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Transaction{}, err
	}

	description := strings.TrimSpace(note)
	if description == "" {
		description = "Payment from " + sender
	}
	card := s.virtualCardID()
	tx := models.Transaction{
		Type:        models.TxReceive,
		Amount:      amount,
		From:        sender,
		To:          s.ledger.profile.Name,
		Description: description,
		Category:    "Transfer",
		CardID:      card,
	}
	return s.commitTransaction(op, tx, s.ledger.account.Currency, posting{account: amount, cardID: card, card: amount})
}

// Conversion is the result of ConvertCurrency.
type Conversion struct {
	Transaction models.Transaction `json:"transaction"`
	Rate        decimal.Decimal    `json:"rate"`
	Converted   decimal.Decimal    `json:"converted"`
}

// ConvertCurrency converts amount of from into to at the provider rate.
// Converting from the cash currency debits the account; other conversions are
// recorded in the journal only.
func (s *Service) ConvertCurrency(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	const op = "convertCurrency"
	if err := requirePositive(op, "amount", amount); err != nil {
		return Conversion{}, err
	}
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return Conversion{}, models.Validation(op, "source and target currencies are required")
	}
	if from == to {
		return Conversion{}, models.Validation(op, "cannot convert %s to itself", from)
	}
	rate, err := s.rates.Rate(from, to)
	if err != nil {
		if errors.Is(err, rates.ErrUnknownCurrency) {
			return Conversion{}, models.Validation(op, "%v", err)
		}
		return Conversion{}, fmt.Errorf("%s: rate lookup: %w", op, err)
	}
	converted := amount.Mul(rate).Round(8)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return Conversion{}, err
	}

	l := s.ledger
	var p posting
	var card string
	if from == l.account.Currency {
		if l.account.Balance.LessThan(amount) {
			return Conversion{}, models.InsufficientFunds(op, "balance %s is less than %s", l.account.Balance.StringFixed(2), amount.StringFixed(2))
		}
		card = s.virtualCardID()
		p = posting{account: amount.Neg(), cardID: card, card: amount.Neg(), floorCard: true}
	}

	tx := models.Transaction{
		Type:        models.TxConvert,
		Amount:      amount,
		From:        from,
		To:          to,
		Description: fmt.Sprintf("Converted %s %s to %s %s", amount.String(), from, converted.String(), to),
		Category:    "Exchange",
		CardID:      card,
	}
	tx, err = s.commitTransaction(op, tx, from, p)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{Transaction: tx, Rate: rate, Converted: converted}, nil
}

// TopUpCard credits the card and the account. Frozen cards can be funded.
func (s *Service) TopUpCard(ctx context.Context, cardID string, amount decimal.Decimal) (models.Transaction, error) {
	const op = "topUpCard"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Transaction{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Transaction{}, err
	}

	card := s.ledger.cards[i]
	tx := models.Transaction{
		Type:        models.TxAddFunds,
		Amount:      amount,
		From:        "Bank Transfer",
		To:          cardLabel(card),
		Description: "Card top-up",
		Category:    "Deposit",
		CardID:      card.ID,
	}
	return s.commitTransaction(op, tx, s.ledger.account.Currency, posting{account: amount, cardID: card.ID, card: amount})
}

// MakeCardPayment pays merchant with the card, debiting card and account.
func (s *Service) MakeCardPayment(ctx context.Context, cardID string, amount decimal.Decimal, merchant, category string) (models.Transaction, error) {
	const op = "makeCardPayment"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.Transaction{}, err
	}
	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		return models.Transaction{}, models.Validation(op, "merchant is required")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = "General"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Transaction{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Transaction{}, err
	}

	card := s.ledger.cards[i]
	switch card.Status {
	case models.CardFrozen:
		return models.Transaction{}, models.InvalidState(op, "card is frozen")
	case models.CardInactive:
		return models.Transaction{}, models.InvalidState(op, "card is not activated")
	}
	expired, err := s.cards.expiry.Expired(card.Expiry, s.now())
	if err != nil {
		s.logger.Error("unreadable card expiry", slog.String("card", card.ID), slog.Any("err", err))
		return models.Transaction{}, models.InvalidState(op, "card expiry %q is unreadable", card.Expiry)
	}
	if expired {
		return models.Transaction{}, models.InvalidState(op, "card expired %s", card.Expiry)
	}
	if card.Balance.LessThan(amount) {
		return models.Transaction{}, models.InsufficientFunds(op, "card balance %s is less than %s", card.Balance.StringFixed(2), amount.StringFixed(2))
	}
	if s.ledger.account.Balance.LessThan(amount) {
		return models.Transaction{}, models.InsufficientFunds(op, "balance %s is less than %s", s.ledger.account.Balance.StringFixed(2), amount.StringFixed(2))
	}

	tx := models.Transaction{
		Type:        models.TxCardPayment,
		Amount:      amount,
		From:        card.MaskedNumber,
		To:          merchant,
		Description: "Card payment at " + merchant,
		Category:    category,
		CardID:      card.ID,
	}
	return s.commitTransaction(op, tx, s.ledger.account.Currency, posting{account: amount.Neg(), cardID: card.ID, card: amount.Neg()})
}

// FreezeCard toggles a card between active and frozen.
func (s *Service) FreezeCard(ctx context.Context, cardID string, freeze bool) (models.Card, error) {
	const op = "freezeCard"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Card{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Card{}, err
	}

	card := s.ledger.cards[i]
	if card.Status == models.CardInactive {
		return models.Card{}, models.InvalidState(op, "card is not activated")
	}
	title, verb := "Card Unfrozen", "unfrozen"
	card.Status = models.CardActive
	if freeze {
		title, verb = "Card Frozen", "frozen"
		card.Status = models.CardFrozen
	}
	s.ledger.setCard(i, card)
	s.notify(models.NotifySecurity, title, fmt.Sprintf("Your %s has been %s.", cardLabel(card), verb), cardEvent(card))
	return card.Redacted(), nil
}

// UpdateCardSettings merges patch into the card settings. Frozen cards reject it.
func (s *Service) UpdateCardSettings(ctx context.Context, cardID string, patch models.SettingsPatch) (models.Card, error) {
	const op = "updateCardSettings"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Card{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Card{}, err
	}

	card := s.ledger.cards[i]
	if card.Status == models.CardFrozen {
		return models.Card{}, models.InvalidState(op, "card is frozen")
	}
	if patch.IsEmpty() {
		return card.Redacted(), nil
	}
	card.Settings = card.Settings.Apply(patch)
	s.ledger.setCard(i, card)
	s.commit(cardEvent(card))
	return card.Redacted(), nil
}

// RequestLimitIncrease raises the card limit. Lower or equal limits are rejected.
func (s *Service) RequestLimitIncrease(ctx context.Context, cardID string, newLimit decimal.Decimal) (models.Card, error) {
	const op = "requestLimitIncrease"
	if err := requirePositive(op, "limit", newLimit); err != nil {
		return models.Card{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Card{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Card{}, err
	}

	card := s.ledger.cards[i]
	if newLimit.LessThanOrEqual(card.Limit) {
		return models.Card{}, models.InvalidState(op, "new limit %s must exceed current limit %s", newLimit.StringFixed(2), card.Limit.StringFixed(2))
	}
	card.Limit = newLimit
	s.ledger.setCard(i, card)
	s.notify(models.NotifySystem, "Limit Increased",
		fmt.Sprintf("The limit of your %s is now %s.", cardLabel(card), formatAmount(newLimit, s.ledger.account.Currency)),
		cardEvent(card))
	return card.Redacted(), nil
}

// RequestPhysicalCard issues the physical card, inactive and empty.
func (s *Service) RequestPhysicalCard(ctx context.Context) (models.Card, error) {
	const op = "requestPhysicalCard"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Card{}, err
	}
	if _, ok := s.ledger.cardOfKind(models.CardPhysical); ok {
		return models.Card{}, models.InvalidState(op, "a physical card already exists")
	}

	card, err := s.cards.issue(models.CardPhysical, s.ledger.account.ID, s.ledger.profile.Name,
		decimal.Zero, models.CardInactive, s.now(), s.panExists(ctx))
	if err != nil {
		return models.Card{}, fmt.Errorf("%s: %w", op, err)
	}
	s.ledger.addCard(card)
	s.notify(models.NotifySystem, "Physical Card Requested",
		fmt.Sprintf("Your %s is on its way. Activate it once it arrives.", cardLabel(card)),
		cardEvent(card))
	return card.Redacted(), nil
}

// ActivateCard promotes an inactive card to active.
func (s *Service) ActivateCard(ctx context.Context, cardID string) (models.Card, error) {
	const op = "activateCard"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Card{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Card{}, err
	}

	card := s.ledger.cards[i]
	if card.Status != models.CardInactive {
		return models.Card{}, models.InvalidState(op, "card is already activated")
	}
	card.Status = models.CardActive
	s.ledger.setCard(i, card)
	s.notify(models.NotifySecurity, "Card Activated", fmt.Sprintf("Your %s is now active.", cardLabel(card)), cardEvent(card))
	return card.Redacted(), nil
}

// RevealCard returns the full card number and CVV.
func (s *Service) RevealCard(ctx context.Context, cardID string) (models.Reveal, error) {
	const op = "revealCard"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Reveal{}, err
	}
	i, err := s.findCard(op, cardID)
	if err != nil {
		return models.Reveal{}, err
	}

	card := s.ledger.cards[i]
	s.notify(models.NotifySecurity, "Card Details Viewed", fmt.Sprintf("The details of your %s were revealed.", cardLabel(card)))
	return models.Reveal{
		CardID:     card.ID,
		FullNumber: card.FullNumber,
		FullCVV:    card.FullCVV,
		Expiry:     card.Expiry,
		HolderName: card.HolderName,
	}, nil
}

// CardPAN returns the PAN of a card for in-process integrations such as the
// card network forwarder. It does not notify the owner.
func (s *Service) CardPAN(cardID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return "", false
	}
	i := s.ledger.cardIndex(cardID)
	if i < 0 {
		return "", false
	}
	return s.ledger.cards[i].FullNumber, true
}

// CreatePaymentRequest records a pending request and its journal entry. No
// balance moves.
func (s *Service) CreatePaymentRequest(ctx context.Context, amount decimal.Decimal, description, to string) (models.PaymentRequest, error) {
	const op = "createPaymentRequest"
	if err := requirePositive(op, "amount", amount); err != nil {
		return models.PaymentRequest{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Payment request"
	}
	to = strings.TrimSpace(to)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.PaymentRequest{}, err
	}

	tx := models.Transaction{
		Type:        models.TxPaymentRequest,
		Amount:      amount,
		From:        s.ledger.profile.Name,
		To:          to,
		Status:      models.TxPending,
		Description: description,
		Category:    "Request",
	}
	req := models.PaymentRequest{
		ID:          uuid.New().String(),
		AccountID:   s.ledger.account.ID,
		Amount:      amount,
		Description: description,
		To:          to,
		Timestamp:   s.now(),
		Status:      models.RequestPending,
	}
	if _, err := s.commitTransaction(op, tx, s.ledger.account.Currency, posting{}, func() []Event {
		s.ledger.addRequest(req)
		return []Event{requestEvent(req)}
	}); err != nil {
		return models.PaymentRequest{}, err
	}
	return req, nil
}

// UpdatePaymentRequest moves a pending request to completed or cancelled.
func (s *Service) UpdatePaymentRequest(ctx context.Context, id string, status models.PaymentRequestStatus) (models.PaymentRequest, error) {
	const op = "updatePaymentRequest"
	if !status.IsTerminal() {
		return models.PaymentRequest{}, models.Validation(op, "status must be %s or %s", models.RequestCompleted, models.RequestCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.PaymentRequest{}, err
	}
	i := s.ledger.requestIndex(id)
	if i < 0 {
		return models.PaymentRequest{}, models.NotFound(op, "payment request %s not found", id)
	}

	req := s.ledger.requests[i]
	if req.Status.IsTerminal() {
		return models.PaymentRequest{}, models.InvalidState(op, "payment request is already %s", req.Status)
	}
	req.Status = status
	s.ledger.setRequest(i, req)

	title := "Payment Request Completed"
	if status == models.RequestCancelled {
		title = "Payment Request Cancelled"
	}
	s.notify(models.NotifyTransaction, title,
		fmt.Sprintf("Your request for %s (%s) was %s.", formatAmount(req.Amount, s.ledger.account.Currency), req.Description, status),
		requestEvent(req))
	return req, nil
}

// DeleteTransaction removes a journal entry. Administrative only; its
// notification is kept.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	const op = "deleteTransaction"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return err
	}
	if !s.ledger.removeTransaction(id) {
		return models.NotFound(op, "transaction %s not found", id)
	}
	s.commit()
	s.logger.Info("transaction deleted", slog.String("id", id))
	return nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) (models.Notification, error) {
	const op = "markNotificationRead"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Notification{}, err
	}
	for i, n := range s.ledger.notifications {
		if n.ID != id {
			continue
		}
		if !n.Read {
			s.ledger.markRead(i)
			s.commit()
		}
		return s.ledger.notifications[i], nil
	}
	return models.Notification{}, models.NotFound(op, "notification %s not found", id)
}

// MarkAllNotificationsRead returns the number of notifications flipped.
func (s *Service) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	const op = "markAllNotificationsRead"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return 0, err
	}
	n := 0
	for i := range s.ledger.notifications {
		if !s.ledger.notifications[i].Read {
			s.ledger.markRead(i)
			n++
		}
	}
	s.commit()
	return n, nil
}

func (s *Service) panExists(ctx context.Context) func(string) bool {
	return func(pan string) bool {
		if s.ledger != nil {
			for _, c := range s.ledger.cards {
				if c.FullNumber == pan {
					return true
				}
			}
		}
		_, err := s.backend.FindByField(ctx, colCards, "fullNumber", pan)
		return err == nil
	}
}

// Register creates a profile, its account with the seed balance and a virtual
// card holding the same balance, and opens a session for it.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (Snapshot, error) {
	const op = "register"
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Snapshot{}, models.Validation(op, "name is required")
	}
	email, err := normalizeEmail(op, req.Email)
	if err != nil {
		return Snapshot{}, err
	}
	hash, err := security.HashPassword(req.Password, s.cfg.PasswordCost)
	if err != nil {
		return Snapshot{}, models.Validation(op, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.emailAvailable(ctx, op, email, ""); err != nil {
		return Snapshot{}, err
	}

	now := s.now()
	profile := models.Profile{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Preferences: models.Preferences{
			Currency:             s.cfg.Currency,
			Language:             "en",
			NotificationsEnabled: true,
		},
		CreatedAt: now,
	}
	account := models.Account{
		ID:        uuid.New().String(),
		UserID:    profile.ID,
		Balance:   s.cfg.SeedBalance,
		Currency:  s.cfg.Currency,
		CreatedAt: now,
	}

	ledger := newLedger(profile, account)
	prev := s.ledger
	s.ledger = ledger
	card, err := s.cards.issue(models.CardVirtual, account.ID, name, s.cfg.SeedBalance, models.CardActive, now, s.panExists(ctx))
	if err != nil {
		s.ledger = prev
		return Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	ledger.addCard(card)
	s.notify(models.NotifySystem, "Welcome", fmt.Sprintf("Welcome, %s! Your wallet and virtual card are ready.", name))

	s.logger.Info("registered", slog.String("user", profile.ID))
	return s.snapshotLocked(), nil
}

// Login verifies the password and opens a session hydrated from the backend.
func (s *Service) Login(ctx context.Context, email, password string) (Snapshot, error) {
	const op = "login"
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.lookupProfile(ctx, op, email)
	if err != nil {
		return Snapshot{}, err
	}
	if err := security.CheckPassword(profile.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return Snapshot{}, models.Validation(op, "invalid email or password")
		}
		return Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.open(ctx, profile); err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	s.notify(models.NotifySecurity, "New Sign-in", "A new sign-in to your wallet was recorded.")
	return s.snapshotLocked(), nil
}

// Resume opens the session of an existing owner without a password. Used for the
// configured owner at startup. It reports models.ErrNotFound when the email is
// not registered.
func (s *Service) Resume(ctx context.Context, email string) (Snapshot, error) {
	const op = "resume"
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.lookupProfile(ctx, op, email)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			return Snapshot{}, models.NotFound(op, "no profile for %s", email)
		}
		return Snapshot{}, err
	}
	if err := s.open(ctx, profile); err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.snapshotLocked(), nil
}

func (s *Service) lookupProfile(ctx context.Context, op, email string) (models.Profile, error) {
	email, err := normalizeEmail(op, email)
	if err != nil {
		return models.Profile{}, err
	}
	if err := s.syncer.Flush(ctx); err != nil {
		return models.Profile{}, err
	}
	doc, err := s.backend.FindByField(ctx, colUsers, "email", email)
	if errors.Is(err, store.ErrNotFound) {
		return models.Profile{}, models.Validation(op, "invalid email or password")
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("%s: finding profile: %w", op, err)
	}
	var profile models.Profile
	if err := store.Decode(doc, &profile); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

func (s *Service) open(ctx context.Context, profile models.Profile) error {
	ledger, err := loadLedger(ctx, s.backend, profile)
	if err != nil {
		return err
	}
	for _, problem := range ledger.Check() {
		s.logger.Warn("ledger inconsistency", slog.String("user", profile.ID), slog.String("problem", problem))
	}
	s.ledger = ledger
	return nil
}

// emailAvailable checks the backend after flushing, so writes of the current
// session are visible.
func (s *Service) emailAvailable(ctx context.Context, op, email, ownerID string) error {
	if err := s.syncer.Flush(ctx); err != nil {
		return err
	}
	doc, err := s.backend.FindByField(ctx, colUsers, "email", email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: checking email: %w", op, err)
	}
	if doc.ID() != ownerID {
		return models.InvalidState(op, "email %s is already registered", email)
	}
	return nil
}

func normalizeEmail(op, email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", models.Validation(op, "invalid email address %q", email)
	}
	return strings.ToLower(addr.Address), nil
}

// UpdateProfile merges name, email and phone.
func (s *Service) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.Profile, error) {
	const op = "updateProfile"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Profile{}, err
	}

	profile := s.ledger.profile
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Profile{}, models.Validation(op, "name must not be empty")
		}
		profile.Name = name
	}
	if patch.Phone != nil {
		profile.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Email != nil {
		email, err := normalizeEmail(op, *patch.Email)
		if err != nil {
			return models.Profile{}, err
		}
		if email != profile.Email {
			if err := s.emailAvailable(ctx, op, email, profile.ID); err != nil {
				return models.Profile{}, err
			}
		}
		profile.Email = email
	}

	s.ledger.setProfile(profile)
	s.notify(models.NotifySystem, "Profile Updated", "Your profile details were updated.")
	return profile.Public(), nil
}

// UpdatePreferences merges preferences. Toggling two-factor authentication is
// reported as a security notice.
func (s *Service) UpdatePreferences(ctx context.Context, patch models.PreferencesPatch) (models.Profile, error) {
	const op = "updatePreferences"
	if patch.Currency != nil && strings.TrimSpace(*patch.Currency) == "" {
		return models.Profile{}, models.Validation(op, "currency must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return models.Profile{}, err
	}

	profile := s.ledger.profile
	before := profile.Preferences
	profile.Preferences = before.Apply(patch)
	profile.Preferences.Currency = strings.ToUpper(strings.TrimSpace(profile.Preferences.Currency))
	s.ledger.setProfile(profile)

	if before.TwoFactorEnabled != profile.Preferences.TwoFactorEnabled {
		state := "disabled"
		if profile.Preferences.TwoFactorEnabled {
			state = "enabled"
		}
		s.notify(models.NotifySecurity, "Two-Factor Authentication", "Two-factor authentication was "+state+".")
	} else {
		s.notify(models.NotifySystem, "Preferences Updated", "Your preferences were updated.")
	}
	return profile.Public(), nil
}

func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	const op = "changePassword"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session(op); err != nil {
		return err
	}

	profile := s.ledger.profile
	if err := security.CheckPassword(profile.PasswordHash, current); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return models.Validation(op, "current password is incorrect")
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	hash, err := security.HashPassword(next, s.cfg.PasswordCost)
	if err != nil {
		return models.Validation(op, "%v", err)
	}
	profile.PasswordHash = hash
	s.ledger.setProfile(profile)
	s.notify(models.NotifySecurity, "Password Changed", "Your password was changed.")
	return nil
}

func (s *Service) snapshotLocked() Snapshot {
	snap := s.ledger.snapshot()
	snap.Profile = snap.Profile.Public()
	for i := range snap.Cards {
		snap.Cards[i] = snap.Cards[i].Redacted()
	}
	return snap
}

// Snapshot returns a redacted copy of the whole ledger.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return Snapshot{}
	}
	return s.snapshotLocked()
}

// Check reports inconsistencies of the current ledger.
func (s *Service) Check() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Check()
}

func (s *Service) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return decimal.Zero
	}
	return s.ledger.account.Balance
}

func (s *Service) Account() models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return models.Account{}
	}
	return s.ledger.account
}

func (s *Service) Profile() models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return models.Profile{}
	}
	return s.ledger.profile.Public()
}

func (s *Service) Cards() []models.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	out := make([]models.Card, 0, len(s.ledger.cards))
	for _, c := range s.ledger.cards {
		out = append(out, c.Redacted())
	}
	return out
}

func (s *Service) Card(id string) (models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.session("card"); err != nil {
		return models.Card{}, err
	}
	i, err := s.findCard("card", id)
	if err != nil {
		return models.Card{}, err
	}
	return s.ledger.cards[i].Redacted(), nil
}

// Journal returns the transactions in chronological order.
func (s *Service) Journal() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	return append([]models.Transaction(nil), s.ledger.transactions...)
}

// Transactions returns the journal newest first.
func (s *Service) Transactions() []models.Transaction {
	return newestFirst(s.Journal())
}

// SearchTransactions searches the newest-first view of the journal.
func (s *Service) SearchTransactions(query string) []models.Transaction {
	return Search(s.Transactions(), query)
}

// FilterTransactions filters the newest-first view of the journal.
func (s *Service) FilterTransactions(f Filters) []models.Transaction {
	return Filter(s.Transactions(), f)
}

// PaymentRequests returns requests newest first.
func (s *Service) PaymentRequests() []models.PaymentRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	return newestFirst(s.ledger.requests)
}

// Notifications returns the feed newest first.
func (s *Service) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return nil
	}
	return newestFirst(s.ledger.notifications)
}

func (s *Service) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return 0
	}
	n := 0
	for _, x := range s.ledger.notifications {
		if !x.Read {
			n++
		}
	}
	return n
}
