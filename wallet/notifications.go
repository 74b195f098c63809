package wallet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// ErrUnhandledTransactionType is returned when a journal entry type has no
// notification template.
var ErrUnhandledTransactionType = errors.New("unhandled transaction type")

type template struct {
	title   string
	message func(tx models.Transaction, amount string) string
}

var transactionTemplates = map[models.TransactionType]template{
	models.TxSend: {"Money Sent", func(tx models.Transaction, amount string) string {
		return fmt.Sprintf("You sent %s to %s.", amount, tx.To)
	}},
	models.TxReceive: {"Money Received", func(tx models.Transaction, amount string) string {
		return fmt.Sprintf("You received %s from %s.", amount, tx.From)
	}},
	models.TxConvert: {"Currency Converted", func(tx models.Transaction, amount string) string {
		return fmt.Sprintf("You converted %s to %s.", amount, tx.To)
	}},
	models.TxAddFunds: {"Funds Added", func(tx models.Transaction, amount string) string {
		if tx.To != "" {
			return fmt.Sprintf("%s has been added to %s.", amount, tx.To)
		}
		return fmt.Sprintf("%s has been added to your wallet.", amount)
	}},
	models.TxPaymentRequest: {"Payment Request Created", func(tx models.Transaction, amount string) string {
		if tx.To != "" {
			return fmt.Sprintf("You requested %s from %s for %q.", amount, tx.To, tx.Description)
		}
		return fmt.Sprintf("You requested %s for %q.", amount, tx.Description)
	}},
	models.TxCardPayment: {"Card Payment", func(tx models.Transaction, amount string) string {
		return fmt.Sprintf("You paid %s at %s with card %s.", amount, tx.To, tx.From)
	}},
}

// transactionNotification builds the notification correlated with tx.
// currency is the currency of tx.Amount.
func transactionNotification(tx models.Transaction, currency string, at time.Time) (models.Notification, error) {
	tpl, ok := transactionTemplates[tx.Type]
	if !ok {
		return models.Notification{}, fmt.Errorf("%w: %q", ErrUnhandledTransactionType, tx.Type)
	}
	return models.Notification{
		ID:            uuid.New().String(),
		Category:      models.NotifyTransaction,
		Title:         tpl.title,
		Message:       tpl.message(tx, formatAmount(tx.Amount, currency)),
		Timestamp:     at,
		TransactionID: tx.ID,
	}, nil
}

func notice(category models.NotificationCategory, title, message string, at time.Time) models.Notification {
	return models.Notification{
		ID:        uuid.New().String(),
		Category:  category,
		Title:     title,
		Message:   message,
		Timestamp: at,
	}
}

// formatAmount renders amount in currency, e.g. "$1,100.00". Currencies unknown
// to go-money fall back to "0.25 BTC".
func formatAmount(amount decimal.Decimal, currency string) string {
	code := strings.ToUpper(currency)
	c := money.GetCurrency(code)
	if c == nil {
		return amount.StringFixed(8) + " " + code
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}

// EventType names what changed in an Event.
type EventType string

const (
	EventTransaction    EventType = "transaction.committed"
	EventNotification   EventType = "notification.created"
	EventCard           EventType = "card.changed"
	EventPaymentRequest EventType = "payment_request.changed"
)

// Event is published to subscribers after an operation commits. Cards are
// redacted.
type Event struct {
	Type           EventType              `json:"type"`
	Transaction    *models.Transaction    `json:"transaction,omitempty"`
	Notification   *models.Notification   `json:"notification,omitempty"`
	Card           *models.Card           `json:"card,omitempty"`
	PaymentRequest *models.PaymentRequest `json:"paymentRequest,omitempty"`
}

func transactionEvent(tx models.Transaction) Event {
	return Event{Type: EventTransaction, Transaction: &tx}
}

func notificationEvent(n models.Notification) Event {
	return Event{Type: EventNotification, Notification: &n}
}

func cardEvent(c models.Card) Event {
	c = c.Redacted()
	return Event{Type: EventCard, Card: &c}
}

func requestEvent(r models.PaymentRequest) Event {
	return Event{Type: EventPaymentRequest, PaymentRequest: &r}
}

// bus fans events out to subscribers without ever blocking the publisher.
type bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func newBus(logger *slog.Logger) *bus {
	return &bus{logger: logger, subs: make(map[int]chan Event)}
}

// subscribe registers a channel of the given buffer. After close it returns an
// already closed channel.
func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// close ends every subscription.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *bus) publish(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		for id, ch := range b.subs {
			select {
			case ch <- e:
			default:
				b.logger.Warn("dropping event for slow subscriber", slog.Int("subscriber", id), slog.String("event", string(e.Type)))
			}
		}
	}
}
