package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alovak/wallet-playground/internal/store"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"
)

// Backend collections.
const (
	colUsers         = "users"
	colAccounts      = "accounts"
	colCards         = "cards"
	colTransactions  = "transactions"
	colRequests      = "payment_requests"
	colNotifications = "notifications"
)

type changeKind int

const (
	changeCreate changeKind = iota
	changeUpdate
	changeDelete
)

func (k changeKind) String() string {
	switch k {
	case changeCreate:
		return "create"
	case changeUpdate:
		return "update"
	default:
		return "delete"
	}
}

// change is one backend write produced by a committed operation. value holds a
// copy of the entity as it was at commit time.
type change struct {
	kind       changeKind
	collection string
	id         string
	value      any
}

// Snapshot is a read-only copy of the ledger. Transactions and Notifications are
// in chronological order.
type Snapshot struct {
	Profile         models.Profile          `json:"profile"`
	Account         models.Account          `json:"account"`
	Cards           []models.Card           `json:"cards"`
	Transactions    []models.Transaction    `json:"transactions"`
	PaymentRequests []models.PaymentRequest `json:"paymentRequests"`
	Notifications   []models.Notification   `json:"notifications"`
}

// Ledger is the authoritative in-memory state of one owner. It is not safe for
// concurrent use; Service serializes access to it.
type Ledger struct {
	profile       models.Profile
	account       models.Account
	cards         []models.Card
	transactions  []models.Transaction
	requests      []models.PaymentRequest
	notifications []models.Notification

	seq     int64
	changes []change
}

func newLedger(profile models.Profile, account models.Account) *Ledger {
	l := &Ledger{profile: profile, account: account}
	l.record(changeCreate, colUsers, profile.ID, profile)
	l.record(changeCreate, colAccounts, account.ID, account)
	return l
}

func (l *Ledger) record(kind changeKind, collection, id string, value any) {
	l.changes = append(l.changes, change{kind: kind, collection: collection, id: id, value: value})
}

// drain returns the changes recorded since the last call.
func (l *Ledger) drain() []change {
	out := l.changes
	l.changes = nil
	return out
}

func (l *Ledger) nextSeq() int64 {
	l.seq++
	return l.seq
}

func (l *Ledger) snapshot() Snapshot {
	return Snapshot{
		Profile:         l.profile,
		Account:         l.account,
		Cards:           slices.Clone(l.cards),
		Transactions:    slices.Clone(l.transactions),
		PaymentRequests: slices.Clone(l.requests),
		Notifications:   slices.Clone(l.notifications),
	}
}

func (l *Ledger) cardIndex(id string) int {
	return slices.IndexFunc(l.cards, func(c models.Card) bool { return c.ID == id })
}

func (l *Ledger) cardOfKind(kind models.CardKind) (models.Card, bool) {
	i := slices.IndexFunc(l.cards, func(c models.Card) bool { return c.Kind == kind })
	if i < 0 {
		return models.Card{}, false
	}
	return l.cards[i], true
}

func (l *Ledger) requestIndex(id string) int {
	return slices.IndexFunc(l.requests, func(r models.PaymentRequest) bool { return r.ID == id })
}

// posting moves funds on the account and, when cardID is set, on that card in
// one step. Deltas are signed.
type posting struct {
	account decimal.Decimal
	cardID  string
	card    decimal.Decimal
	// floorCard clamps the card at zero instead of rejecting the posting. Used
	// when the account, not the card, is the instrument being debited.
	floorCard bool
}

func (p posting) isZero() bool {
	return p.account.IsZero() && p.card.IsZero() && p.cardID == ""
}

// post applies p and returns the delta the card actually moved by, or, when an
// invariant would break, returns an error and leaves the ledger unchanged.
func (l *Ledger) post(op string, p posting) (decimal.Decimal, error) {
	balance := l.account.Balance.Add(p.account)
	if balance.IsNegative() {
		return decimal.Zero, models.InsufficientFunds(op, "account balance %s does not cover %s", l.account.Balance.StringFixed(2), p.account.Neg().StringFixed(2))
	}

	ci := -1
	var cardBalance decimal.Decimal
	if p.cardID != "" {
		if ci = l.cardIndex(p.cardID); ci < 0 {
			return decimal.Zero, models.NotFound(op, "card %s not found", p.cardID)
		}
		cardBalance = l.cards[ci].Balance.Add(p.card)
		if cardBalance.IsNegative() {
			if !p.floorCard {
				return decimal.Zero, models.InsufficientFunds(op, "card balance %s does not cover %s", l.cards[ci].Balance.StringFixed(2), p.card.Neg().StringFixed(2))
			}
			cardBalance = decimal.Zero
		}
	}

	if !p.account.IsZero() {
		l.account.Balance = balance
		l.record(changeUpdate, colAccounts, l.account.ID, l.account)
	}
	var moved decimal.Decimal
	if ci >= 0 {
		moved = cardBalance.Sub(l.cards[ci].Balance)
		l.cards[ci].Balance = cardBalance
		l.record(changeUpdate, colCards, l.cards[ci].ID, l.cards[ci])
	}
	return moved, nil
}

func (l *Ledger) addCard(c models.Card) {
	l.cards = append(l.cards, c)
	l.record(changeCreate, colCards, c.ID, c)
}

func (l *Ledger) setCard(i int, c models.Card) {
	l.cards[i] = c
	l.record(changeUpdate, colCards, c.ID, c)
}

func (l *Ledger) appendTransaction(tx models.Transaction) models.Transaction {
	tx.Seq = l.nextSeq()
	tx.AccountID = l.account.ID
	l.transactions = append(l.transactions, tx)
	l.record(changeCreate, colTransactions, tx.ID, tx)
	return tx
}

func (l *Ledger) removeTransaction(id string) bool {
	i := slices.IndexFunc(l.transactions, func(t models.Transaction) bool { return t.ID == id })
	if i < 0 {
		return false
	}
	l.transactions = slices.Delete(l.transactions, i, i+1)
	l.record(changeDelete, colTransactions, id, nil)
	return true
}

func (l *Ledger) appendNotification(n models.Notification) models.Notification {
	n.Seq = l.nextSeq()
	n.UserID = l.profile.ID
	l.notifications = append(l.notifications, n)
	l.record(changeCreate, colNotifications, n.ID, n)
	return n
}

func (l *Ledger) markRead(i int) {
	l.notifications[i].Read = true
	l.record(changeUpdate, colNotifications, l.notifications[i].ID, l.notifications[i])
}

func (l *Ledger) addRequest(r models.PaymentRequest) {
	l.requests = append(l.requests, r)
	l.record(changeCreate, colRequests, r.ID, r)
}

func (l *Ledger) setRequest(i int, r models.PaymentRequest) {
	l.requests[i] = r
	l.record(changeUpdate, colRequests, r.ID, r)
}

func (l *Ledger) setProfile(p models.Profile) {
	l.profile = p
	l.record(changeUpdate, colUsers, p.ID, p)
}

// Check reports recoverable inconsistencies, typically left by a crash between
// an in-memory commit and its backend write.
func (l *Ledger) Check() []string {
	var problems []string
	if l.account.Balance.IsNegative() {
		problems = append(problems, fmt.Sprintf("account %s has negative balance %s", l.account.ID, l.account.Balance))
	}
	kinds := map[models.CardKind]int{}
	for _, c := range l.cards {
		kinds[c.Kind]++
		if c.Balance.IsNegative() {
			problems = append(problems, fmt.Sprintf("card %s has negative balance %s", c.ID, c.Balance))
		}
	}
	for kind, n := range kinds {
		if n > 1 {
			problems = append(problems, fmt.Sprintf("%d %s cards", n, kind))
		}
	}
	notified := make(map[string]bool, len(l.notifications))
	for _, n := range l.notifications {
		if n.TransactionID != "" {
			notified[n.TransactionID] = true
		}
	}
	for _, tx := range l.transactions {
		if !notified[tx.ID] {
			problems = append(problems, fmt.Sprintf("transaction %s has no notification", tx.ID))
		}
	}
	return problems
}

// loadLedger hydrates the ledger of profile from the backend, joining the
// collections through their owner fields.
func loadLedger(ctx context.Context, backend store.Backend, profile models.Profile) (*Ledger, error) {
	l := &Ledger{profile: profile}

	doc, err := backend.FindByField(ctx, colAccounts, "userId", profile.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account of user %s: %w", profile.ID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}
	if err := store.Decode(doc, &l.account); err != nil {
		return nil, err
	}

	if l.cards, err = findAll[models.Card](ctx, backend, colCards, "accountId", l.account.ID); err != nil {
		return nil, err
	}
	if l.transactions, err = findAll[models.Transaction](ctx, backend, colTransactions, "accountId", l.account.ID); err != nil {
		return nil, err
	}
	if l.requests, err = findAll[models.PaymentRequest](ctx, backend, colRequests, "accountId", l.account.ID); err != nil {
		return nil, err
	}
	if l.notifications, err = findAll[models.Notification](ctx, backend, colNotifications, "userId", profile.ID); err != nil {
		return nil, err
	}

	sort.SliceStable(l.transactions, func(i, j int) bool { return l.transactions[i].Seq < l.transactions[j].Seq })
	sort.SliceStable(l.notifications, func(i, j int) bool { return l.notifications[i].Seq < l.notifications[j].Seq })
	for _, tx := range l.transactions {
		l.seq = max(l.seq, tx.Seq)
	}
	for _, n := range l.notifications {
		l.seq = max(l.seq, n.Seq)
	}
	return l, nil
}

func findAll[T any](ctx context.Context, backend store.Backend, collection, field, value string) ([]T, error) {
	docs, err := backend.FindAllByField(ctx, collection, field, value)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", collection, err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := store.Decode(doc, &v); err != nil {
			return nil, fmt.Errorf("loading %s: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}
