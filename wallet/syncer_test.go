package wallet

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alovak/wallet-playground/internal/store"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

var errBackendDown = errors.New("backend down")

// flakyBackend fails writes while down is set and counts write attempts.
type flakyBackend struct {
	store.Backend

	mu       sync.Mutex
	down     bool
	failures int
	attempts int
	order    []string
}

func (f *flakyBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// failNext makes the next n writes fail.
func (f *flakyBackend) failNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *flakyBackend) writeAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *flakyBackend) check(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.down {
		return errBackendDown
	}
	if f.failures > 0 {
		f.failures--
		return errBackendDown
	}
	f.order = append(f.order, op+":"+id)
	return nil
}

func (f *flakyBackend) Create(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	if err := f.check("create", doc.ID()); err != nil {
		return nil, err
	}
	return f.Backend.Create(ctx, collection, doc)
}

func (f *flakyBackend) Update(ctx context.Context, collection, id string, partial store.Document) (store.Document, error) {
	if err := f.check("update", id); err != nil {
		return nil, err
	}
	return f.Backend.Update(ctx, collection, id, partial)
}

func (f *flakyBackend) Replace(ctx context.Context, collection, id string, doc store.Document) (store.Document, error) {
	if err := f.check("replace", id); err != nil {
		return nil, err
	}
	return f.Backend.Replace(ctx, collection, id, doc)
}

func (f *flakyBackend) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := f.check("delete", id); err != nil {
		return false, err
	}
	return f.Backend.Delete(ctx, collection, id)
}

func newTestSyncer(t *testing.T, backend store.Backend, retryMax int) *Syncer {
	t.Helper()
	s := NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), backend, retryMax)
	s.backoff = func(int) time.Duration { return 5 * time.Millisecond }
	t.Cleanup(func() { s.Close() })
	return s
}

type item struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func flush(t *testing.T, s *Syncer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestSyncer_WritesInOrder(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	s := newTestSyncer(t, backend, 3)
	ctx := context.Background()

	s.enqueue(
		change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a", Value: 1}},
		change{kind: changeCreate, collection: "items", id: "b", value: item{ID: "b", Value: 1}},
		change{kind: changeUpdate, collection: "items", id: "a", value: item{ID: "a", Value: 2}},
		change{kind: changeDelete, collection: "items", id: "b"},
	)
	flush(t, s)

	require.Equal(t, []string{"create:a", "create:b", "replace:a", "delete:b"}, backend.order)

	doc, err := backend.Read(ctx, "items", "a")
	require.NoError(t, err)
	var got item
	require.NoError(t, store.Decode(doc, &got))
	require.Equal(t, 2, got.Value)

	_, err = backend.Read(ctx, "items", "b")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, SyncStatus{}, s.Status())
}

func TestSyncer_WritesAreUpserts(t *testing.T) {
	mem := store.NewMemory()
	s := newTestSyncer(t, mem, 3)
	ctx := context.Background()

	_, err := mem.Create(ctx, "items", store.Document{store.IDField: "a", "value": 1})
	require.NoError(t, err)

	// a create of an existing document and an update of a missing one both land
	s.enqueue(
		change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a", Value: 5}},
		change{kind: changeUpdate, collection: "items", id: "c", value: item{ID: "c", Value: 7}},
	)
	flush(t, s)

	docs, err := mem.ReadAll(ctx, "items")
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestSyncer_RetriesFailedWrites(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	backend.failNext(2)
	s := newTestSyncer(t, backend, 5)

	s.enqueue(
		change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a"}},
		change{kind: changeCreate, collection: "items", id: "b", value: item{ID: "b"}},
	)
	flush(t, s)

	require.Equal(t, 4, backend.writeAttempts())
	require.Equal(t, []string{"create:a", "create:b"}, backend.order)
	require.NoError(t, s.Err())
}

func TestSyncer_FlushReportsPersistenceError(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	backend.setDown(true)
	s := newTestSyncer(t, backend, 0)

	s.enqueue(change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a"}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Flush(ctx)
	require.ErrorIs(t, err, models.ErrPersistence)
	require.ErrorIs(t, err, errBackendDown)

	var perr *models.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 1, perr.Pending)

	require.ErrorIs(t, s.Err(), models.ErrPersistence)
	st := s.Status()
	require.Equal(t, 1, st.Pending)
	require.Equal(t, errBackendDown.Error(), st.LastError)

	backend.setDown(false)
	flush(t, s)
	require.NoError(t, s.Err())
	require.Equal(t, SyncStatus{}, s.Status())
}

func TestSyncer_ParksAfterRetryMax(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	backend.setDown(true)
	s := newTestSyncer(t, backend, 2)

	s.enqueue(change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a"}})
	require.Eventually(t, func() bool { return backend.writeAttempts() == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, backend.writeAttempts())

	// the next enqueue wakes the worker; nothing was dropped or reordered
	backend.setDown(false)
	s.enqueue(change{kind: changeCreate, collection: "items", id: "b", value: item{ID: "b"}})
	flush(t, s)
	require.Equal(t, []string{"create:a", "create:b"}, backend.order)
}

func TestSyncer_CloseWithPendingWrites(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	backend.setDown(true)
	s := NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), backend, 1)

	s.enqueue(change{kind: changeCreate, collection: "items", id: "a", value: item{ID: "a"}})
	require.Eventually(t, func() bool { return backend.writeAttempts() >= 1 }, time.Second, 5*time.Millisecond)

	err := s.Close()
	require.ErrorIs(t, err, models.ErrPersistence)

	// closing twice is safe and flushing a stopped syncer fails fast
	require.Error(t, s.Close())
	require.ErrorIs(t, s.Flush(context.Background()), models.ErrPersistence)
}

func TestExponentialBackoff(t *testing.T) {
	backoff := exponentialBackoff(50*time.Millisecond, 5*time.Second)
	require.Equal(t, 50*time.Millisecond, backoff(1))
	require.Equal(t, 100*time.Millisecond, backoff(2))
	require.Equal(t, 400*time.Millisecond, backoff(4))
	require.Equal(t, 5*time.Second, backoff(20))
}

func TestService_PersistenceLagIsReported(t *testing.T) {
	backend := &flakyBackend{Backend: store.NewMemory()}
	cfg := DefaultConfig()
	cfg.PasswordCost = 4
	cfg.SyncRetryMax = 0
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, backend, nil)
	svc.syncer.backoff = func(int) time.Duration { return 5 * time.Millisecond }
	defer svc.Close(context.Background())

	ctx := context.Background()
	_, err := svc.Register(ctx, models.RegisterRequest{Name: "Ann", Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)

	backend.setDown(true)
	tx, err := svc.AddFunds(ctx, decimal.NewFromInt(10))
	require.NoError(t, err, "the in-memory commit succeeds while the backend is down")
	require.Equal(t, "1010", svc.Balance().String())

	require.Eventually(t, func() bool { return svc.PersistenceErr() != nil }, time.Second, 5*time.Millisecond)
	require.Positive(t, svc.SyncStatus().Pending)

	backend.setDown(false)
	require.NoError(t, svc.Flush(ctx))
	_, err = backend.Read(ctx, colTransactions, tx.ID)
	require.NoError(t, err)
}
