package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/wallet-playground/internal/store"
	"github.com/alovak/wallet-playground/wallet/models"
	"golang.org/x/exp/slog"
)

const (
	syncWriteTimeout = 5 * time.Second
	syncBackoffBase  = 50 * time.Millisecond
	syncBackoffMax   = 5 * time.Second
)

// SyncStatus describes the persistence queue.
type SyncStatus struct {
	Pending   int    `json:"pending"`
	LastError string `json:"lastError,omitempty"`
}

// Syncer writes committed changes to the backend in commit order from a single
// goroutine. A failing write stays at the head of the queue and is retried with
// capped exponential backoff; after retryMax attempts it waits for the next
// enqueue or Flush before trying again. Writes are never dropped or reordered.
type Syncer struct {
	backend  store.Backend
	logger   *slog.Logger
	retryMax int
	backoff  func(attempt int) time.Duration

	mu      sync.Mutex
	queue   []change
	lastErr error
	// changed is closed and replaced whenever the queue shrinks or a write fails.
	changed chan struct{}

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewSyncer(logger *slog.Logger, backend store.Backend, retryMax int) *Syncer {
	s := &Syncer{
		backend:  backend,
		logger:   logger.With(slog.String("component", "syncer")),
		retryMax: retryMax,
		backoff:  exponentialBackoff(syncBackoffBase, syncBackoffMax),
		changed:  make(chan struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

func exponentialBackoff(base, limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < limit; i++ {
			d *= 2
		}
		return min(d, limit)
	}
}

// enqueue appends changes to the queue.
func (s *Syncer) enqueue(changes ...change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, changes...)
	s.mu.Unlock()
	s.kick()
}

func (s *Syncer) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every queued change is written or ctx is done. On timeout
// it returns a *models.PersistenceError when writes are failing.
func (s *Syncer) Flush(ctx context.Context) error {
	s.kick()
	for {
		s.mu.Lock()
		pending, lastErr, changed := len(s.queue), s.lastErr, s.changed
		s.mu.Unlock()

		if pending == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-s.stopped:
			return &models.PersistenceError{Pending: pending, Err: errors.New("syncer stopped")}
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return &models.PersistenceError{Pending: pending, Err: lastErr}
		}
	}
}

// Err returns a *models.PersistenceError while writes are failing.
func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil || len(s.queue) == 0 {
		return nil
	}
	return &models.PersistenceError{Pending: len(s.queue), Err: s.lastErr}
}

func (s *Syncer) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SyncStatus{Pending: len(s.queue)}
	if s.lastErr != nil && st.Pending > 0 {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Close stops the worker. Queued changes that were not flushed are reported.
func (s *Syncer) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
	if n := s.Status().Pending; n > 0 {
		return &models.PersistenceError{Pending: n, Err: errors.New("syncer closed with pending writes")}
	}
	return nil
}

func (s *Syncer) head() (change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return change{}, false
	}
	return s.queue[0], true
}

func (s *Syncer) done() {
	s.mu.Lock()
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.lastErr = nil
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Syncer) failed(c change, attempt int, err error) {
	s.mu.Lock()
	s.lastErr = err
	pending := len(s.queue)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	s.logger.Warn("backend write failed",
		slog.String("op", c.kind.String()),
		slog.String("collection", c.collection),
		slog.String("id", c.id),
		slog.Int("attempt", attempt),
		slog.Int("pending", pending),
		slog.Any("err", err),
	)
}

func (s *Syncer) run() {
	defer close(s.stopped)

	attempt := 0
	for {
		c, ok := s.head()
		if !ok || (s.retryMax > 0 && attempt >= s.retryMax) {
			select {
			case <-s.wake:
				attempt = 0
				continue
			case <-s.quit:
				return
			}
		}

		err := s.write(c)
		if err == nil {
			attempt = 0
			s.done()
			continue
		}

		attempt++
		s.failed(c, attempt, err)
		select {
		case <-time.After(s.backoff(attempt)):
		case <-s.quit:
			return
		}
	}
}

// write applies c. Creates and updates are upserts so that a retried write
// succeeds regardless of whether an earlier attempt reached the backend.
// Updates replace the whole document so that cleared fields are cleared in
// the backend too.
func (s *Syncer) write(c change) error {
	ctx, cancel := context.WithTimeout(context.Background(), syncWriteTimeout)
	defer cancel()

	if c.kind == changeDelete {
		_, err := s.backend.Delete(ctx, c.collection, c.id)
		return err
	}

	doc, err := store.Encode(c.value)
	if err != nil {
		return err
	}
	doc[store.IDField] = c.id

	switch c.kind {
	case changeCreate:
		_, err = s.backend.Create(ctx, c.collection, doc)
		if errors.Is(err, store.ErrConflict) {
			_, err = s.backend.Replace(ctx, c.collection, c.id, doc)
		}
	case changeUpdate:
		_, err = s.backend.Replace(ctx, c.collection, c.id, doc)
		if errors.Is(err, store.ErrNotFound) {
			_, err = s.backend.Create(ctx, c.collection, doc)
		}
	default:
		err = fmt.Errorf("unknown change kind %d", c.kind)
	}
	return err
}
