package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/wallet-playground/internal/cardnet"
	"github.com/alovak/wallet-playground/internal/middleware"
	"github.com/alovak/wallet-playground/internal/rates"
	"github.com/alovak/wallet-playground/internal/store"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/exp/slog"
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 10 * time.Second

// App is the main application, it contains all the components of the wallet
// and is responsible for starting and stopping them.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	backend store.Backend
	service *Service

	cardnet     io.Closer
	stopAdvices func()
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "wallet"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

// Service returns the wallet service once the app is started.
func (a *App) Service() *Service { return a.service }

func (a *App) Start() error {
	a.logger.Info("starting app...")

	backend, err := a.openBackend()
	if err != nil {
		return err
	}
	a.backend = backend
	a.service = NewService(a.logger, a.config, backend, rates.DefaultStatic())

	if err := a.openSession(); err != nil {
		return err
	}

	if a.config.CardNetAddr != "" {
		conn, err := cardnet.Dial(a.config.CardNetAddr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connecting card network: %w", err)
		}
		a.cardnet = conn
		a.forwardAdvices(cardnet.NewForwarder(a.logger, conn))
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(a.service)
	api.AppendRoutes(router)
	if a.config.AdminToken != "" {
		api.AppendAdminRoutes(router, a.config.AdminToken)
	}

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := backend.Ping(ctx); err != nil {
			http.Error(w, "backend not ready", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, a.service.SyncStatus())
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) openBackend() (store.Backend, error) {
	switch a.config.Backend {
	case "memory", "":
		return store.NewMemory(), nil
	case "file":
		return store.NewJSONFile(a.config.DataDir)
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.Backend)
	}
}

// openSession resumes the configured owner, registering it on first start.
func (a *App) openSession() error {
	owner := a.config.SeedOwner
	if owner.Email == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := a.service.Resume(ctx, owner.Email)
	if errors.Is(err, models.ErrNotFound) {
		_, err = a.service.Register(ctx, owner)
		if err == nil {
			a.logger.Info("registered seed owner", slog.String("email", owner.Email))
		}
	}
	if err != nil {
		return fmt.Errorf("opening session of %s: %w", owner.Email, err)
	}
	return nil
}

// forwardAdvices sends a card network advice for every committed card payment.
func (a *App) forwardAdvices(f *cardnet.Forwarder) {
	events, cancel := a.service.Subscribe(256)
	a.stopAdvices = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for e := range events {
			tx := e.Transaction
			if e.Type != EventTransaction || tx == nil || tx.Type != models.TxCardPayment {
				continue
			}
			pan, ok := a.service.CardPAN(tx.CardID)
			if !ok {
				a.logger.Warn("card of payment not found", slog.String("transaction", tx.ID))
				continue
			}
			err := f.Advise(cardnet.Payment{
				TransactionID: tx.ID,
				PAN:           pan,
				Amount:        tx.Amount,
				Currency:      a.service.Account().Currency,
				Merchant:      tx.To,
				Category:      tx.Category,
				At:            tx.Timestamp,
			})
			if err != nil {
				a.logger.Error("forwarding card payment advice", slog.String("transaction", tx.ID), slog.Any("err", err))
			}
		}
	}()
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	// event streams only end when their subscription does
	if a.service != nil {
		a.service.CloseSubscriptions()
	}
	if a.stopAdvices != nil {
		a.stopAdvices()
	}

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http server did not drain in time, closing connections", "err", err)
			a.srv.Close()
		}
		cancel()
	}
	if a.cardnet != nil {
		if err := a.cardnet.Close(); err != nil {
			a.logger.Error("closing card network connection", "err", err)
		}
	}

	if a.service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.service.Close(ctx); err != nil {
			a.logger.Error("flushing wallet state", "err", err)
		}
		cancel()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("closing backend", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
