package wallet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is a configuration for the wallet application
type Config struct {
	HTTPAddr string
	// Backend selects the persistence backend: memory, file or pg.
	Backend string
	// DataDir holds the JSON files of the file backend.
	DataDir string
	DBDSN   string

	// Currency is the cash currency of new accounts.
	Currency    string
	SeedBalance decimal.Decimal
	CardLimit   decimal.Decimal

	// BINPrefix sets the issuer BIN prefix used to generate PANs (6/8/9 digits).
	BINPrefix string
	// CardProduct decides the card validity through ProductYears.
	CardProduct string
	// ExpiryTZ is an IANA timezone name for expiry computations (e.g., "Australia/Sydney").
	ExpiryTZ     string
	ProductYears map[string]int
	CVVKey       string

	// CardNetAddr is the card network endpoint receiving payment advices.
	// Empty disables forwarding.
	CardNetAddr string

	// SyncRetryMax is the number of attempts made for a failing write before the
	// syncer waits for the next enqueue or flush.
	SyncRetryMax int
	PasswordCost int

	// AdminToken guards the /admin routes. Empty disables them.
	AdminToken string

	// SeedOwner is registered (or resumed) at startup when Email is set.
	SeedOwner models.RegisterRequest
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:     "localhost:8080",
		Backend:      "memory",
		DataDir:      "./data",
		Currency:     "USD",
		SeedBalance:  decimal.NewFromInt(1000),
		CardLimit:    decimal.NewFromInt(2000),
		BINPrefix:    "421234",
		CardProduct:  "debit",
		ExpiryTZ:     "UTC",
		ProductYears: map[string]int{"credit": 3, "debit": 5},
		CVVKey:       "dev-cvv-key",
		SyncRetryMax: 8,
		PasswordCost: 10,
		SeedOwner: models.RegisterRequest{
			Name:     "Demo User",
			Email:    "demo@example.com",
			Password: "demo-password",
		},
	}
}

// LoadConfig reads the given .env files (".env" when none is given; missing
// files are skipped) and overlays the environment on DefaultConfig.
func LoadConfig(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Backend = getenv("REPO_BACKEND", cfg.Backend)
	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)
	cfg.DBDSN = getenv("DB_DSN", cfg.DBDSN)
	cfg.Currency = strings.ToUpper(getenv("CURRENCY", cfg.Currency))
	cfg.BINPrefix = getenv("BIN_PREFIX", cfg.BINPrefix)
	cfg.CardProduct = getenv("CARD_PRODUCT", cfg.CardProduct)
	cfg.ExpiryTZ = getenv("EXPIRY_TZ", cfg.ExpiryTZ)
	cfg.CVVKey = getenv("CVV_KEY", cfg.CVVKey)
	cfg.CardNetAddr = getenv("CARDNET_ADDR", cfg.CardNetAddr)
	cfg.AdminToken = getenv("ADMIN_TOKEN", cfg.AdminToken)
	cfg.SeedOwner.Name = getenv("SEED_OWNER_NAME", cfg.SeedOwner.Name)
	cfg.SeedOwner.Email = getenv("SEED_OWNER_EMAIL", cfg.SeedOwner.Email)
	cfg.SeedOwner.Password = getenv("SEED_OWNER_PASSWORD", cfg.SeedOwner.Password)

	var err error
	if cfg.SeedBalance, err = getenvDecimal("SEED_BALANCE", cfg.SeedBalance); err != nil {
		return nil, err
	}
	if cfg.CardLimit, err = getenvDecimal("CARD_LIMIT", cfg.CardLimit); err != nil {
		return nil, err
	}
	if cfg.SyncRetryMax, err = getenvInt("SYNC_RETRY_MAX", cfg.SyncRetryMax); err != nil {
		return nil, err
	}
	if cfg.PasswordCost, err = getenvInt("PASSWORD_COST", cfg.PasswordCost); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "memory", "file", "pg":
	default:
		return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", cfg.Backend)
	}
	if cfg.SeedBalance.IsNegative() {
		return nil, fmt.Errorf("SEED_BALANCE must not be negative")
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", k, err)
	}
	return n, nil
}

func getenvDecimal(k string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", k, err)
	}
	return d, nil
}
