package wallet

import (
	"fmt"
	"time"

	"github.com/alovak/wallet-playground/internal/cardgen"
	"github.com/alovak/wallet-playground/internal/expiry"
	"github.com/alovak/wallet-playground/internal/security"
	"github.com/alovak/wallet-playground/wallet/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const maskedCVV = "***"

// cardIssuer produces the numbers printed on wallet cards.
type cardIssuer struct {
	bin     string
	product string
	limit   decimal.Decimal
	expiry  expiry.Policy
	cvv     *security.CVVGenerator
}

func newCardIssuer(logger *slog.Logger, cfg *Config) *cardIssuer {
	bin := cfg.BINPrefix
	// Ensure BIN is valid; fallback to default if misconfigured.
	if err := cardgen.ValidateBIN(bin); err != nil {
		logger.Warn("invalid BIN prefix; using default", slog.String("bin", bin), slog.Any("err", err))
		bin = cardgen.DefaultBIN
	}

	policy := expiry.DefaultPolicy()
	if cfg.ExpiryTZ != "" {
		if loc, err := time.LoadLocation(cfg.ExpiryTZ); err == nil {
			policy.Location = loc
		} else {
			logger.Warn("invalid ExpiryTZ; using default UTC", slog.String("tz", cfg.ExpiryTZ), slog.Any("err", err))
		}
	}
	if len(cfg.ProductYears) > 0 {
		policy.ProductYears = cfg.ProductYears
	}

	return &cardIssuer{
		bin:     bin,
		product: cfg.CardProduct,
		limit:   cfg.CardLimit,
		expiry:  policy,
		cvv:     security.NewCVVGenerator([]byte(cfg.CVVKey)),
	}
}

// issue builds a new card. exists reports PANs already in use.
func (ci *cardIssuer) issue(kind models.CardKind, accountID, holder string, balance decimal.Decimal, status models.CardStatus, now time.Time, exists func(string) bool) (models.Card, error) {
	pan, err := cardgen.GenerateUniquePAN(ci.bin, 10, exists)
	if err != nil {
		return models.Card{}, fmt.Errorf("generate unique pan: %w", err)
	}
	face := ci.expiry.CardFace(now, ci.product)
	cvv, err := ci.cvv.Compute(pan, face)
	if err != nil {
		return models.Card{}, fmt.Errorf("computing cvv: %w", err)
	}

	return models.Card{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		Kind:         kind,
		MaskedNumber: cardgen.MaskPAN(pan),
		FullNumber:   pan,
		HolderName:   cardgen.HolderName(holder),
		Expiry:       face,
		CVV:          maskedCVV,
		FullCVV:      cvv,
		Balance:      balance,
		Limit:        ci.limit,
		Status:       status,
		Settings:     models.DefaultCardSettings(),
		CreatedAt:    now,
	}, nil
}

// cardLabel names a card in messages, e.g. "virtual card ending in 4242".
func cardLabel(c models.Card) string {
	return fmt.Sprintf("%s card ending in %s", c.Kind, cardgen.LastN(c.FullNumber, 4))
}
