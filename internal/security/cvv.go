// Package security derives card verification values and hashes profile passwords.
// CVVs are demo values derived with HMAC-SHA256; they are not network-grade CVV2.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/alovak/wallet-playground/internal/cardgen"
	"github.com/alovak/wallet-playground/internal/expiry"
)

const domainStatic = "wallet-cvv-v1"

var ErrKeyMissing = errors.New("cvv key is required")

// CVVGenerator derives a stable CVV for a card from its PAN and expiry.
type CVVGenerator struct {
	key []byte
}

func NewCVVGenerator(key []byte) *CVVGenerator {
	return &CVVGenerator{key: key}
}

// Compute returns a three digit CVV for pan and a card face expiry ("MM/YY").
func (g *CVVGenerator) Compute(pan, face string) (string, error) {
	if len(g.key) == 0 {
		return "", ErrKeyMissing
	}
	pan = cardgen.NormalizePAN(pan)
	if err := cardgen.ValidatePAN(pan); err != nil {
		return "", err
	}
	month, err := expiry.Policy{}.ValidThrough(face)
	if err != nil {
		return "", err
	}
	yymm := month.Format("0601")
	// the check digit carries no entropy
	msg := []byte(pan[:len(pan)-1] + "|" + yymm + "|" + domainStatic)
	return truncatedDecimal(g.key, msg), nil
}

// truncatedDecimal applies HOTP-style dynamic truncation to an HMAC-SHA256 sum.
func truncatedDecimal(key, msg []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	sum := h.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[off])&0x7f)<<24 |
		uint32(sum[off+1])<<16 |
		uint32(sum[off+2])<<8 |
		uint32(sum[off+3])
	return fmt.Sprintf("%03d", code%1000)
}

// Wipe zeroes a key buffer. Go gives no guarantee copies do not remain.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
