// Package cardgen issues card numbers for wallet cards: Luhn-valid PANs under a
// configured BIN, display masking and card-face holder names.
package cardgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// DefaultBIN is used when no BIN is configured or the configured one is invalid.
	DefaultBIN = "421234"
	// PANLength is the length of every PAN issued for wallet cards.
	PANLength = 16
	// maxHolderName is the number of characters that fit on a card face.
	maxHolderName = 26

	minPAN, maxPAN = 13, 19
)

// GeneratePAN returns a PAN of length digits starting with bin and ending
// with a Luhn check digit.
func GeneratePAN(bin string, length int) (string, error) {
	if err := ValidateBIN(bin); err != nil {
		return "", err
	}
	if length < minPAN || length > maxPAN {
		return "", fmt.Errorf("pan length must be %d..%d", minPAN, maxPAN)
	}
	if length-1 <= len(bin) {
		return "", fmt.Errorf("bin %s leaves no room for an account number", bin)
	}

	pan := make([]byte, length)
	copy(pan, bin)
	if err := fillDigits(pan[len(bin) : length-1]); err != nil {
		return "", fmt.Errorf("reading random digits: %w", err)
	}
	pan[length-1] = checkDigit(pan[:length-1])
	return string(pan), nil
}

// GenerateUniquePAN generates PANs until exists reports an unused one.
func GenerateUniquePAN(bin string, attempts int, exists func(string) bool) (string, error) {
	if attempts <= 0 {
		attempts = 5
	}
	for i := 0; i < attempts; i++ {
		pan, err := GeneratePAN(bin, PANLength)
		if err != nil {
			return "", err
		}
		if exists == nil || !exists(pan) {
			return pan, nil
		}
	}
	return "", fmt.Errorf("no unused pan after %d attempts", attempts)
}

// fillDigits writes uniformly distributed ASCII digits into dst. Bytes of
// 250 and above are discarded so that every digit is equally likely.
func fillDigits(dst []byte) error {
	var buf [32]byte
	for n := 0; n < len(dst); {
		if _, err := rand.Read(buf[:]); err != nil {
			return err
		}
		for _, b := range buf {
			if n == len(dst) {
				break
			}
			if b < 250 {
				dst[n] = '0' + b%10
				n++
			}
		}
	}
	return nil
}

// checkDigit returns the Luhn check digit for body, which must be all digits.
func checkDigit(body []byte) byte {
	sum := 0
	for i := range body {
		d := int(body[len(body)-1-i] - '0')
		if i%2 == 0 {
			if d *= 2; d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return '0' + byte((10-sum%10)%10)
}

// ValidatePAN checks the length, the digits and the Luhn check digit of pan.
func ValidatePAN(pan string) error {
	switch {
	case pan == "":
		return fmt.Errorf("pan is required")
	case !IsDigits(pan):
		return fmt.Errorf("pan must contain digits only")
	case len(pan) < minPAN || len(pan) > maxPAN:
		return fmt.Errorf("pan length must be %d..%d digits (got %d)", minPAN, maxPAN, len(pan))
	case checkDigit([]byte(pan[:len(pan)-1])) != pan[len(pan)-1]:
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

// ValidateBIN accepts 6, 8 or 9 digit issuer identification numbers.
func ValidateBIN(bin string) error {
	if !IsDigits(bin) || bin == "" {
		return fmt.Errorf("bin %q must be digits", bin)
	}
	if n := len(bin); n != 6 && n != 8 && n != 9 {
		return fmt.Errorf("bin must be 6, 8 or 9 digits (got %d)", n)
	}
	return nil
}

func IsDigits(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MaskPAN renders a PAN the way it is shown in the wallet: "**** **** **** 1234".
func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	if cleaned == "" {
		return ""
	}
	if len(cleaned) <= 4 {
		return strings.Repeat("*", len(cleaned))
	}
	groups := (len(cleaned) - 4 + 3) / 4
	masked := make([]string, 0, groups+1)
	for i := 0; i < groups; i++ {
		masked = append(masked, "****")
	}
	return strings.Join(append(masked, LastN(cleaned, 4)), " ")
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(s))
}

// HolderName normalizes a profile name for the card face: collapsed spaces,
// upper case, truncated to 26 characters.
func HolderName(name string) string {
	up := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if len(up) > maxHolderName {
		return up[:maxHolderName]
	}
	return up
}
