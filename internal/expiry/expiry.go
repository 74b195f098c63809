// Package expiry computes the expiry printed on wallet cards and tells when a
// card is past it.
package expiry

import (
	"fmt"
	"strings"
	"time"
)

const faceLayout = "01/06"

// Policy decides how long issued cards stay valid.
type Policy struct {
	// Location is the timezone in which expiry months are computed. Nil means UTC.
	Location *time.Location
	// ProductYears maps a card product to its validity in years.
	ProductYears map[string]int
}

// DefaultPolicy returns the debit=5y, credit=3y policy in UTC.
func DefaultPolicy() Policy {
	return Policy{
		Location:     time.UTC,
		ProductYears: map[string]int{"credit": 3, "debit": 5},
	}
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// YearsFor returns the validity years of product, 5 when unknown.
func (p Policy) YearsFor(product string) int {
	if y := p.ProductYears[strings.ToLower(product)]; y > 0 {
		return y
	}
	return 5
}

// CardFace returns the MM/YY expiry of a card of product issued at issued.
func (p Policy) CardFace(issued time.Time, product string) string {
	t := issued.In(p.loc())
	return time.Date(t.Year()+p.YearsFor(product), t.Month(), 1, 0, 0, 0, 0, p.loc()).Format(faceLayout)
}

// ValidThrough returns the last instant a card with the given MM/YY face can
// be used, which is the end of that month in the policy location.
func (p Policy) ValidThrough(face string) (time.Time, error) {
	month, err := time.ParseInLocation(faceLayout, strings.TrimSpace(face), p.loc())
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing card expiry %q: want MM/YY", face)
	}
	return month.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

// Expired reports whether a card with the given face is past its expiry at t.
func (p Policy) Expired(face string, t time.Time) (bool, error) {
	end, err := p.ValidThrough(face)
	if err != nil {
		return false, err
	}
	return t.After(end), nil
}
