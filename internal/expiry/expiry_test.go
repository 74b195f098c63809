package expiry

import (
	"testing"
	"time"
)

func TestCardFace_Rollover(t *testing.T) {
	p := Policy{ProductYears: map[string]int{"debit": 1}}
	issue := time.Date(2029, time.December, 15, 0, 0, 0, 0, time.UTC)
	if got := p.CardFace(issue, "debit"); got != "12/30" {
		t.Fatalf("CardFace got %s want %s", got, "12/30")
	}
}

func TestCardFace_LeapIssue(t *testing.T) {
	p := DefaultPolicy()
	issue := time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC)
	if got := p.CardFace(issue, "credit"); got != "02/31" {
		t.Fatalf("CardFace got %s want %s", got, "02/31")
	}
}

func TestCardFace_Location(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	p := Policy{Location: loc, ProductYears: map[string]int{"debit": 5}}
	// 2025-01-31 20:00 UTC is already February in UTC+10
	issue := time.Date(2025, time.January, 31, 20, 0, 0, 0, time.UTC)
	if got := p.CardFace(issue, "debit"); got != "02/30" {
		t.Fatalf("CardFace got %s want %s", got, "02/30")
	}
}

func TestYearsFor(t *testing.T) {
	p := DefaultPolicy()
	if got := p.YearsFor("credit"); got != 3 {
		t.Fatalf("credit years got %d want %d", got, 3)
	}
	if got := p.YearsFor("DEBIT"); got != 5 {
		t.Fatalf("debit years got %d want %d", got, 5)
	}
	if got := p.YearsFor("anything"); got != 5 {
		t.Fatalf("fallback years got %d want %d", got, 5)
	}
}

func TestValidThrough(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		face string
		want time.Time
	}{
		{"02/30", time.Date(2030, time.February, 28, 23, 59, 59, 999999999, time.UTC)},
		{"02/28", time.Date(2028, time.February, 29, 23, 59, 59, 999999999, time.UTC)},
		{"12/29", time.Date(2029, time.December, 31, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, c := range cases {
		got, err := p.ValidThrough(c.face)
		if err != nil {
			t.Fatalf("ValidThrough(%s) err: %v", c.face, err)
		}
		if !got.Equal(c.want) {
			t.Fatalf("ValidThrough(%s) got %v want %v", c.face, got, c.want)
		}
	}

	for _, bad := range []string{"13/30", "00/30", "1030", "ab/cd", ""} {
		if _, err := p.ValidThrough(bad); err == nil {
			t.Fatalf("ValidThrough(%q) expected error", bad)
		}
	}
}

func TestExpired(t *testing.T) {
	p := DefaultPolicy()
	end, _ := p.ValidThrough("02/30")

	expired, err := p.Expired("02/30", end)
	if err != nil || expired {
		t.Fatalf("expected not expired at end, got expired=%v err=%v", expired, err)
	}
	expired, err = p.Expired("02/30", end.Add(time.Nanosecond))
	if err != nil || !expired {
		t.Fatalf("expected expired after end, got expired=%v err=%v", expired, err)
	}
	if _, err := p.Expired("13/30", end); err == nil {
		t.Fatalf("expected error for 13/30")
	}
}

func TestExpired_Location(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	p := Policy{Location: loc}
	// 2030-02-28 20:00 UTC is already March in UTC+10
	at := time.Date(2030, time.February, 28, 20, 0, 0, 0, time.UTC)
	expired, err := p.Expired("02/30", at)
	if err != nil || !expired {
		t.Fatalf("expected expired in UTC+10, got expired=%v err=%v", expired, err)
	}
	if expired, _ := DefaultPolicy().Expired("02/30", at); expired {
		t.Fatalf("expected not expired in UTC")
	}
}

func TestCardFace_IsValidThroughIssueMonth(t *testing.T) {
	p := DefaultPolicy()
	issue := time.Date(2025, time.July, 31, 12, 0, 0, 0, time.UTC)
	face := p.CardFace(issue, "debit")
	if face != "07/30" {
		t.Fatalf("CardFace got %s want %s", face, "07/30")
	}
	if expired, err := p.Expired(face, issue); err != nil || expired {
		t.Fatalf("fresh card expired=%v err=%v", expired, err)
	}
}
