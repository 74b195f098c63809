package cardgen

import (
	"strings"
	"testing"
)

func TestGeneratePAN(t *testing.T) {
	for i := 0; i < 50; i++ {
		pan, err := GeneratePAN(DefaultBIN, PANLength)
		if err != nil {
			t.Fatalf("GeneratePAN: %v", err)
		}
		if len(pan) != PANLength {
			t.Fatalf("len(%s) = %d want %d", pan, len(pan), PANLength)
		}
		if !strings.HasPrefix(pan, DefaultBIN) {
			t.Fatalf("pan %s does not start with bin", pan)
		}
		if err := ValidatePAN(pan); err != nil {
			t.Fatalf("ValidatePAN(%s): %v", pan, err)
		}
	}
	if _, err := GeneratePAN("12ab56", PANLength); err == nil {
		t.Fatalf("expected error for non numeric bin")
	}
	if _, err := GeneratePAN(DefaultBIN, 12); err == nil {
		t.Fatalf("expected error for short pan")
	}
}

func TestValidatePAN(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"4242424242424242", true},
		{"4242424242424241", false},
		{"4242-4242-4242-4242", false},
		{"123", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidatePAN(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("ValidatePAN(%q) ok=%v got err=%v", c.in, c.ok, err)
		}
	}
}

func TestValidateBIN(t *testing.T) {
	for _, bin := range []string{"421234", "42123456", "421234567"} {
		if err := ValidateBIN(bin); err != nil {
			t.Fatalf("ValidateBIN(%s): %v", bin, err)
		}
	}
	for _, bin := range []string{"", "4212", "4212345", "42123a"} {
		if err := ValidateBIN(bin); err == nil {
			t.Fatalf("ValidateBIN(%q) expected error", bin)
		}
	}
}

func TestGenerateUniquePAN(t *testing.T) {
	seen := map[string]bool{}
	calls := 0
	pan, err := GenerateUniquePAN(DefaultBIN, 3, func(p string) bool {
		calls++
		// first candidate is reported as taken
		if calls == 1 {
			seen[p] = true
			return true
		}
		return seen[p]
	})
	if err != nil {
		t.Fatalf("GenerateUniquePAN: %v", err)
	}
	if calls < 2 || seen[pan] {
		t.Fatalf("expected a retry and a fresh pan, calls=%d", calls)
	}

	if _, err := GenerateUniquePAN(DefaultBIN, 2, func(string) bool { return true }); err == nil {
		t.Fatalf("expected error when every pan exists")
	}
}

func TestMask(t *testing.T) {
	if got := MaskPAN("4242 4242 4242 4242"); got != "**** **** **** 4242" {
		t.Fatalf("MaskPAN got %q", got)
	}
	if got := MaskPAN("123"); got != "***" {
		t.Fatalf("MaskPAN short got %q", got)
	}
	if got := MaskPAN("4242-4242-4242-424"); got != "**** **** **** 2424" {
		t.Fatalf("MaskPAN 15 digits got %q", got)
	}
	if got := LastN("4242424242421234", 4); got != "1234" {
		t.Fatalf("LastN got %q", got)
	}
}

func TestHolderName(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"", ""},
		{"   ", ""},
		{"john  doe", "JOHN DOE"},
		{"  Alice\tSmith  ", "ALICE SMITH"},
		{"very very very very very long name here", "VERY VERY VERY VERY VERY L"},
	}
	for _, c := range cases {
		if got := HolderName(c.in); got != c.out {
			t.Fatalf("HolderName(%q) = %q want %q", c.in, got, c.out)
		}
	}
}
