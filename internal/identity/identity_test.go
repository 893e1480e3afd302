package identity

import (
	"testing"
	"time"
)

func TestNormalizeClinicKey_Idempotent(t *testing.T) {
	inputs := []string{
		"zaterdag 7 december 2025 10:00-13:00, Amsterdam",
		"Zaterdag  7 December 2025 10:00 - 13:00 ,Amsterdam",
		"zondag 1 juni 2025 10:00-13:00, Den Haag",
		"",
	}
	for _, in := range inputs {
		once := NormalizeClinicKey(in)
		twice := NormalizeClinicKey(once)
		if once != twice {
			t.Errorf("normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeClinicKey_EquivalentForms(t *testing.T) {
	want := NormalizeClinicKey("zaterdag 7 december 2025 10:00-13:00, Amsterdam")
	variants := []string{
		"Zaterdag 7 December 2025 10:00-13:00, Amsterdam",
		"zaterdag 7 december 2025 10:00 - 13:00 , Amsterdam",
		"zaterdag  7 december 2025 10:00-13:00,Amsterdam",
	}
	for _, v := range variants {
		if got := NormalizeClinicKey(v); got != want {
			t.Errorf("NormalizeClinicKey(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeClinicKey_Empty(t *testing.T) {
	if got := NormalizeClinicKey(""); got != "" {
		t.Fatalf("empty input must stay empty, got %q", got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	a := NormalizeEmail("  Jan.Jansen@Example.COM ")
	b := NormalizeEmail("jan.jansen@example.com")
	if a != b {
		t.Fatalf("emails differing only in case/whitespace must normalize equal: %q vs %q", a, b)
	}
}

func TestStripSeatSuffix(t *testing.T) {
	tests := []struct {
		in, base, suffix string
	}{
		{"zaterdag 7 december 2025 10:00-13:00, Amsterdam (3 plaatsen over)",
			"zaterdag 7 december 2025 10:00-13:00, Amsterdam", " (3 plaatsen over)"},
		{"zaterdag 7 december 2025 10:00-13:00, Amsterdam (1 plaats over)",
			"zaterdag 7 december 2025 10:00-13:00, Amsterdam", " (1 plaats over)"},
		{"zaterdag 7 december 2025 10:00-13:00, Amsterdam",
			"zaterdag 7 december 2025 10:00-13:00, Amsterdam", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		base, suffix := StripSeatSuffix(tt.in)
		if base != tt.base || suffix != tt.suffix {
			t.Errorf("StripSeatSuffix(%q) = (%q, %q), want (%q, %q)", tt.in, base, suffix, tt.base, tt.suffix)
		}
	}
}

func TestStripSeatSuffix_Reattach(t *testing.T) {
	raw := "zaterdag 7 december 2025 10:00-13:00, Amsterdam (3 plaatsen over)"
	base, suffix := StripSeatSuffix(raw)
	renamed := "zaterdag 7 december 2025 11:00-14:00, Amsterdam"
	got := renamed + suffix
	if got != "zaterdag 7 december 2025 11:00-14:00, Amsterdam (3 plaatsen over)" {
		t.Fatalf("suffix not preserved verbatim: %q", got)
	}
	_ = base
}

func TestCompositeKey(t *testing.T) {
	k1 := CompositeKey("Jan@Example.com", "Zaterdag 7 December 2025 10:00-13:00, Amsterdam")
	k2 := CompositeKey("jan@example.com", "zaterdag 7 december 2025 10:00 - 13:00, Amsterdam")
	if k1 != k2 {
		t.Fatalf("composite keys must match after normalization: %q vs %q", k1, k2)
	}
}

func TestDutchDateString(t *testing.T) {
	d := time.Date(2025, 12, 7, 0, 0, 0, 0, time.Local)
	if got := DutchDateString(d); got != "zondag 7 december 2025" {
		t.Fatalf("DutchDateString = %q", got)
	}
}

func TestParseDutchClinicDate(t *testing.T) {
	d, ok := ParseDutchClinicDate("zaterdag 7 december 2025 10:00-13:00, Amsterdam")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if d.Year() != 2025 || d.Month() != time.December || d.Day() != 7 {
		t.Fatalf("parsed wrong date: %v", d)
	}
	if _, ok := ParseDutchClinicDate("geen datum hier"); ok {
		t.Fatal("expected parse to fail")
	}
}
