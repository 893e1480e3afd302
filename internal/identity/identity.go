// Package identity computes the canonical keys that join the denormalized
// tables: the normalized clinic display name and the lower-cased email.
// There is no stored join key between participant rows and the catalog, so
// every comparison in the system goes through these functions.
package identity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KeyDelimiter separates email and clinic key in a composite key. Neither
// component may contain it: emails cannot, and clinic keys are built from
// date/time/location strings.
const KeyDelimiter = "|"

var (
	seatSuffixRe  = regexp.MustCompile(`\s\(.*\)$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	commaSpaceRe  = regexp.MustCompile(`\s*,\s*`)
	dashSpaceRe   = regexp.MustCompile(`\s*-\s*`)
	nbspReplacer  = strings.NewReplacer(" ", " ", " ", " ", " ", " ")
	clinicDateRe  = regexp.MustCompile(`(?i)(\d{1,2})\s+(januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december)\s+(\d{4})`)
)

// NormalizeClinicKey lower-cases, collapses whitespace (including Unicode
// no-break spaces), normalizes comma and dash spacing and trims. Empty input
// yields the empty string; callers must treat an empty key as unmatched.
func NormalizeClinicKey(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ToLower(raw)
	s = nbspReplacer.Replace(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = commaSpaceRe.ReplaceAllString(s, ", ")
	s = dashSpaceRe.ReplaceAllString(s, "-")
	return strings.TrimSpace(s)
}

// NormalizeEmail trims and lower-cases.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// CompositeKey joins a normalized email and normalized clinic key. An empty
// component makes the composite unmatched; callers must not treat it as a
// wildcard.
func CompositeKey(email, clinicKey string) string {
	return NormalizeEmail(email) + KeyDelimiter + NormalizeClinicKey(clinicKey)
}

// StripSeatSuffix splits a raw event-name string into its base name and the
// trailing seat-count annotation (" (3 plaatsen over)") if any. The suffix is
// returned verbatim so it can be reattached unchanged after a rename.
func StripSeatSuffix(raw string) (base, suffix string) {
	loc := seatSuffixRe.FindStringIndex(raw)
	if loc == nil {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(raw[:loc[0]]), raw[loc[0]:]
}

var dayNamesDutch = [...]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"}

var monthNamesDutch = [...]string{
	"januari", "februari", "maart", "april", "mei", "juni",
	"juli", "augustus", "september", "oktober", "november", "december",
}

// DutchDateString formats a date the way clinic display names embed it:
// "zaterdag 7 december 2025".
func DutchDateString(t time.Time) string {
	if t.IsZero() {
		return "onbekende datum"
	}
	return fmt.Sprintf("%s %d %s %d",
		dayNamesDutch[int(t.Weekday())], t.Day(), monthNamesDutch[int(t.Month())-1], t.Year())
}

// ParseDutchClinicDate extracts the date embedded in a clinic display name
// such as "zaterdag 7 december 2025 10:00-13:00, Amsterdam".
func ParseDutchClinicDate(name string) (time.Time, bool) {
	m := clinicDateRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	day := atoi(m[1])
	year := atoi(m[3])
	month := 0
	lower := strings.ToLower(m[2])
	for i, n := range monthNamesDutch {
		if n == lower {
			month = i + 1
			break
		}
	}
	if day < 1 || day > 31 || month == 0 || year == 0 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local), true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
