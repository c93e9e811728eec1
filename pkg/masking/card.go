package masking

import (
	"regexp"
	"strings"
)

// cardCandidate matches 13 to 19 digit runs with optional single separators,
// the format space of payment card numbers. Candidates are confirmed with a
// Luhn check before redaction so order numbers and timestamps survive.
var cardCandidate = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`)

// CardMasker redacts payment card numbers. It is code-based rather than a
// plain regex because a digit run is only a card number when its Luhn
// checksum holds.
type CardMasker struct{}

// Name returns the unique identifier for this masker.
func (m *CardMasker) Name() string { return "card_number" }

// Placeholder is the typed replacement this masker inserts.
func (m *CardMasker) Placeholder() string { return "<CARD>" }

// AppliesTo checks for a digit run long enough to be a card number.
func (m *CardMasker) AppliesTo(data string) bool {
	run := 0
	for _, r := range data {
		switch {
		case r >= '0' && r <= '9':
			run++
			if run >= 13 {
				return true
			}
		case r == ' ' || r == '-':
			// separators do not reset the run
		default:
			run = 0
		}
	}
	return false
}

// Mask replaces every Luhn-valid candidate with <CARD>.
func (m *CardMasker) Mask(data string) (string, int) {
	count := 0
	masked := cardCandidate.ReplaceAllStringFunc(data, func(candidate string) string {
		if !luhnValid(candidate) {
			return candidate
		}
		count++
		return m.Placeholder()
	})
	return masked, count
}

// luhnValid reports whether the digits of s satisfy the Luhn checksum.
func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
