// Package quality decides whether extracted text is real text or noise.
//
// Heuristics change over time, so each rule set is a named Policy. A batch
// run records the policy version it used, which keeps old outputs
// reproducible after the defaults move.
package quality

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	VersionRatioV2  = "ratio-v2"
	VersionLegacyV1 = "legacy-v1"
)

// Policy holds the classifier thresholds
type Policy struct {
	Version string
	// MinLength is the minimum rune count after trimming whitespace
	MinLength int
	// MinRatio is the minimum share of alphanumeric-or-whitespace runes
	MinRatio float64
}

// DefaultPolicy returns the ratio-v2 policy with its default thresholds
func DefaultPolicy() Policy {
	return Policy{Version: VersionRatioV2, MinLength: 3, MinRatio: 0.7}
}

// IsReadable reports whether text looks like real text under policy p.
// Empty text is never readable.
func IsReadable(text string, p Policy) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if utf8.RuneCountInString(trimmed) < p.MinLength {
		return false
	}

	switch p.Version {
	case VersionLegacyV1:
		return legacyReadable(trimmed)
	default:
		return Ratio(trimmed) >= p.MinRatio
	}
}

// Ratio returns the share of alphanumeric-or-whitespace runes in text
func Ratio(text string) float64 {
	total, good := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}

const legacyAllowedPunct = `.,;:!?()-[]{}"'`

// legacyReadable needs mostly letters, few odd symbols, and spaces in
// anything longer than a single token.
func legacyReadable(text string) bool {
	total, letters, weird := 0, 0, 0
	hasSpace := false
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
		case unicode.IsSpace(r):
			hasSpace = true
		case strings.ContainsRune(legacyAllowedPunct, r):
		default:
			weird++
		}
	}

	if float64(letters)/float64(total) < 0.4 {
		return false
	}
	if float64(weird)/float64(total) > 0.1 {
		return false
	}
	if total > 20 && !hasSpace {
		return false
	}
	return true
}
