// Package textnorm canonicalizes platform keywords and parses the loosely
// formatted numbers and dates that trend boards report.
package textnorm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Chinese magnitude suffixes used by heat counters.
const (
	wan = 10_000
	yi  = 100_000_000
)

// ErrInvalidHeat indicates a heat value that is not a number.
var ErrInvalidHeat = errors.New("invalid heat value")

// Clean trims a raw keyword and collapses internal whitespace runs to one
// space. The result is the stored keyword.
func Clean(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Normalize returns the canonical form used for embeddings: NFKC width
// folding, Unicode case folding, hashtag markers removed, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = strings.Trim(Clean(s), "#")

	return Clean(s)
}

// ParseHeat converts values such as "541.2万", "1.5亿", "12,345" or "3.2w" to
// an integer. Empty input is zero.
func ParseHeat(s string) (int64, error) {
	s = strings.TrimSpace(norm.NFKC.String(s))
	if s == "" {
		return 0, nil
	}

	multiplier := 1.0

	switch {
	case strings.HasSuffix(s, "亿"):
		multiplier = yi
		s = strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "万"):
		multiplier = wan
		s = strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
		multiplier = wan
		s = s[:len(s)-1]
	}

	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHeat, s)
	}

	return int64(math.Round(v * multiplier)), nil
}

// ParseSeenAt parses a free-form timestamp. Unix seconds and milliseconds are
// accepted as well as the layouts dateparse understands; zone-less values are
// read in loc. Empty input returns fallback.
func ParseSeenAt(s string, loc *time.Location, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}

	if loc == nil {
		loc = time.UTC
	}

	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse seen_at %q: %w", s, err)
	}

	return t.UTC(), nil
}
