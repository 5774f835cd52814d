package verify

import (
	"strings"
	"unicode"

	"github.com/hyperjump/mondai/internal/models"
)

// Fuzzy match thresholds.
const (
	FuzzyRatioThreshold   = 0.85
	FuzzyOverlapThreshold = 0.8
)

// MatchKind says how an answer was matched to an option.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchFuzzy     MatchKind = "fuzzy"
	MatchSynthetic MatchKind = "synthetic"
)

// Normalize lowercases s, drops punctuation and symbols, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// FindOption locates the option whose text is the answer. An exact match after
// normalization wins; otherwise the closest option by edit ratio or token overlap is
// taken if it clears the fuzzy thresholds. Returns -1 and "" when nothing matches.
func FindOption(options []models.Option, answer string) (int, MatchKind) {
	want := Normalize(answer)
	if want == "" {
		return -1, ""
	}
	for i, o := range options {
		if Normalize(o.Text) == want {
			return i, MatchExact
		}
	}

	best, bestScore := -1, 0.0
	for i, o := range options {
		got := Normalize(o.Text)
		if got == "" {
			continue
		}
		ratio := LevenshteinRatio(got, want)
		overlap := TokenOverlap(got, want)
		if ratio < FuzzyRatioThreshold && overlap < FuzzyOverlapThreshold {
			continue
		}
		if score := max(ratio, overlap); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return -1, ""
	}
	return best, MatchFuzzy
}

// TokenOverlap is the number of shared distinct tokens over the larger token set.
func TokenOverlap(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	return float64(shared) / float64(max(len(ta), len(tb)))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(Normalize(s)) {
		out[t] = true
	}
	return out
}
