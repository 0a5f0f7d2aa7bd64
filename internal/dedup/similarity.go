// Package dedup resolves records describing the same paper across sources
// and merges them into single entries.
//
// Identity resolution is three-tiered, attempted in fixed order: normalized
// DOI exact match, PMID exact match, then a Dice bigram title-similarity
// fallback. The tier order and the similarity threshold are load-bearing
// for deterministic behavior and must not be reordered.
package dedup

import (
	"strings"
	"unicode"
)

const (
	// MinTitleLength is the minimum normalized title length eligible for
	// the similarity fallback. Shorter titles produce too many false
	// positives on bigram overlap.
	MinTitleLength = 10

	// TitleSimilarityThreshold is the Dice coefficient two normalized
	// titles must exceed to be considered the same paper.
	TitleSimilarityThreshold = 0.90
)

// NormalizeTitle lowercases a title, strips punctuation, and collapses
// whitespace runs to single spaces.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	prevSpace := false

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}

	return strings.TrimRight(sb.String(), " ")
}

// TitlesMatch reports whether two raw titles resolve to the same paper.
// Both normalized titles must reach MinTitleLength; a full-containment
// fast path matches immediately, otherwise the Dice bigram coefficient
// must exceed TitleSimilarityThreshold.
func TitlesMatch(a, b string) bool {
	na := NormalizeTitle(a)
	nb := NormalizeTitle(b)

	if len(na) < MinTitleLength || len(nb) < MinTitleLength {
		return false
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}

	return DiceCoefficient(na, nb) > TitleSimilarityThreshold
}

// DiceCoefficient computes the Sorensen-Dice coefficient over character
// bigrams of two strings: 2*|intersection| / (|bigrams(a)| + |bigrams(b)|).
// Returns 1.0 for two identical strings and 0.0 when either string is
// shorter than one bigram.
func DiceCoefficient(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) < 2 || len(b) < 2 {
		return 0.0
	}

	bigramsA := make(map[string]int, len(a)-1)
	for i := 0; i+2 <= len(a); i++ {
		bigramsA[a[i:i+2]]++
	}

	intersection := 0
	for i := 0; i+2 <= len(b); i++ {
		bigram := b[i : i+2]
		if bigramsA[bigram] > 0 {
			bigramsA[bigram]--
			intersection++
		}
	}

	totalBigrams := (len(a) - 1) + (len(b) - 1)
	return 2.0 * float64(intersection) / float64(totalBigrams)
}
