package trust

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity scores two device fingerprints in [0, 1]. Identical non-empty
// strings score 1.0. A missing fingerprint on either side scores 0.0, so an
// absent fingerprint never passes as a match. Otherwise the score is the
// normalized Levenshtein distance over the longer string.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	// ComputeDistance counts runes, so normalize by rune length too.
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
