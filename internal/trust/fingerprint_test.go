package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "abc123", b: "abc123", want: 1.0},
		{name: "both empty", a: "", b: "", want: 0.0},
		{name: "left empty", a: "", b: "abc", want: 0.0},
		{name: "right empty", a: "abc", b: "", want: 0.0},
		{name: "one edit in four", a: "abcd", b: "abce", want: 0.75},
		{name: "disjoint", a: "aaaa", b: "bbbb", want: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}

	t.Run("normalizes by the longer string", func(t *testing.T) {
		t.Parallel()

		// distance 4 over max length 8
		assert.InDelta(t, 0.5, Similarity("abcd", "abcdabcd"), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, Similarity("fingerprint-a", "fingerprint-b"), Similarity("fingerprint-b", "fingerprint-a"))
	})
}
