package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Intercessor Squad", "intercessorsquad"},
		{"strips punctuation", "T'au Empire", "tauempire"},
		{"strips diacritics", "Adepta Sororitás", "adeptasororitas"},
		{"expands ampersand", "Command & Control", "commandandcontrol"},
		{"collapses whitespace", "  Space   Marines  ", "spacemarines"},
		{"keeps digits", "10th Edition", "10thedition"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNameSimilarityScore(t *testing.T) {
	sim := NameSimilarity{}

	assert.Equal(t, 1.0, sim.Score("Intercessor Squad", "intercessor squad"))
	assert.Equal(t, 0.0, sim.Score("", "Intercessor Squad"))

	close := sim.Score("Intercessor Squad", "Intercessor Squads")
	assert.Greater(t, close, 0.9)
	assert.Less(t, close, 1.0)

	far := sim.Score("Intercessor Squad", "Ork Boyz")
	assert.Less(t, far, 0.5)

	// Symmetry.
	assert.Equal(t,
		sim.Score("Terminator Squad", "Terminator Assault Squad"),
		sim.Score("Terminator Assault Squad", "Terminator Squad"),
	)
}

func TestNameSimilarityScoreMultiByteNames(t *testing.T) {
	sim := NameSimilarity{}

	// Five runes, one substitution. A byte-based denominator would dilute
	// the distance (these letters are two bytes each) and report 0.9.
	score := sim.Score("æøæøæ", "æøæøx")
	assert.InDelta(t, 0.8, score, 1e-9)
}
