package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Similarity scores how alike two entity names are, in [0, 1].
// Implementations must be symmetric and return 1 for equal inputs.
type Similarity interface {
	Score(a, b string) float64
}

// NameSimilarity is the default strategy: names are normalized (case
// folded, diacritics stripped, punctuation dropped) and compared by
// Levenshtein distance scaled to the longer name's length.
type NameSimilarity struct{}

// Score implements Similarity.
func (NameSimilarity) Score(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ra := []rune(na)
	rb := []rune(nb)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	dist := levenshtein(ra, rb)
	return 1 - float64(dist)/float64(longest)
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize reduces a name to its comparable core: lowercase, diacritics
// stripped, symbol words expanded, everything but letters and digits dropped.
func Normalize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	lowered := strings.ToLower(input)
	lowered = strings.ReplaceAll(lowered, "&", "and")
	lowered = strings.ReplaceAll(lowered, "+", "and")

	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var builder strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func levenshtein(ra, rb []rune) int {
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
