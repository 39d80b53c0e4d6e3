package citation

import (
	"log/slog"
	"strings"
)

// DefaultThreshold is the score a snippet must exceed to be cited.
const DefaultThreshold = 0.1

// Scorer rates how well a snippet matches a chunk, in [0, 1].
type Scorer interface {
	Score(chunkText, snippetText string) float64
}

type ScorerFunc func(chunkText, snippetText string) float64

func (f ScorerFunc) Score(chunkText, snippetText string) float64 {
	return f(chunkText, snippetText)
}

// Jaccard scores by word-set overlap: |A ∩ B| / |A ∪ B|.
var Jaccard = ScorerFunc(func(chunkText, snippetText string) float64 {
	a := wordSet(chunkText)
	b := wordSet(snippetText)
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
})

// Normalize lowercases text and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Locator maps chunk text back to an approximate transcript timestamp.
type Locator struct {
	Scorer    Scorer
	Threshold float64
}

func NewLocator() *Locator {
	return &Locator{Scorer: Jaccard, Threshold: DefaultThreshold}
}

// Locate returns the start of the best scoring snippet when its score is above
// the threshold. Ties go to the earliest snippet. It never fails: a scorer
// panic is treated as no match.
func (l *Locator) Locate(chunkText string, snippets []Snippet) (start float64, found bool) {
	if len(snippets) == 0 {
		return 0, false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("citation scorer panicked", "error", r)
			start, found = 0, false
		}
	}()

	scorer := l.Scorer
	if scorer == nil {
		scorer = Jaccard
	}

	best, bestScore := -1, 0.0
	for i, sn := range snippets {
		score := scorer.Score(chunkText, sn.Text)
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if bestScore > l.Threshold {
		return snippets[best].Start, true
	}
	return 0, false
}
