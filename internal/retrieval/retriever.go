// Package retrieval turns free-text study questions into ranked chunk hits.
package retrieval

import (
	"log/slog"
	"strings"

	"studyassist/internal/domain"
	"studyassist/internal/index"
)

const (
	// DefaultTopK is the default result budget per query.
	DefaultTopK = 12
	// DefaultThreshold is the raw top-score below which the retriever keeps
	// escalating through its fallback stages.
	DefaultThreshold = 0.15
)

// Retriever runs the staged search pipeline: normalized query first, then
// synonym expansion, then adjacent-word bigrams. A later stage's results are
// adopted only when its top raw score strictly beats the current best.
type Retriever struct {
	idx    *index.Index
	logger *slog.Logger
}

type Config struct {
	Index  *index.Index
	Logger *slog.Logger
}

func New(cfg Config) *Retriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{idx: cfg.Index, logger: cfg.Logger}
}

// Retrieve returns up to topK hits for the query, scores normalized to the
// top hit of the winning stage (top hit == 1.0 whenever hits are non-empty).
// No hits is a valid outcome, never an error.
func (r *Retriever) Retrieve(query string, topK int, threshold float64) []domain.Hit {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	normalized := Normalize(query)
	if normalized == "" || r.idx.Count() == 0 {
		return nil
	}

	best := r.idx.Search(normalized, topK)

	if topRaw(best) < threshold {
		if expanded := expandQuery(normalized); expanded != normalized {
			candidate := r.idx.Search(expanded, topK)
			if topRaw(candidate) > topRaw(best) {
				r.logger.Debug("synonym expansion adopted", "query", normalized, "expanded", expanded)
				best = candidate
			}
		}
	}

	if topRaw(best) < threshold {
		if bigrams := bigramQuery(normalized); bigrams != "" {
			candidate := r.idx.Search(bigrams, topK)
			if topRaw(candidate) > topRaw(best) {
				r.logger.Debug("bigram fallback adopted", "query", normalized)
				best = candidate
			}
		}
	}

	if len(best) == 0 {
		return nil
	}

	top := best[0].RawScore
	hits := make([]domain.Hit, len(best))
	for i, res := range best {
		score := res.RawScore / top
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		hits[i] = domain.Hit{
			ChunkID:  res.Doc.ID,
			SourceID: res.Doc.SourceID,
			Source:   res.Doc.Label,
			Page:     res.Doc.Page,
			Text:     res.Doc.Text,
			Score:    score,
		}
	}
	return hits
}

// topRaw returns the best raw score of a result set, zero when empty.
func topRaw(results []index.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	return results[0].RawScore
}

// Normalize lowercases the query, strips non-word characters, and drops
// stopwords and tokens of length <= 2. The result is the space-joined
// remainder; an empty result means the query has nothing searchable.
func Normalize(query string) string {
	tokens := index.Tokenize(query)
	kept := tokens[:0]
	for _, t := range tokens {
		if len(t) <= 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}

// expandQuery appends the synonym expansion of every key term present in the
// normalized query. Returns the input unchanged when nothing matched.
func expandQuery(normalized string) string {
	var extra []string
	for _, t := range strings.Fields(normalized) {
		if exp, ok := synonyms[t]; ok {
			extra = append(extra, exp)
		}
	}
	if len(extra) == 0 {
		return normalized
	}
	return normalized + " " + strings.Join(extra, " ")
}

// bigramQuery joins each adjacent token pair, doubling the weight of interior
// terms so multi-word concepts pull their chunks up.
func bigramQuery(normalized string) string {
	tokens := strings.Fields(normalized)
	if len(tokens) < 2 {
		return ""
	}
	pairs := make([]string, 0, len(tokens)-1)
	for i := 0; i < len(tokens)-1; i++ {
		pairs = append(pairs, tokens[i]+" "+tokens[i+1])
	}
	return strings.Join(pairs, " ")
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"with": {}, "this": {}, "that": {}, "from": {}, "have": {}, "has": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"how": {}, "does": {}, "can": {}, "could": {}, "would": {}, "should": {},
	"about": {}, "into": {}, "over": {}, "under": {}, "please": {},
	"explain": {}, "tell": {}, "show": {}, "give": {},
}

// synonyms maps a key study term to the vocabulary that tends to appear in
// course material covering it. Applied only when direct search is weak.
var synonyms = map[string]string{
	"algorithm":   "complexity analysis big-o time space",
	"algorithms":  "complexity analysis big-o time space",
	"complexity":  "big-o asymptotic runtime growth",
	"derivative":  "differentiation calculus rate change slope",
	"integral":    "integration calculus area antiderivative",
	"matrix":      "linear algebra rows columns determinant",
	"vector":      "linear algebra magnitude direction span",
	"probability": "statistics random variable distribution likelihood",
	"recursion":   "recursive base case call stack",
	"database":    "sql relational table query schema",
	"network":     "protocol packet tcp osi layer",
	"memory":      "ram cache heap stack allocation",
	"energy":      "kinetic potential joule thermodynamics work",
	"cell":        "membrane nucleus mitochondria organelle biology",
	"exam":        "test quiz midterm final practice review",
}
