// Package index maintains the in-memory inverted index over document chunks.
package index

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	// Field weights: chunk body text counts double against the source label.
	bodyWeight  = 2.0
	labelWeight = 1.0

	prefixPenalty = 0.5
	fuzzyPenalty  = 0.45
)

// fieldFreq is one posting: how often a term occurs in each field of a chunk.
type fieldFreq struct {
	body  int
	label int
}

// entry is the shadow record for one indexed chunk. Keeping the chunk and its
// term lists lets Put upsert incrementally: on an id collision the old
// postings are deleted and the new ones inserted, never a full rebuild.
type entry struct {
	doc        Document
	bodyTerms  []string
	labelTerms []string
	order      int
}

// Document is one indexable chunk plus the label of its source.
type Document struct {
	ID       string
	SourceID string
	Page     int
	Text     string
	Label    string
}

// Result is one raw-scored search match. Scores are engine-relative and only
// meaningful within a single query; the retriever normalizes them.
type Result struct {
	Doc      Document
	RawScore float64
}

// Index is an inverted index with weighted body/label fields, prefix
// matching, and fuzzy edit-distance tolerance. All methods are safe for
// concurrent use, and all are synchronous: ingesting a large corpus blocks
// the caller for the duration.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	postings map[string]map[string]*fieldFreq
	nextOrd  int
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		entries:  make(map[string]*entry),
		postings: make(map[string]map[string]*fieldFreq),
		logger:   logger,
	}
}

// Put indexes the given documents. Ingestion is idempotent by id: a document
// whose id is already present replaces its previous posting set.
func (ix *Index) Put(docs ...Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, doc := range docs {
		if _, exists := ix.entries[doc.ID]; exists {
			ix.removeLocked(doc.ID)
		}
		ix.addLocked(doc)
	}
}

// Remove drops every document belonging to the given source.
func (ix *Index) Remove(sourceID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for id, e := range ix.entries {
		if e.doc.SourceID == sourceID {
			ix.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Clear empties the index.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]*entry)
	ix.postings = make(map[string]map[string]*fieldFreq)
	ix.nextOrd = 0
}

// Count reports the number of indexed chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) addLocked(doc Document) {
	e := &entry{
		doc:        doc,
		bodyTerms:  Tokenize(doc.Text),
		labelTerms: Tokenize(doc.Label),
		order:      ix.nextOrd,
	}
	ix.nextOrd++
	ix.entries[doc.ID] = e

	for _, t := range e.bodyTerms {
		ix.posting(t, doc.ID).body++
	}
	for _, t := range e.labelTerms {
		ix.posting(t, doc.ID).label++
	}
}

func (ix *Index) removeLocked(id string) {
	e, ok := ix.entries[id]
	if !ok {
		return
	}
	for _, t := range append(append([]string{}, e.bodyTerms...), e.labelTerms...) {
		if docs, ok := ix.postings[t]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(ix.postings, t)
			}
		}
	}
	delete(ix.entries, id)
}

func (ix *Index) posting(term, docID string) *fieldFreq {
	docs, ok := ix.postings[term]
	if !ok {
		docs = make(map[string]*fieldFreq)
		ix.postings[term] = docs
	}
	ff, ok := docs[docID]
	if !ok {
		ff = &fieldFreq{}
		docs[docID] = ff
	}
	return ff
}

// Search scores every chunk against the query and returns up to limit
// results in descending raw-score order. Ties keep insertion order. An empty
// query or empty index yields no results and no error.
func (ix *Index) Search(query string, limit int) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, qt := range terms {
		for term, penalty := range ix.matchTerms(qt) {
			docs := ix.postings[term]
			idf := math.Log(1 + float64(len(ix.entries))/float64(len(docs)))
			for docID, ff := range docs {
				tfw := bodyWeight*tf(ff.body) + labelWeight*tf(ff.label)
				scores[docID] += penalty * idf * tfw
			}
		}
	}

	results := make([]Result, 0, len(scores))
	for docID, s := range scores {
		results = append(results, Result{Doc: ix.entries[docID].doc, RawScore: s})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return ix.entries[results[i].Doc.ID].order < ix.entries[results[j].Doc.ID].order
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// matchTerms expands one query token into the indexed terms it matches,
// mapped to the penalty multiplier for the match kind. Exact beats prefix
// beats fuzzy; a term matched several ways keeps its best multiplier.
func (ix *Index) matchTerms(token string) map[string]float64 {
	matched := make(map[string]float64)
	if _, ok := ix.postings[token]; ok {
		matched[token] = 1.0
	}

	maxEdits := fuzzyEdits(token)
	for term := range ix.postings {
		if _, ok := matched[term]; ok {
			continue
		}
		if len(term) > len(token) && strings.HasPrefix(term, token) {
			matched[term] = prefixPenalty
			continue
		}
		if maxEdits > 0 && withinEditDistance(token, term, maxEdits) {
			matched[term] = fuzzyPenalty
		}
	}
	return matched
}

// tf dampens raw term frequency so a long page repeating a word does not
// drown out everything else.
func tf(n int) float64 {
	if n == 0 {
		return 0
	}
	return 1 + math.Log(float64(n))
}

// fuzzyEdits returns the edit-distance budget for a query token: none for
// short tokens, one for medium, two for long.
func fuzzyEdits(token string) int {
	switch {
	case len(token) >= 9:
		return 2
	case len(token) >= 5:
		return 1
	default:
		return 0
	}
}

// withinEditDistance reports whether the Levenshtein distance between a and
// b is at most max, bailing out early on length alone where possible.
func withinEditDistance(a, b string, max int) bool {
	if abs(len(a)-len(b)) > max {
		return false
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > max {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(b)] <= max
}

// Tokenize lowercases and splits on any non-letter, non-digit rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
