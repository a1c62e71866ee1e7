package search

import (
	"math"
	"strings"
	"sync"
	"unicode"
)

// stopWords are skipped during tokenization. They carry almost no
// signal and would otherwise dominate the overlap score on short notes.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "he": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "were": true, "will": true,
	"with": true,
}

// Tokenize lowercases text and splits it into stop-word-filtered terms.
// Splits on any rune that is not a letter or digit.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// LexicalIndex is an inverted index mapping terms to the documents that
// contain them, used for keyword scoring. Safe for concurrent use.
type LexicalIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]bool // term -> set of doc IDs
	docTerms map[string][]string        // doc ID -> its terms (for removal)
}

// NewLexicalIndex creates an empty inverted index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		postings: make(map[string]map[string]bool),
		docTerms: make(map[string][]string),
	}
}

// Index adds or replaces a document. Existing postings for the ID are
// removed first, so re-indexing after an edit is a single call.
func (x *LexicalIndex) Index(id, text string) {
	terms := Tokenize(text)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(id)
	for _, t := range terms {
		set := x.postings[t]
		if set == nil {
			set = make(map[string]bool)
			x.postings[t] = set
		}
		set[id] = true
	}
	x.docTerms[id] = terms
}

// Remove deletes a document from the index. Removing an unknown ID is
// a no-op.
func (x *LexicalIndex) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *LexicalIndex) removeLocked(id string) {
	for _, t := range x.docTerms[id] {
		if set := x.postings[t]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.postings, t)
			}
		}
	}
	delete(x.docTerms, id)
}

// Count returns the number of indexed documents.
func (x *LexicalIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docTerms)
}

// Match scores every document sharing at least one term with the query.
//
// The score is an IDF-weighted overlap:
//
//	score(doc) = Σ idf(t) for query terms t present in doc
//	           / Σ idf(t) for all query terms t
//
// which is bounded in [0, 1] (1 means the document contains every query
// term) and weights rare terms above common ones. IDF is smoothed so
// terms absent from the corpus still contribute to the denominator.
func (x *LexicalIndex) Match(queryTerms []string) map[string]float64 {
	scores := make(map[string]float64)
	if len(queryTerms) == 0 {
		return scores
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := float64(len(x.docTerms))

	// Deduplicate query terms so repeated words don't inflate weight.
	seen := make(map[string]bool, len(queryTerms))
	var totalIDF float64
	type weighted struct {
		term string
		idf  float64
	}
	terms := make([]weighted, 0, len(queryTerms))
	for _, t := range queryTerms {
		if seen[t] {
			continue
		}
		seen[t] = true
		df := float64(len(x.postings[t]))
		idf := math.Log(1 + (n+1)/(df+1))
		totalIDF += idf
		terms = append(terms, weighted{term: t, idf: idf})
	}
	if totalIDF == 0 {
		return scores
	}

	for _, w := range terms {
		for id := range x.postings[w.term] {
			scores[id] += w.idf
		}
	}
	for id := range scores {
		scores[id] /= totalIDF
	}
	return scores
}
