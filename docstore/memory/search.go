package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/playvault/gamestore/docstore"
)

// defaultPageSize matches the store contract's default result window.
const defaultPageSize = 10

type scoredDoc struct {
	id    string
	doc   map[string]interface{}
	score float64
	pos   int // insertion order, last tie-break for determinism
}

// Search evaluates the query against every document in the collection
// and returns ranked, paginated hits.
func (s *Store) Search(ctx context.Context, collectionName string, q docstore.Query) ([]docstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, docstore.ErrStoreClosed
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return []docstore.Hit{}, nil
	}

	matched := make([]scoredDoc, 0)
	for pos, id := range c.order {
		doc := c.docs[id]
		score, ok := evaluate(doc, id, q)
		if !ok {
			continue
		}
		matched = append(matched, scoredDoc{id: id, doc: doc, score: score, pos: pos})
	}

	sortDocs(matched, q.Sort)

	from := q.From
	if from < 0 {
		from = 0
	}
	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if from >= len(matched) {
		return []docstore.Hit{}, nil
	}
	end := from + size
	if end > len(matched) {
		end = len(matched)
	}

	hits := make([]docstore.Hit, 0, end-from)
	for _, sd := range matched[from:end] {
		source, err := json.Marshal(sd.doc)
		if err != nil {
			return nil, fmt.Errorf("docstore/memory: failed to encode hit: %w", err)
		}
		hits = append(hits, docstore.Hit{ID: sd.id, Score: sd.score, Source: source})
	}
	return hits, nil
}

// evaluate applies every clause of the query to one document and
// returns its relevance score and whether it matched at all.
func evaluate(doc map[string]interface{}, id string, q docstore.Query) (float64, bool) {
	if len(q.IDs) > 0 && !containsString(q.IDs, id) {
		return 0, false
	}
	if containsString(q.ExcludeIDs, id) {
		return 0, false
	}
	for _, term := range q.Must {
		if !termMatches(doc, term) {
			return 0, false
		}
	}
	for _, term := range q.Filter {
		if !termMatches(doc, term) {
			return 0, false
		}
	}
	if q.Range != nil && !rangeMatches(doc, *q.Range) {
		return 0, false
	}

	var score float64

	if q.MultiMatch != nil {
		mmScore := multiMatchScore(doc, *q.MultiMatch)
		if mmScore == 0 {
			return 0, false
		}
		score += mmScore
	}

	if len(q.Should) > 0 {
		matches := 0
		for _, term := range q.Should {
			if termMatches(doc, term) {
				matches++
				boost := term.Boost
				if boost == 0 {
					boost = 1.0
				}
				score += boost
			}
		}
		required := q.MinimumShouldMatch
		if matches < required {
			return 0, false
		}
	}

	return score, true
}

// multiMatchScore scores one fuzzy term across weighted fields: every
// query token that matches a field token contributes the field boost.
func multiMatchScore(doc map[string]interface{}, mm docstore.MultiMatch) float64 {
	queryTokens := tokenize(mm.Term)
	if len(queryTokens) == 0 {
		return 0
	}

	var score float64
	for _, field := range mm.Fields {
		boost := field.Boost
		if boost == 0 {
			boost = 1.0
		}
		var fieldTokens []string
		for _, value := range fieldValues(doc, field.Name) {
			if s, ok := value.(string); ok {
				fieldTokens = append(fieldTokens, tokenize(s)...)
			}
		}
		for _, qt := range queryTokens {
			for _, ft := range fieldTokens {
				if tokensMatch(qt, ft, mm.Fuzzy) {
					score += boost
					break
				}
			}
		}
	}
	return score
}

// tokensMatch reports an exact match, or a fuzzy match within the
// edit distance allowed for the token length (0 for short tokens,
// 1 up to five runes, 2 beyond).
func tokensMatch(query, field string, fuzzy bool) bool {
	if query == field {
		return true
	}
	if !fuzzy {
		return false
	}
	var maxEdits int
	switch n := len([]rune(query)); {
	case n < 3:
		maxEdits = 0
	case n <= 5:
		maxEdits = 1
	default:
		maxEdits = 2
	}
	if maxEdits == 0 {
		return false
	}
	return editDistance(query, field) <= maxEdits
}

// editDistance is the Levenshtein distance between two tokens.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
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
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
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

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termMatches reports whether any value at the term's field path
// equals the term value.
func termMatches(doc map[string]interface{}, term docstore.Term) bool {
	want := normalizeValue(term.Value)
	for _, value := range fieldValues(doc, term.Field) {
		if normalizeValue(value) == want {
			return true
		}
	}
	return false
}

// normalizeValue maps values into the comparable domain the JSON
// round-trip produces: float64 for numbers, native bool and string.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func rangeMatches(doc map[string]interface{}, r docstore.DateRange) bool {
	for _, value := range fieldValues(doc, r.Field) {
		t, ok := parseTime(value)
		if !ok {
			continue
		}
		if !t.Before(r.From) && !t.After(r.To) {
			return true
		}
	}
	return false
}

func parseTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fieldValues resolves a dotted field path against a document,
// flattening through arrays ("items.genre" yields one value per item).
func fieldValues(doc map[string]interface{}, path string) []interface{} {
	parts := strings.Split(path, ".")
	current := []interface{}{doc}
	for _, part := range parts {
		next := make([]interface{}, 0, len(current))
		for _, node := range current {
			switch n := node.(type) {
			case map[string]interface{}:
				if v, ok := n[part]; ok {
					next = append(next, v)
				}
			case []interface{}:
				for _, item := range n {
					if m, ok := item.(map[string]interface{}); ok {
						if v, ok := m[part]; ok {
							next = append(next, v)
						}
					}
				}
			}
		}
		current = next
	}

	// Flatten one trailing array level so "tags" yields each tag.
	flattened := make([]interface{}, 0, len(current))
	for _, v := range current {
		if arr, ok := v.([]interface{}); ok {
			flattened = append(flattened, arr...)
		} else {
			flattened = append(flattened, v)
		}
	}
	return flattened
}

// sortDocs ranks matched documents by the sort keys in order, falling
// back to insertion order for full ties.
func sortDocs(docs []scoredDoc, keys []docstore.SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareDocs(docs[i], docs[j], key)
			if cmp != 0 {
				if key.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return docs[i].pos < docs[j].pos
	})
}

func compareDocs(a, b scoredDoc, key docstore.SortField) int {
	if key.Field == docstore.ScoreField {
		return compareFloat(a.score, b.score)
	}
	av := firstValue(a.doc, key.Field)
	bv := firstValue(b.doc, key.Field)

	if at, ok := parseTime(av); ok {
		if bt, ok := parseTime(bv); ok {
			return at.Compare(bt)
		}
	}
	if af, ok := av.(float64); ok {
		if bf, ok := bv.(float64); ok {
			return compareFloat(af, bf)
		}
	}
	as, _ := av.(string)
	bs, _ := bv.(string)
	return strings.Compare(as, bs)
}

func firstValue(doc map[string]interface{}, path string) interface{} {
	values := fieldValues(doc, path)
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
