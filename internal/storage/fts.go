package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/axon-sql/internal/graph"
)

// Key prefixes for the fact search index
const (
	prefixFTSToken = "fts:t:" // fts:t:token:factID -> frequency
	prefixFTSMeta  = "fts:m:" // fts:m:factID -> SearchResult JSON
)

const snippetLen = 160

var (
	separatorRe = regexp.MustCompile(`[_\.\-\s:/#]+`)
	camelRe     = regexp.MustCompile(`([a-z])([A-Z])`)
	alphaNumRe  = regexp.MustCompile(`([a-zA-Z])(\d)`)
	numAlphaRe  = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// tokenize splits text into searchable tokens.
// Handles camelCase, snake_case, dot notation and number boundaries.
func tokenize(text string) []string {
	tokens := make(map[string]bool)
	add := func(s string) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			tokens[s] = true
		}
	}

	for _, word := range strings.Fields(text) {
		add(word)

		// "order_dao.save" -> "order", "dao", "save"
		for _, part := range separatorRe.Split(word, -1) {
			add(part)

			// "OrderDao" -> "Order", "Dao"
			for _, p := range strings.Fields(camelRe.ReplaceAllString(part, "$1 $2")) {
				add(p)
			}

			// "HTTP2" -> "HTTP", "2"
			numSplit := alphaNumRe.ReplaceAllString(part, "$1 $2")
			for _, p := range strings.Fields(numAlphaRe.ReplaceAllString(numSplit, "$1 $2")) {
				add(p)
			}
		}
	}

	result := make([]string, 0, len(tokens))
	for t := range tokens {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// factTokens counts token frequencies of a fact.
func factTokens(f *graph.SourceFact) map[string]int {
	freq := make(map[string]int)
	for _, field := range []string{f.SimpleName(), f.QualifiedName, f.Namespace, f.StatementID} {
		for _, t := range tokenize(field) {
			freq[t]++
		}
	}
	return freq
}

func factMeta(f *graph.SourceFact) SearchResult {
	snippet := f.SQL
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	return SearchResult{
		FactID:        f.ID,
		Name:          f.SimpleName(),
		QualifiedName: f.QualifiedName,
		Kind:          f.Kind,
		ArtifactID:    f.ArtifactID,
		Snippet:       snippet,
	}
}

// rankResults orders scored facts by score, then ID, and applies limit.
func rankResults(scores map[string]float64, meta func(id string) (SearchResult, bool), limit int) []SearchResult {
	results := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		r, ok := meta(id)
		if !ok {
			continue
		}
		r.Score = score
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FactID < results[j].FactID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// FactIndex is an inverted index of fact names stored in BadgerDB.
type FactIndex struct {
	db *badger.DB
}

// NewFactIndex creates a fact index using the given BadgerDB instance.
func NewFactIndex(db *badger.DB) *FactIndex {
	return &FactIndex{db: db}
}

// writeBatch adds a fact to a write batch. Used by BulkLoad on an empty store.
func (f *FactIndex) writeBatch(wb *badger.WriteBatch, fact *graph.SourceFact) error {
	for token, freq := range factTokens(fact) {
		key := fmt.Sprintf("%s%s:%s", prefixFTSToken, token, fact.ID)
		if err := wb.Set([]byte(key), []byte(strconv.Itoa(freq))); err != nil {
			return fmt.Errorf("setting token index: %w", err)
		}
	}
	meta, err := json.Marshal(factMeta(fact))
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := wb.Set([]byte(prefixFTSMeta+fact.ID), meta); err != nil {
		return fmt.Errorf("setting metadata: %w", err)
	}
	return nil
}

// IndexFact adds or updates a single fact.
func (f *FactIndex) IndexFact(fact *graph.SourceFact) error {
	if f.db == nil {
		return ErrNotInitialized
	}

	txn := f.db.NewTransaction(true)
	defer txn.Discard()

	if err := f.deleteFactTokens(txn, fact.ID); err != nil {
		return err
	}
	for token, freq := range factTokens(fact) {
		key := fmt.Sprintf("%s%s:%s", prefixFTSToken, token, fact.ID)
		if err := txn.Set([]byte(key), []byte(strconv.Itoa(freq))); err != nil {
			return fmt.Errorf("setting token index: %w", err)
		}
	}
	meta, err := json.Marshal(factMeta(fact))
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := txn.Set([]byte(prefixFTSMeta+fact.ID), meta); err != nil {
		return fmt.Errorf("setting metadata: %w", err)
	}
	return txn.Commit()
}

// deleteFactTokens removes all token entries of a fact.
func (f *FactIndex) deleteFactTokens(txn *badger.Txn, factID string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFTSToken)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	suffix := ":" + factID
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if strings.HasSuffix(string(key), suffix) {
			keys = append(keys, key)
		}
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFact removes a fact from the index.
func (f *FactIndex) RemoveFact(factID string) error {
	if f.db == nil {
		return ErrNotInitialized
	}

	txn := f.db.NewTransaction(true)
	defer txn.Discard()

	if err := f.deleteFactTokens(txn, factID); err != nil {
		return err
	}
	if err := txn.Delete([]byte(prefixFTSMeta + factID)); err != nil {
		return err
	}
	return txn.Commit()
}

// Search scores facts by summed token frequency.
func (f *FactIndex) Search(query string, limit int) ([]SearchResult, error) {
	if f.db == nil {
		return nil, ErrNotInitialized
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []SearchResult{}, nil
	}

	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	scores := make(map[string]float64)
	for _, token := range queryTokens {
		prefix := fmt.Sprintf("%s%s:", prefixFTSToken, token)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			factID := strings.TrimPrefix(string(item.Key()), prefix)

			var freq int
			_ = item.Value(func(val []byte) error {
				freq, _ = strconv.Atoi(string(val))
				return nil
			})
			scores[factID] += float64(freq)
		}
		it.Close()
	}

	meta := func(id string) (SearchResult, bool) {
		item, err := txn.Get([]byte(prefixFTSMeta + id))
		if err != nil {
			return SearchResult{}, false
		}
		var r SearchResult
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		}); err != nil {
			return SearchResult{}, false
		}
		return r, true
	}
	return rankResults(scores, meta, limit), nil
}

// IndexSize returns the number of token entries.
func (f *FactIndex) IndexSize() (int, error) {
	if f.db == nil {
		return 0, ErrNotInitialized
	}

	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFTSToken)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}
	return count, nil
}
