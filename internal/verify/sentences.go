// Package verify provides local answer checks used by validation: option matching,
// extractive QA and lexical entailment over an in-memory bleve sentence index.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/mondai/pkg/utils"
)

var pagePrefix = regexp.MustCompile(`^\[page \d+\]\s*`)

// sentenceIndex is a throwaway in-memory index over the sentences of one context.
type sentenceIndex struct {
	index     bleve.Index
	mapping   *mapping.IndexMappingImpl
	sentences []string
}

type sentenceHit struct {
	Text  string
	Score float64
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase, unicode tokens, English stop words, no stemming.
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("text", text)
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// newSentenceIndex splits text into lines and sentences, drops "[page N]" prefixes,
// and indexes each sentence.
func newSentenceIndex(text string) (*sentenceIndex, error) {
	im := newIndexMapping()
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create sentence index: %w", err)
	}
	s := &sentenceIndex{index: idx, mapping: im}

	batch := idx.NewBatch()
	for _, line := range strings.Split(text, "\n") {
		line = pagePrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" {
			continue
		}
		for _, sent := range utils.SplitSentences(line) {
			sent = strings.TrimSpace(sent)
			if sent == "" {
				continue
			}
			id := strconv.Itoa(len(s.sentences))
			s.sentences = append(s.sentences, sent)
			if err := batch.Index(id, map[string]any{"text": sent}); err != nil {
				idx.Close()
				return nil, fmt.Errorf("index sentence: %w", err)
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("index sentences: %w", err)
	}
	return s, nil
}

// search returns up to k sentences matching any term of query, best first.
func (s *sentenceIndex) search(ctx context.Context, query string, k int) ([]sentenceHit, error) {
	if len(s.sentences) == 0 || k <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sentence search: %w", err)
	}
	out := make([]sentenceHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(s.sentences) {
			continue
		}
		out = append(out, sentenceHit{Text: s.sentences[i], Score: hit.Score})
	}
	return out, nil
}

// terms analyzes text with the index analyzer, so stop words are dropped the same way
// they are at index time.
func (s *sentenceIndex) terms(text string) map[string]bool {
	return analyzeTerms(s.mapping, text)
}

func analyzeTerms(im *mapping.IndexMappingImpl, text string) map[string]bool {
	out := make(map[string]bool)
	an := im.AnalyzerNamed(standard.Name)
	if an == nil {
		for _, t := range strings.Fields(Normalize(text)) {
			out[t] = true
		}
		return out
	}
	for _, tok := range an.Analyze([]byte(text)) {
		out[string(tok.Term)] = true
	}
	return out
}

// coverage is the fraction of want's terms present in have.
func coverage(want, have map[string]bool) float64 {
	if len(want) == 0 {
		return 0
	}
	n := 0
	for t := range want {
		if have[t] {
			n++
		}
	}
	return float64(n) / float64(len(want))
}

func (s *sentenceIndex) Close() error {
	return s.index.Close()
}
