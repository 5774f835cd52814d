package verify

import (
	"context"
	"strings"

	"github.com/hyperjump/mondai/pkg/utils"
)

// DefaultMaxSpan caps the length of an extracted answer, in characters.
const DefaultMaxSpan = 300

// Answer is an extracted answer span and its confidence in [0, 1].
type Answer struct {
	Text  string  `json:"answer"`
	Score float64 `json:"score"`
}

// BleveQA answers a question by picking the context sentence that best matches it
// and returning the part of that sentence the question does not already say.
// The score is the share of question terms the sentence covers.
type BleveQA struct {
	MaxSpan int
}

// NewBleveQA creates an extractive QA collaborator with the default span cap.
func NewBleveQA() *BleveQA {
	return &BleveQA{MaxSpan: DefaultMaxSpan}
}

// Answer extracts an answer span for question from passage. An empty result with a nil
// error means nothing in the passage matched.
func (q *BleveQA) Answer(ctx context.Context, question, passage string) (Answer, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(passage) == "" {
		return Answer{}, nil
	}
	idx, err := newSentenceIndex(passage)
	if err != nil {
		return Answer{}, err
	}
	defer idx.Close()

	hits, err := idx.search(ctx, question, 1)
	if err != nil || len(hits) == 0 {
		return Answer{}, err
	}
	best := hits[0].Text
	qTerms := idx.terms(question)

	span := novelSpan(idx, best, qTerms)
	maxSpan := q.MaxSpan
	if maxSpan <= 0 {
		maxSpan = DefaultMaxSpan
	}
	return Answer{
		Text:  utils.Head(span, maxSpan),
		Score: coverage(qTerms, idx.terms(best)),
	}, nil
}

// novelSpan returns the shortest run of words in sentence covering every content word
// the question does not contain, or the whole sentence if there is none.
func novelSpan(idx *sentenceIndex, sentence string, qTerms map[string]bool) string {
	words := strings.Fields(sentence)
	first, last := -1, -1
	for i, w := range words {
		terms := idx.terms(w)
		if len(terms) == 0 {
			continue
		}
		novel := true
		for t := range terms {
			if qTerms[t] {
				novel = false
				break
			}
		}
		if !novel {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return sentence
	}
	span := strings.Join(words[first:last+1], " ")
	if trimmed := strings.Trim(span, ".,;:!?\"'()[]"); trimmed != "" {
		return trimmed
	}
	return sentence
}
