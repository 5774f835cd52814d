package embedding

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	tokenCLS = 101
	tokenSEP = 102
	vocabCap = 30000
)

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize produces [CLS] words [SEP] padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	pos := t.put(inputIDs, attentionMask, 0, tokenCLS)
	pos = t.fill(inputIDs, attentionMask, tokenTypeIDs, pos, SplitWords(text), maxTokens-1, 0)
	t.put(inputIDs, attentionMask, pos, tokenSEP)
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenizePair produces [CLS] first [SEP] second [SEP] for cross-encoders. The second
// segment gets token type 1. When both do not fit, the first segment is cut first.
func (t *SimpleTokenizer) TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	a, b := SplitWords(first), SplitWords(second)
	budget := maxTokens - 3
	if budget < 0 {
		budget = 0
	}
	if len(b) > budget {
		b = TruncateWords(b, budget)
	}
	a = TruncateWords(a, budget-len(b))

	pos := t.put(inputIDs, attentionMask, 0, tokenCLS)
	pos = t.fill(inputIDs, attentionMask, tokenTypeIDs, pos, a, maxTokens, 0)
	pos = t.put(inputIDs, attentionMask, pos, tokenSEP)
	pos = t.fill(inputIDs, attentionMask, tokenTypeIDs, pos, b, maxTokens, 1)
	if pos < maxTokens {
		tokenTypeIDs[pos] = 1
	}
	t.put(inputIDs, attentionMask, pos, tokenSEP)
	return inputIDs, attentionMask, tokenTypeIDs
}

func (t *SimpleTokenizer) put(ids, mask []int64, pos int, id int64) int {
	if pos >= len(ids) {
		return pos
	}
	ids[pos] = id
	mask[pos] = 1
	return pos + 1
}

func (t *SimpleTokenizer) fill(ids, mask, types []int64, pos int, words []string, limit int, segment int64) int {
	for _, word := range words {
		if pos >= limit {
			break
		}
		ids[pos] = int64(HashString(word) % vocabCap)
		mask[pos] = 1
		types[pos] = segment
		pos++
	}
	return pos
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	var h uint32
	for _, c := range s {
		h = 31*h + uint32(c)
	}
	return int(h & 0x7fffffff)
}

// TruncateWords returns up to maxWords words from the slice.
func TruncateWords(words []string, maxWords int) []string {
	if maxWords < 0 {
		maxWords = 0
	}
	if len(words) <= maxWords {
		return words
	}
	return words[:maxWords]
}
