package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Difficulty is the optional difficulty tag of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty accepts easy/medium/hard in any case; empty means none.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q (supported: easy, medium, hard)", s)
	}
}

// Option is one labelled answer choice.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// MCQ is the canonical multiple-choice question. CorrectAnswer holds the full
// text of the correct option, never its label.
type MCQ struct {
	Question      string
	Options       []Option // sorted by label
	CorrectAnswer string
	Difficulty    Difficulty
}

// Keys accepted at ingestion, in lookup order. The localized keys are what the
// generation prompt asks for.
var (
	questionKeys   = []string{"câu hỏi", "question", "q"}
	optionsKeys    = []string{"lựa chọn", "options", "choices"}
	answerKeys     = []string{"đáp án", "correct_answer", "answer"}
	difficultyKeys = []string{"_difficulty", "difficulty", "độ khó"}
)

// Output keys.
const (
	keyQuestion   = "câu hỏi"
	keyOptions    = "lựa chọn"
	keyAnswer     = "đáp án"
	keyDifficulty = "_difficulty"
)

// DecodeMCQ maps any accepted input shape into an MCQ. Missing or mistyped fields
// become empty values; it never fails.
func DecodeMCQ(raw map[string]any) MCQ {
	var m MCQ
	m.Question = strings.TrimSpace(stringField(raw, questionKeys))
	m.Options = decodeOptions(firstField(raw, optionsKeys))
	m.CorrectAnswer = strings.TrimSpace(stringField(raw, answerKeys))
	if d, err := ParseDifficulty(stringField(raw, difficultyKeys)); err == nil {
		m.Difficulty = d
	}
	m.resolveLabelAnswer()
	return m
}

// resolveLabelAnswer replaces an answer given as a bare label ("b") with that option's text,
// unless some option's text is literally the answer.
func (m *MCQ) resolveLabelAnswer() {
	if m.CorrectAnswer == "" {
		return
	}
	for _, o := range m.Options {
		if o.Text == m.CorrectAnswer {
			return
		}
	}
	ans := strings.ToLower(strings.TrimRight(m.CorrectAnswer, ".)"))
	for _, o := range m.Options {
		if strings.ToLower(o.Label) == ans {
			m.CorrectAnswer = o.Text
			return
		}
	}
}

func firstField(raw map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(raw map[string]any, keys []string) string {
	switch v := firstField(raw, keys).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func decodeOptions(v any) []Option {
	var opts []Option
	switch o := v.(type) {
	case map[string]any:
		for label, text := range o {
			opts = append(opts, Option{Label: strings.TrimSpace(label), Text: strings.TrimSpace(fmt.Sprint(text))})
		}
		sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	case []any:
		for i, text := range o {
			opts = append(opts, Option{Label: string(rune('a' + i)), Text: strings.TrimSpace(fmt.Sprint(text))})
		}
	}
	return opts
}

// Option returns the text for label.
func (m MCQ) Option(label string) (string, bool) {
	for _, o := range m.Options {
		if o.Label == label {
			return o.Text, true
		}
	}
	return "", false
}

// Validate reports structural problems: empty question, not exactly four distinct labels,
// or an answer that matches no option text. The validation engine tolerates all of these.
func (m MCQ) Validate() error {
	if m.Question == "" {
		return fmt.Errorf("question is empty")
	}
	if len(m.Options) != 4 {
		return fmt.Errorf("expected 4 options, got %d", len(m.Options))
	}
	seen := make(map[string]bool, len(m.Options))
	found := false
	for _, o := range m.Options {
		if seen[o.Label] {
			return fmt.Errorf("duplicate option label %q", o.Label)
		}
		seen[o.Label] = true
		if o.Text == m.CorrectAnswer {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("correct answer does not match any option")
	}
	return nil
}

// MarshalJSON writes the localized shape the generator contract uses.
func (m MCQ) MarshalJSON() ([]byte, error) {
	opts := make(map[string]string, len(m.Options))
	for _, o := range m.Options {
		opts[o.Label] = o.Text
	}
	out := map[string]any{
		keyQuestion: m.Question,
		keyOptions:  opts,
		keyAnswer:   m.CorrectAnswer,
	}
	if m.Difficulty != "" {
		out[keyDifficulty] = m.Difficulty
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any shape DecodeMCQ accepts.
func (m *MCQ) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = DecodeMCQ(raw)
	return nil
}

// MCQSet maps question ids ("1".."n") to questions.
type MCQSet map[string]MCQ

// Keys returns ids in numeric order; non-numeric ids sort after numeric ones, lexically.
func (s MCQSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	SortIDs(keys)
	return keys
}

// Ordered returns the questions in Keys order.
func (s MCQSet) Ordered() []MCQ {
	out := make([]MCQ, 0, len(s))
	for _, k := range s.Keys() {
		out = append(out, s[k])
	}
	return out
}

// Renumber returns questions keyed densely from 1 in the given order.
func Renumber(qs []MCQ) MCQSet {
	out := make(MCQSet, len(qs))
	for i, q := range qs {
		out[strconv.Itoa(i+1)] = q
	}
	return out
}

// DecodeMCQSet parses a JSON object of id -> question in any accepted shape. Only a
// body that is not an object fails; an entry that is not a question object decodes to
// the zero MCQ so the rest of the set is still usable.
func DecodeMCQSet(data []byte) (MCQSet, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode MCQ set: %w", err)
	}
	out := make(MCQSet, len(raw))
	for id, entry := range raw {
		var item map[string]any
		if err := json.Unmarshal(entry, &item); err != nil {
			out[id] = MCQ{}
			continue
		}
		out[id] = DecodeMCQ(item)
	}
	return out, nil
}

// UnmarshalJSON decodes like DecodeMCQSet.
func (s *MCQSet) UnmarshalJSON(data []byte) error {
	set, err := DecodeMCQSet(data)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// SortIDs sorts question ids numerically where possible.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
