package verify

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/mondai/internal/models"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected int
	}{
		{"identical empty", "", "", 0},
		{"identical unicode", "こんにちは", "こんにちは", 0},
		{"empty a", "", "hello", 5},
		{"empty b", "hello", "", 5},
		{"kitten to sitting", "kitten", "sitting", 3},
		{"saturday to sunday", "saturday", "sunday", 3},
		{"unicode substitution", "café", "cafe", 1},
		{"transposition counts twice", "ab", "ba", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LevenshteinDistance(tt.a, tt.b); got != tt.expected {
				t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
			}
			if got := LevenshteinDistance(tt.b, tt.a); got != tt.expected {
				t.Errorf("distance not symmetric for %q, %q", tt.a, tt.b)
			}
		})
	}
}

func TestLevenshteinRatio(t *testing.T) {
	if got := LevenshteinRatio("", ""); got != 1 {
		t.Errorf("empty ratio = %v, want 1", got)
	}
	if got := LevenshteinRatio("kitten", "sitting"); math.Abs(got-(1-3.0/7)) > 1e-9 {
		t.Errorf("kitten/sitting ratio = %v", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  The Mitochondria!  ": "the mitochondria",
		"H2O, (water)":          "h2o water",
		"Tế bào":                "tế bào",
		"...":                   "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindOption(t *testing.T) {
	options := []models.Option{
		{Label: "a", Text: "Paris"},
		{Label: "b", Text: "The powerhouse of the cell"},
		{Label: "c", Text: "Berlin"},
		{Label: "d", Text: "Photosynthesis in plants"},
	}
	tests := []struct {
		name   string
		answer string
		want   int
		kind   MatchKind
	}{
		{"exact", "Berlin", 2, MatchExact},
		{"case and punctuation", "paris.", 0, MatchExact},
		{"typo", "Photosyntesis in plants", 3, MatchFuzzy},
		{"reordered words", "the cell powerhouse of the", 1, MatchFuzzy},
		{"unrelated", "Madrid", -1, ""},
		{"empty", "  ", -1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := FindOption(options, tt.answer)
			if got != tt.want || kind != tt.kind {
				t.Errorf("FindOption(%q) = %d, %q; want %d, %q", tt.answer, got, kind, tt.want, tt.kind)
			}
		})
	}
}

func TestTokenOverlap(t *testing.T) {
	if got := TokenOverlap("a b c d", "a b c e"); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("overlap = %v, want 0.75", got)
	}
	if got := TokenOverlap("", "a"); got != 0 {
		t.Errorf("overlap with empty = %v, want 0", got)
	}
}

const qaContext = "[page 1] France is in Europe. The capital of France is Paris.\n\n[page 2] Berlin is the capital of Germany."

func TestBleveQA_Answer(t *testing.T) {
	qa := NewBleveQA()
	ans, err := qa.Answer(context.Background(), "What is the capital of France?", qaContext)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Paris" {
		t.Errorf("answer = %q, want Paris", ans.Text)
	}
	if ans.Score != 1 {
		t.Errorf("score = %v, want 1 (all question terms covered)", ans.Score)
	}
}

func TestBleveQA_noMatch(t *testing.T) {
	qa := NewBleveQA()
	ans, err := qa.Answer(context.Background(), "Who painted Guernica?", qaContext)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "" || ans.Score != 0 {
		t.Errorf("expected empty answer, got %+v", ans)
	}

	ans, err = qa.Answer(context.Background(), "anything", "")
	if err != nil || ans.Text != "" {
		t.Errorf("empty context: %+v, %v", ans, err)
	}
}

func TestBleveQA_spanCap(t *testing.T) {
	qa := &BleveQA{MaxSpan: 4}
	ans, err := qa.Answer(context.Background(), "What is the capital of Germany?", qaContext)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Berl" {
		t.Errorf("answer = %q, want capped span", ans.Text)
	}
}

func TestLexicalEntailment_Score(t *testing.T) {
	premise := "[page 3] The mitochondria produces energy for the cell. Ribosomes build proteins."
	scores, err := NewLexicalEntailment().Score(context.Background(), premise, []string{
		"mitochondria produces energy",
		"ribosomes digest lipids",
		"volcanoes erupt",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 3 {
		t.Fatalf("got %d scores, want 3", len(scores))
	}
	if scores[0] != 1 {
		t.Errorf("supported hypothesis = %v, want 1", scores[0])
	}
	if math.Abs(scores[1]-1.0/3) > 1e-9 {
		t.Errorf("partial hypothesis = %v, want 1/3", scores[1])
	}
	if scores[2] != 0 {
		t.Errorf("unrelated hypothesis = %v, want 0", scores[2])
	}
}

func TestLexicalEntailment_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLexicalEntailment().Score(ctx, "a sentence.", []string{"x"}); err == nil {
		t.Error("expected context error")
	}
}
