package models

// Evidence is a retrieved chunk offered as support for a question's answer.
type Evidence struct {
	ChunkRef int     `json:"idx"`
	Page     int     `json:"page"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

// ModelVerdict is the language model's judgement of whether the context supports the answer.
// A non-empty Error means verification failed and the verdict carries no signal.
type ModelVerdict struct {
	Supported  bool    `json:"supported"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Usable reports whether the verdict can be scored.
func (v *ModelVerdict) Usable() bool {
	return v != nil && v.Error == ""
}

// DistractorReason says why an option was flagged.
type DistractorReason string

const (
	ReasonTooSimilar   DistractorReason = "too_similar"
	ReasonTooDifferent DistractorReason = "too_different"
)

// DistractorFlag marks an option whose similarity to the correct answer is out of range.
type DistractorFlag struct {
	Label      string           `json:"label"`
	Reason     DistractorReason `json:"reason"`
	Similarity float64          `json:"similarity"`
}

// TriageAction is the pass/review/reject outcome of validation.
type TriageAction string

const (
	TriagePass   TriageAction = "pass"
	TriageReview TriageAction = "review"
	TriageReject TriageAction = "reject"
)

// ValidationRecord is the per-question validation result. It is created once per
// question per run and not modified afterwards.
type ValidationRecord struct {
	MaxSimilarity          float64             `json:"max_similarity"`
	SupportedByEmbeddings  bool                `json:"supported_by_embeddings"`
	Evidence               []Evidence          `json:"evidence"`
	EntailmentScores       map[string]float64  `json:"entailment_scores,omitempty"`
	CorrectEntailment      float64             `json:"correct_entailment"`
	CorrectMatch           string              `json:"correct_match,omitempty"` // exact, fuzzy, synthetic
	QAAnswer               *string             `json:"qa_answer"`
	QAScore                float64             `json:"qa_score"`
	QAAgrees               bool                `json:"qa_agrees"`
	DistractorSimilarities map[string]*float64 `json:"distractor_similarities"`
	DistractorFlags        []DistractorFlag    `json:"distractor_flags"`
	DistractorPenalty      float64             `json:"distractor_penalty"`
	Ambiguous              bool                `json:"ambiguous"`
	AmbiguousOptions       []string            `json:"ambiguous_options,omitempty"`
	ModelVerdict           *ModelVerdict       `json:"model_verdict"`
	QualityScore           float64             `json:"quality_score"`
	TriageAction           TriageAction        `json:"triage_action"`
	FlagReasons            []string            `json:"flag_reasons"`
}

// ValidationReport maps question ids to their records.
type ValidationReport map[string]*ValidationRecord
