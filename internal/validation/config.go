package validation

import (
	"github.com/hyperjump/mondai/internal/scoring"
	"github.com/hyperjump/mondai/pkg/utils"
)

// Config holds the engine thresholds. Pointer fields are cutoffs where 0 is a valid
// setting; nil takes the default.
type Config struct {
	TopK                     int      `yaml:"top_k"`                      // default: 4
	SimilarityThreshold      *float64 `yaml:"similarity_threshold"`       // default: 0.5
	EvidenceCutoff           *float64 `yaml:"evidence_cutoff"`            // default: 0.5
	AutoAcceptThreshold      float64  `yaml:"auto_accept_threshold"`      // default: 0.7
	ReviewThreshold          *float64 `yaml:"review_threshold"`           // default: 0.5
	DistractorTooSimilar     float64  `yaml:"distractor_too_similar"`     // default: 0.8
	DistractorTooDifferent   *float64 `yaml:"distractor_too_different"`   // default: 0.15
	QAAgreeThreshold         *float64 `yaml:"qa_agree_threshold"`         // default: 0.5
	MaxEvidenceChars         int      `yaml:"max_evidence_chars"`         // default: 1000
	RequireModelVerification bool     `yaml:"require_model_verification"` // default: true
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TopK:                     4,
		SimilarityThreshold:      utils.Ptr(0.5),
		EvidenceCutoff:           utils.Ptr(0.5),
		AutoAcceptThreshold:      0.7,
		ReviewThreshold:          utils.Ptr(0.5),
		DistractorTooSimilar:     0.8,
		DistractorTooDifferent:   utils.Ptr(0.15),
		QAAgreeThreshold:         utils.Ptr(0.5),
		MaxEvidenceChars:         1000,
		RequireModelVerification: true,
	}
}

// ConfigFromScoring takes the retrieval cutoffs and the verification switch from a
// scoring config so the engine and the scorer agree on them.
func ConfigFromScoring(sc *scoring.ValidationConfig) Config {
	c := DefaultConfig()
	if sc == nil {
		return c
	}
	c.SimilarityThreshold = utils.Ptr(sc.Similarity())
	c.EvidenceCutoff = utils.Ptr(sc.Cutoff())
	c.RequireModelVerification = sc.ModelVerificationRequired()
	return c
}

// ApplyDefaults fills in unset values with defaults: zero for the plain fields, nil for
// the cutoffs. RequireModelVerification is left as is.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.SimilarityThreshold == nil {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.EvidenceCutoff == nil {
		c.EvidenceCutoff = d.EvidenceCutoff
	}
	if c.AutoAcceptThreshold == 0 {
		c.AutoAcceptThreshold = d.AutoAcceptThreshold
	}
	if c.ReviewThreshold == nil {
		c.ReviewThreshold = d.ReviewThreshold
	}
	if c.DistractorTooSimilar == 0 {
		c.DistractorTooSimilar = d.DistractorTooSimilar
	}
	if c.DistractorTooDifferent == nil {
		c.DistractorTooDifferent = d.DistractorTooDifferent
	}
	if c.QAAgreeThreshold == nil {
		c.QAAgreeThreshold = d.QAAgreeThreshold
	}
	if c.MaxEvidenceChars <= 0 {
		c.MaxEvidenceChars = d.MaxEvidenceChars
	}
}
