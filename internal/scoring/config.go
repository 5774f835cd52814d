package scoring

import (
	"fmt"
	"math"

	"github.com/hyperjump/mondai/pkg/utils"
)

// ValidationConfig holds the weights, cutoffs and thresholds used to score validation records.
// Build it with NewValidationConfig so malformed values are caught up front.
type ValidationConfig struct {
	// Component weights, must sum to 1.0
	EmbeddingWeight float64 `yaml:"embedding_weight" json:"embedding_weight"` // default: 0.4
	ModelWeight     float64 `yaml:"model_weight" json:"model_weight"`         // default: 0.5
	EvidenceWeight  float64 `yaml:"evidence_weight" json:"evidence_weight"`   // default: 0.1

	// Retrieval cutoffs in [0, 1]. Nil means default; 0 is a valid cutoff.
	SimilarityThreshold *float64 `yaml:"similarity_threshold" json:"similarity_threshold"` // default: 0.5
	EvidenceCutoff      *float64 `yaml:"evidence_cutoff" json:"evidence_cutoff"`           // default: 0.5

	// Category thresholds on the 0-100 scale, ascending. The lowest band may start at 0.
	QuestionableThreshold *float64 `yaml:"questionable_threshold" json:"questionable_threshold"` // default: 40
	AcceptableThreshold   float64 `yaml:"acceptable_threshold" json:"acceptable_threshold"`     // default: 55
	GoodThreshold         float64 `yaml:"good_threshold" json:"good_threshold"`                 // default: 70
	ExcellentThreshold    float64 `yaml:"excellent_threshold" json:"excellent_threshold"`       // default: 85

	RequireModelVerification *bool   `yaml:"require_model_verification" json:"require_model_verification"` // default: true
	DefaultPassRate          float64 `yaml:"default_pass_rate" json:"default_pass_rate"`                   // default: 0.7
}

// ConfigurationError reports a malformed ValidationConfig.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid validation config: %s: %s", e.Field, e.Reason)
}

// DefaultValidationConfig returns the default validation configuration.
func DefaultValidationConfig() *ValidationConfig {
	require := true
	return &ValidationConfig{
		EmbeddingWeight: 0.4,
		ModelWeight:     0.5,
		EvidenceWeight:  0.1,

		SimilarityThreshold: utils.Ptr(0.5),
		EvidenceCutoff:      utils.Ptr(0.5),

		QuestionableThreshold: utils.Ptr(40.0),
		AcceptableThreshold:   55,
		GoodThreshold:         70,
		ExcellentThreshold:    85,

		RequireModelVerification: &require,
		DefaultPassRate:          0.7,
	}
}

// NewValidationConfig fills zero values from the defaults and validates the result.
// A nil cfg yields the defaults.
func NewValidationConfig(cfg *ValidationConfig) (*ValidationConfig, error) {
	if cfg == nil {
		return DefaultValidationConfig(), nil
	}
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills in zero values with defaults. All three weights are taken
// together: when any weight is set, the others are left alone.
func (c *ValidationConfig) ApplyDefaults() {
	defaults := DefaultValidationConfig()

	if c.EmbeddingWeight == 0 && c.ModelWeight == 0 && c.EvidenceWeight == 0 {
		c.EmbeddingWeight = defaults.EmbeddingWeight
		c.ModelWeight = defaults.ModelWeight
		c.EvidenceWeight = defaults.EvidenceWeight
	}
	if c.SimilarityThreshold == nil {
		c.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if c.EvidenceCutoff == nil {
		c.EvidenceCutoff = defaults.EvidenceCutoff
	}

	// Thresholds
	if c.QuestionableThreshold == nil {
		c.QuestionableThreshold = defaults.QuestionableThreshold
	}
	if c.AcceptableThreshold == 0 {
		c.AcceptableThreshold = defaults.AcceptableThreshold
	}
	if c.GoodThreshold == 0 {
		c.GoodThreshold = defaults.GoodThreshold
	}
	if c.ExcellentThreshold == 0 {
		c.ExcellentThreshold = defaults.ExcellentThreshold
	}

	if c.RequireModelVerification == nil {
		c.RequireModelVerification = defaults.RequireModelVerification
	}
	if c.DefaultPassRate == 0 {
		c.DefaultPassRate = defaults.DefaultPassRate
	}
}

// Validate checks weights, threshold order and cutoff ranges.
func (c *ValidationConfig) Validate() error {
	total := c.EmbeddingWeight + c.ModelWeight + c.EvidenceWeight
	if math.Abs(total-1.0) > 0.001 {
		return &ConfigurationError{Field: "weights", Reason: fmt.Sprintf("must sum to 1.0, got %g", total)}
	}
	if c.Questionable() > c.AcceptableThreshold ||
		c.AcceptableThreshold > c.GoodThreshold ||
		c.GoodThreshold > c.ExcellentThreshold {
		return &ConfigurationError{Field: "thresholds", Reason: "must be in ascending order"}
	}
	if sim := c.Similarity(); sim < 0 || sim > 1 {
		return &ConfigurationError{Field: "similarity_threshold", Reason: "must be between 0.0 and 1.0"}
	}
	if cut := c.Cutoff(); cut < 0 || cut > 1 {
		return &ConfigurationError{Field: "evidence_cutoff", Reason: "must be between 0.0 and 1.0"}
	}
	return nil
}

// Similarity returns the similarity threshold, or its default when unset.
func (c *ValidationConfig) Similarity() float64 {
	return utils.Deref(c.SimilarityThreshold, 0.5)
}

// Cutoff returns the evidence cutoff, or its default when unset.
func (c *ValidationConfig) Cutoff() float64 {
	return utils.Deref(c.EvidenceCutoff, 0.5)
}

// Questionable returns the lowest category threshold, or its default when unset.
func (c *ValidationConfig) Questionable() float64 {
	return utils.Deref(c.QuestionableThreshold, 40)
}

// ModelVerificationRequired reports whether a model verdict should be requested; true when unset.
func (c *ValidationConfig) ModelVerificationRequired() bool {
	if c.RequireModelVerification != nil {
		return *c.RequireModelVerification
	}
	return true
}
