package validation

import (
	"aquascene/scribe/internal/content"
	"aquascene/scribe/pkg/logging"
)

// Validator scores drafts against a rule set. Safe for concurrent use; the
// rule set is read-only after construction.
type Validator struct {
	rules  *RuleSet
	logger logging.Logger
}

// New creates a validator. A nil rule set falls back to defaults.
func New(rules *RuleSet, logger logging.Logger) *Validator {
	if rules == nil {
		rules = DefaultRules()
	}
	if rules.Threshold <= 0 {
		rules.Threshold = DefaultThreshold
	}
	if rules.AxisFloor <= 0 {
		rules.AxisFloor = DefaultAxisFloor
	}
	return &Validator{rules: rules, logger: logger}
}

// Score runs the four axis scorers over the draft and aggregates the result.
// Deterministic for identical inputs: no state is read or written.
func (v *Validator) Score(draft content.Draft, req content.Request) content.Score {
	tr := v.rules.rulesFor(req.ContentType)

	score := content.Score{
		Accuracy:    scoreAccuracy(draft.RawText, req, v.rules.Knowledge),
		BrandVoice:  scoreBrandVoice(draft.RawText, v.rules.Voice),
		Structure:   scoreStructure(draft.RawText, req, tr.Structure),
		Readability: scoreReadability(draft.RawText, tr.Readability),
	}
	score.Aggregate = Aggregate(score, tr.Weights)

	// The floor overrides the aggregate: one catastrophic axis fails the
	// draft even when the other axes would carry it over the threshold.
	floorOK := score.Accuracy >= v.rules.AxisFloor &&
		score.BrandVoice >= v.rules.AxisFloor &&
		score.Structure >= v.rules.AxisFloor &&
		score.Readability >= v.rules.AxisFloor
	score.Passed = score.Aggregate >= v.rules.Threshold && floorOK

	if v.logger != nil {
		v.logger.WithFields(logging.Fields{
			"request_id":   req.ID,
			"provider_id":  draft.ProviderID,
			"content_type": req.ContentType,
			"accuracy":     score.Accuracy,
			"brand_voice":  score.BrandVoice,
			"structure":    score.Structure,
			"readability":  score.Readability,
			"aggregate":    score.Aggregate,
			"passed":       score.Passed,
		}).Debug("Draft scored")
	}

	return score
}

// Threshold returns the configured aggregate threshold.
func (v *Validator) Threshold() float64 {
	return v.rules.Threshold
}

// Aggregate computes the weighted mean of the four axis scores. Exported as a
// pure function so callers and tests can rely on its determinism.
func Aggregate(s content.Score, w AxisWeights) float64 {
	if w.total() <= 0 {
		w = AxisWeights{Accuracy: 1, BrandVoice: 1, Structure: 1, Readability: 1}
	}
	return (s.Accuracy*w.Accuracy +
		s.BrandVoice*w.BrandVoice +
		s.Structure*w.Structure +
		s.Readability*w.Readability) / w.total()
}
