// Package validation scores generated drafts along four independent axes and
// aggregates them into a pass/fail decision. All scorers are pure functions
// of the draft text, the request, and the configured rule set.
package validation

import (
	"aquascene/scribe/internal/content"
)

// AxisWeights weights the four axes in the aggregate. Zero-value weights fall
// back to equal weighting.
type AxisWeights struct {
	Accuracy    float64 `yaml:"accuracy" json:"accuracy"`
	BrandVoice  float64 `yaml:"brand_voice" json:"brand_voice"`
	Structure   float64 `yaml:"structure" json:"structure"`
	Readability float64 `yaml:"readability" json:"readability"`
}

func (w AxisWeights) total() float64 {
	return w.Accuracy + w.BrandVoice + w.Structure + w.Readability
}

// StructureRules are the per-content-type structural requirements.
type StructureRules struct {
	MinLength       int      `yaml:"min_length" json:"min_length"`
	MaxLength       int      `yaml:"max_length" json:"max_length"`
	MinSections     int      `yaml:"min_sections" json:"min_sections"`
	RequiredMarkers []string `yaml:"required_markers" json:"required_markers"`
}

// ReadabilityBand is the target grade-level range for a content type.
type ReadabilityBand struct {
	MinGrade float64 `yaml:"min_grade" json:"min_grade"`
	MaxGrade float64 `yaml:"max_grade" json:"max_grade"`
}

// TypeRules bundles everything configurable per content type.
type TypeRules struct {
	Weights     AxisWeights     `yaml:"weights" json:"weights"`
	Structure   StructureRules  `yaml:"structure" json:"structure"`
	Readability ReadabilityBand `yaml:"readability" json:"readability"`
}

// VoiceProfile describes the brand voice: terms that must never appear and
// tone markers the copy is expected to carry.
type VoiceProfile struct {
	BannedTerms []string `yaml:"banned_terms" json:"banned_terms"`
	ToneMarkers []string `yaml:"tone_markers" json:"tone_markers"`
}

// Fact is a domain claim: when the text mentions Term, at least one of the
// Support terms should appear nearby, otherwise the claim counts as
// unsupported.
type Fact struct {
	Term    string   `yaml:"term" json:"term"`
	Support []string `yaml:"support" json:"support"`
}

// Contradiction flags a set of terms that must not co-occur in one draft.
type Contradiction struct {
	Terms  []string `yaml:"terms" json:"terms"`
	Reason string   `yaml:"reason" json:"reason"`
}

// KnowledgeBase is the small domain fact base the accuracy scorer checks
// drafts against.
type KnowledgeBase struct {
	Facts          []Fact          `yaml:"facts" json:"facts"`
	Contradictions []Contradiction `yaml:"contradictions" json:"contradictions"`
}

// RuleSet is the full validation configuration.
type RuleSet struct {
	Threshold float64                            `yaml:"threshold" json:"threshold"`
	AxisFloor float64                            `yaml:"axis_floor" json:"axis_floor"`
	Voice     VoiceProfile                       `yaml:"voice" json:"voice"`
	Knowledge KnowledgeBase                      `yaml:"knowledge" json:"knowledge"`
	Types     map[content.ContentType]*TypeRules `yaml:"types" json:"types"`
}

const (
	// DefaultThreshold is the aggregate score a draft must reach.
	DefaultThreshold = 0.7
	// DefaultAxisFloor fails a draft outright when any single axis drops
	// below it, regardless of the aggregate.
	DefaultAxisFloor = 0.4
)

// DefaultRules returns a rule set with sensible aquascaping defaults for
// every content type. Production deployments override it via the
// validation_rules.yaml manifest.
func DefaultRules() *RuleSet {
	rules := &RuleSet{
		Threshold: DefaultThreshold,
		AxisFloor: DefaultAxisFloor,
		Voice: VoiceProfile{
			BannedTerms: []string{"cheap", "guaranteed results", "miracle", "foolproof"},
			ToneMarkers: []string{"aquascape", "tank", "plant"},
		},
		Knowledge: KnowledgeBase{
			Facts: []Fact{
				{Term: "co2 injection", Support: []string{"diffuser", "drop checker", "bubble", "regulator"}},
				{Term: "cycling", Support: []string{"ammonia", "nitrite", "nitrate", "bacteria"}},
				{Term: "shrimp", Support: []string{"neocaridina", "caridina", "molt", "biofilm", "water parameters"}},
			},
			Contradictions: []Contradiction{
				{Terms: []string{"goldfish", "nano tank"}, Reason: "goldfish outgrow nano tanks"},
				{Terms: []string{"betta", "community of bettas"}, Reason: "male bettas cannot be kept together"},
			},
		},
		Types: make(map[content.ContentType]*TypeRules, len(content.KnownTypes)),
	}

	for _, t := range content.KnownTypes {
		rules.Types[t] = defaultTypeRules(t)
	}
	return rules
}

func defaultTypeRules(t content.ContentType) *TypeRules {
	tr := &TypeRules{
		Weights:     AxisWeights{Accuracy: 0.25, BrandVoice: 0.25, Structure: 0.25, Readability: 0.25},
		Readability: ReadabilityBand{MinGrade: 5, MaxGrade: 11},
	}
	switch t {
	case content.TypeSocialCaption:
		tr.Structure = StructureRules{MinLength: 30, MaxLength: 2200, RequiredMarkers: []string{"#"}}
		tr.Readability = ReadabilityBand{MinGrade: 3, MaxGrade: 9}
	case content.TypeArticle:
		tr.Structure = StructureRules{MinLength: 800, MaxLength: 12000, MinSections: 3}
	case content.TypeGuide:
		tr.Structure = StructureRules{MinLength: 600, MaxLength: 15000, MinSections: 3}
	case content.TypeReview:
		tr.Structure = StructureRules{MinLength: 400, MaxLength: 10000, MinSections: 2}
	case content.TypeDigest:
		tr.Structure = StructureRules{MinLength: 300, MaxLength: 8000, MinSections: 2}
	case content.TypeInterview:
		tr.Structure = StructureRules{MinLength: 600, MaxLength: 12000, MinSections: 1, RequiredMarkers: []string{"?"}}
	case content.TypeCommunityPost:
		tr.Structure = StructureRules{MinLength: 100, MaxLength: 4000, RequiredMarkers: []string{"?"}}
	}
	return tr
}

// rulesFor returns the rules for a content type, falling back to generic
// defaults for types absent from the configured map.
func (rs *RuleSet) rulesFor(t content.ContentType) *TypeRules {
	if tr, ok := rs.Types[t]; ok && tr != nil {
		return tr
	}
	return defaultTypeRules(t)
}
