package content

import (
	"time"
)

// ContentType categorizes a requested output. Each type carries its own
// structural and validation rules.
type ContentType string

const (
	TypeArticle       ContentType = "article"
	TypeSocialCaption ContentType = "social_caption"
	TypeGuide         ContentType = "guide"
	TypeReview        ContentType = "review"
	TypeDigest        ContentType = "digest"
	TypeInterview     ContentType = "interview"
	TypeCommunityPost ContentType = "community_post"
)

// KnownTypes lists every supported content type.
var KnownTypes = []ContentType{
	TypeArticle,
	TypeSocialCaption,
	TypeGuide,
	TypeReview,
	TypeDigest,
	TypeInterview,
	TypeCommunityPost,
}

// IsKnown reports whether t is a supported content type.
func (t ContentType) IsKnown() bool {
	for _, known := range KnownTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Heavy reports whether this content type is allowed the long batch timeout
// instead of the interactive one.
func (t ContentType) Heavy() bool {
	switch t {
	case TypeArticle, TypeGuide, TypeInterview:
		return true
	default:
		return false
	}
}

// Constraints bound the generated output.
type Constraints struct {
	MaxLength        int      `json:"max_length,omitempty"`
	MinLength        int      `json:"min_length,omitempty"`
	RequiredKeywords []string `json:"required_keywords,omitempty"`
	Tone             string   `json:"tone,omitempty"`
}

// Request is a single content generation request. Immutable once submitted.
type Request struct {
	ID                string      `json:"id"`
	ContentType       ContentType `json:"content_type" binding:"required"`
	Topic             string      `json:"topic" binding:"required"`
	TargetAudience    string      `json:"target_audience,omitempty"`
	Constraints       Constraints `json:"constraints,omitempty"`
	OptimizationFlags []string    `json:"optimization_flags,omitempty"`
}

// Draft is the raw output of one provider call. Immutable.
type Draft struct {
	RequestID   string    `json:"request_id"`
	ProviderID  string    `json:"provider_id"`
	RawText     string    `json:"raw_text"`
	GeneratedAt time.Time `json:"generated_at"`
	Attempt     int       `json:"attempt"`
}

// Score holds the per-axis validation scores for one draft, each in [0,1].
type Score struct {
	Accuracy    float64 `json:"accuracy"`
	BrandVoice  float64 `json:"brand_voice"`
	Structure   float64 `json:"structure"`
	Readability float64 `json:"readability"`
	Aggregate   float64 `json:"aggregate"`
	Passed      bool    `json:"passed"`
}

// Result is the unit returned to the caller: either an accepted draft with its
// score, or a terminal failure with a classified error kind.
type Result struct {
	RequestID  string    `json:"request_id"`
	ProviderID string    `json:"provider_id,omitempty"`
	Draft      *Draft    `json:"draft,omitempty"`
	Score      *Score    `json:"score,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	Exhausted  bool      `json:"exhausted,omitempty"`
}

// Passed reports whether this result carries an accepted, validated draft.
func (r Result) Passed() bool {
	return r.ErrorKind == "" && r.Score != nil && r.Score.Passed
}

// ProcessingMode selects the batch concurrency strategy.
type ProcessingMode string

const (
	ModeSequential ProcessingMode = "sequential"
	ModeConcurrent ProcessingMode = "concurrent"
	ModeAdaptive   ProcessingMode = "adaptive"
)

// IsKnown reports whether m is a supported processing mode. The empty mode is
// known; it defaults to sequential.
func (m ProcessingMode) IsKnown() bool {
	switch m {
	case "", ModeSequential, ModeConcurrent, ModeAdaptive:
		return true
	default:
		return false
	}
}

// BatchStatus is the aggregate state of a batch job.
type BatchStatus string

const (
	BatchPending        BatchStatus = "pending"
	BatchRunning        BatchStatus = "running"
	BatchCompleted      BatchStatus = "completed"
	BatchPartialFailure BatchStatus = "partial_failure"
)

// BatchJob is an ordered list of requests processed under one concurrency
// policy. Results always has the same length and positional order as Requests.
type BatchJob struct {
	ID            string         `json:"id"`
	Requests      []Request      `json:"requests" binding:"required"`
	Mode          ProcessingMode `json:"processing_mode,omitempty"`
	MaxConcurrent int            `json:"max_concurrent,omitempty"`
	Status        BatchStatus    `json:"status"`
	Results       []Result       `json:"results,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}
