package domain

import "time"

// JobStatus enumerates pipeline lifecycle states.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusOrchestrating   JobStatus = "orchestrating"
	JobStatusGeneratingImage JobStatus = "generating_image"
	JobStatusCreatingWorld   JobStatus = "creating_world"
	JobStatusLoadingResult   JobStatus = "loading_result"
	JobStatusComplete        JobStatus = "complete"
	JobStatusError           JobStatus = "error"
	JobStatusCancelled       JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// QualityTier selects how elaborate the generated environment should be.
type QualityTier string

const (
	QualityDraft    QualityTier = "draft"
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
)

// Valid reports whether the tier is one of the supported values.
func (q QualityTier) Valid() bool {
	switch q {
	case QualityDraft, QualityStandard, QualityPremium:
		return true
	}
	return false
}

// CreditCost returns the prepaid-credit price of a generation at this tier.
func (q QualityTier) CreditCost() int64 {
	switch q {
	case QualityPremium:
		return 3
	default:
		return 1
	}
}

// Owner identifies who a job belongs to. Privileged owners bypass rate
// limiting and never touch the credit ledger.
type Owner struct {
	ID         string
	Privileged bool
}

// JobResult holds the assets assembled once a pipeline completes.
type JobResult struct {
	SceneURL        string `json:"scene_url"`
	ColliderURL     string `json:"collider_url,omitempty"`
	LowResSceneURL  string `json:"low_res_scene_url,omitempty"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
	SceneBrief      string `json:"scene_brief,omitempty"`
}

// Job encapsulates one end-to-end request to produce an interactive 3D
// environment from a concept and optional reference image. A job is mutated
// only by its own orchestrator goroutine; readers receive snapshot copies
// from the job store.
type Job struct {
	ID           string
	Owner        Owner
	Concept      string
	Quality      QualityTier
	ImageURL     string
	ImageData    []byte
	Locale       string
	Status       JobStatus
	Result       *JobResult
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (j Job) Clone() Job {
	out := j
	if j.Result != nil {
		res := *j.Result
		out.Result = &res
	}
	if j.ImageData != nil {
		out.ImageData = append([]byte(nil), j.ImageData...)
	}
	return out
}
