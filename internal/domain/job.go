package domain

import "time"

// JobStatus enumerates processing job lifecycle states.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Terminal reports whether a job in this status can still change state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ProcessingJob tracks one submitted scan document from upload to finished
// answer records. Jobs live in the registry for the retention window only;
// a single background task owns all mutations for a given job.
type ProcessingJob struct {
	ID             string
	TemplateID     string
	Status         JobStatus
	Progress       int
	CurrentPage    int
	TotalPages     int
	Students       []StudentAnswerRecord
	Warnings       []string
	ErrorMessage   string
	CreatedAt      time.Time
	LastPageResult *PageResult
}

// RecognizedIdentity is the printed/QR identity block the recognition
// service may extract from a page.
type RecognizedIdentity struct {
	Name           string `json:"name"`
	EnrollmentCode string `json:"enrollment_code"`
	ClassName      string `json:"class_name,omitempty"`
}

// PageResult is the per-page outcome produced by the page processor. A nil
// entry in DetectedAnswers means the slot could not be read; MultipleMarks
// flags a question with more than one filled bubble. The slice length always
// equals the template question count.
type PageResult struct {
	PageNumber        int                 `json:"page_number"`
	DetectedAnswers   []*string           `json:"detected_answers"`
	OverallConfidence float64             `json:"overall_confidence"`
	Warnings          []string            `json:"warnings,omitempty"`
	Identity          *RecognizedIdentity `json:"identity,omitempty"`
}
