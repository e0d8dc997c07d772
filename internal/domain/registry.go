package domain

// GroupUpdate carries everything a finished concurrency group publishes into
// its job in one atomic step. Records and warnings are appended; CurrentPage
// becomes the highest completed page, from which the registry derives
// progress.
type GroupUpdate struct {
	Records        []StudentAnswerRecord
	Warnings       []string
	CurrentPage    int
	LastPageResult *PageResult
}

// Registry stores processing jobs for the duration of their retention
// window. Implementations must be safe for concurrent poll, publish, and
// sweep access. Every mutating method is a benign no-op when the job id is
// unknown (the id may have been swept while its background task was still
// running) or when the job is already in a terminal state.
type Registry interface {
	// Create registers a new queued job and returns its identifier.
	Create(templateID string, totalPages int) string

	// Get returns a deep snapshot of the job, or ErrNotFound.
	Get(id string) (*ProcessingJob, error)

	// MarkProcessing moves a queued job to processing and fixes the page
	// count established by the document loader.
	MarkProcessing(id string, totalPages int)

	// PublishGroup folds one completed concurrency group into the job.
	PublishGroup(id string, update GroupUpdate)

	// Complete finalizes the job with the merged student records and any
	// closing warnings, replacing the incrementally published list.
	Complete(id string, students []StudentAnswerRecord, warnings []string)

	// Fail moves the job to the error state with a human-readable message.
	Fail(id string, message string)

	// SweepExpired drops jobs older than the retention window regardless of
	// status and returns how many were removed.
	SweepExpired() int
}
