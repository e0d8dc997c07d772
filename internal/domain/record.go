package domain

import "fmt"

// MultipleMarks is the sentinel stored for a question where more than one
// option was filled in. It is kept distinct from a blank answer so scoring
// can treat the question as answered-but-invalid instead of skipped.
const MultipleMarks = "MULTIPLE"

// StudentAnswerRecord is the finalized output unit of the pipeline, one per
// physical student. Answers always has exactly the template question count;
// an empty string is a blank answer (internal nil sentinels never leave the
// pipeline).
type StudentAnswerRecord struct {
	ID            string   `json:"id"`
	StudentNumber string   `json:"student_number"`
	StudentName   string   `json:"student_name"`
	ClassName     string   `json:"class_name,omitempty"`
	Answers       []string `json:"answers"`
	PageNumber    int      `json:"page_number"`
	Confidence    int      `json:"confidence"`
	RawText       string   `json:"raw_text,omitempty"`
}

// PlaceholderNumber returns the page-derived student number used when the
// recognizer could not extract an identity.
func PlaceholderNumber(page int) string {
	return fmt.Sprintf("page-%02d", page)
}

// PlaceholderName returns the page-derived display name used when the
// recognizer could not extract an identity.
func PlaceholderName(page int) string {
	return fmt.Sprintf("Unidentified student (page %d)", page)
}
