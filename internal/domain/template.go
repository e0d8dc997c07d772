package domain

// ExamTemplate describes the answer-sheet layout the recognizer was asked to
// read: how many questions the document carries, how many fit on a single
// page, and which option letters are valid marks.
type ExamTemplate struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	QuestionCount    int      `json:"question_count"`
	QuestionsPerPage int      `json:"questions_per_page"`
	Alphabet         []string `json:"alphabet"`
}

// AllowsLetter reports whether the letter is a valid mark for this template.
// Callers must upper-case and width-fold the letter first.
func (t ExamTemplate) AllowsLetter(letter string) bool {
	for _, a := range t.Alphabet {
		if a == letter {
			return true
		}
	}
	return false
}

// Built-in templates. Tags must match what the recognition service was
// calibrated for, so the catalogue is fixed in code rather than configurable.
var templates = []ExamTemplate{
	{ID: "enem-day1", Name: "ENEM day 1 (languages + humanities)", QuestionCount: 90, QuestionsPerPage: 90, Alphabet: []string{"A", "B", "C", "D", "E"}},
	{ID: "enem-day2", Name: "ENEM day 2 (sciences + mathematics)", QuestionCount: 90, QuestionsPerPage: 90, Alphabet: []string{"A", "B", "C", "D", "E"}},
	{ID: "enem-full", Name: "ENEM full exam (two 90-question pages)", QuestionCount: 180, QuestionsPerPage: 90, Alphabet: []string{"A", "B", "C", "D", "E"}},
	{ID: "school-45", Name: "School mock exam (45 questions)", QuestionCount: 45, QuestionsPerPage: 45, Alphabet: []string{"A", "B", "C", "D"}},
}

// Templates returns the catalogue of supported exam templates.
func Templates() []ExamTemplate {
	out := make([]ExamTemplate, len(templates))
	copy(out, templates)
	return out
}

// TemplateByID looks a template up by its tag.
func TemplateByID(id string) (ExamTemplate, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return ExamTemplate{}, false
}
