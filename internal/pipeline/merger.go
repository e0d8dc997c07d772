package pipeline

import (
	"strings"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
)

// MergeTwoPage combines the two page records of a two-page exam into a
// single full-length record when they clearly belong to the same student.
// It applies only when the document had exactly two pages producing exactly
// two records, the template spreads its questions over two pages, both
// records are single-page length, and the records agree on a non-empty
// student number or on a case-insensitive student name. Identity text is
// width-folded and trimmed before comparison, so a recognizer emitting
// full-width digits on one page cannot split a student in two. Anything
// else passes through untouched.
func MergeTwoPage(pageCount int, records []domain.StudentAnswerRecord, tpl domain.ExamTemplate) ([]domain.StudentAnswerRecord, bool) {
	if pageCount != 2 || len(records) != 2 {
		return records, false
	}
	if tpl.QuestionCount != 2*tpl.QuestionsPerPage {
		return records, false
	}
	first, second := records[0], records[1]
	if second.PageNumber < first.PageNumber {
		first, second = second, first
	}
	if len(first.Answers) != tpl.QuestionsPerPage || len(second.Answers) != tpl.QuestionsPerPage {
		return records, false
	}
	if !sameStudent(first, second) {
		return records, false
	}

	merged := first
	merged.Answers = make([]string, 0, tpl.QuestionCount)
	merged.Answers = append(merged.Answers, first.Answers...)
	merged.Answers = append(merged.Answers, second.Answers...)
	merged.StudentNumber = firstNonEmpty(foldIdentity(first.StudentNumber), foldIdentity(second.StudentNumber))
	merged.StudentName = firstNonEmpty(foldIdentity(first.StudentName), foldIdentity(second.StudentName))
	merged.ClassName = firstNonEmpty(foldIdentity(first.ClassName), foldIdentity(second.ClassName))
	merged.Confidence = (first.Confidence + second.Confidence) / 2
	merged.RawText = joinNotes(first.RawText, second.RawText)
	return []domain.StudentAnswerRecord{merged}, true
}

func sameStudent(a, b domain.StudentAnswerRecord) bool {
	an, bn := foldIdentity(a.StudentNumber), foldIdentity(b.StudentNumber)
	if an != "" && an == bn {
		return true
	}
	aName, bName := foldIdentity(a.StudentName), foldIdentity(b.StudentName)
	return aName != "" && bName != "" && strings.EqualFold(aName, bName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
