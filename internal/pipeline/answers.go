package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/recognition"
)

// NormalizeAnswers reconciles a raw recognition result into a vector of
// exactly one entry per question on the page. The dense answer array is
// applied first; the sparse question-to-letter map then fills slots the
// dense array left unknown. nil marks an unknown slot, domain.MultipleMarks
// a double-marked one, anything else is a single letter from the template
// alphabet. Returned warnings are page-scoped.
func NormalizeAnswers(res *recognition.Result, tpl domain.ExamTemplate) ([]*string, []string) {
	target := tpl.QuestionsPerPage
	if target <= 0 {
		target = tpl.QuestionCount
	}
	out := make([]*string, target)
	var warnings []string

	if n := len(res.Answers); n > 0 {
		if n != target {
			warnings = append(warnings, fmt.Sprintf("answer array has %d entries, expected %d", n, target))
		}
		limit := n
		if limit > target {
			limit = target
		}
		for i := 0; i < limit; i++ {
			mark, warn := normalizeMark(res.Answers[i], i+1, tpl)
			out[i] = mark
			if warn != "" {
				warnings = append(warnings, warn)
			}
		}
	}

	if len(res.Marks) > 0 {
		keys := make([]string, 0, len(res.Marks))
		for k := range res.Marks {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil || q < 1 || q > target {
				warnings = append(warnings, fmt.Sprintf("mark for question %q is out of range", k))
				continue
			}
			if out[q-1] != nil {
				// Dense array already answered this slot; it wins.
				continue
			}
			mark, warn := normalizeMark(res.Marks[k], q, tpl)
			out[q-1] = mark
			if warn != "" {
				warnings = append(warnings, warn)
			}
		}
	}

	return out, warnings
}

// foldIdentity narrows full-width glyphs in recognizer identity text and
// trims surrounding whitespace, so student numbers and names compare
// consistently across pages.
func foldIdentity(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}

// normalizeMark folds one raw mark to its canonical form: full-width glyphs
// narrowed, whitespace trimmed, letters uppercased. It returns nil for a
// blank or unusable mark, plus a warning when the raw value was not usable
// as-is.
func normalizeMark(raw string, question int, tpl domain.ExamTemplate) (*string, string) {
	cleaned := strings.ToUpper(strings.TrimSpace(width.Narrow.String(raw)))
	switch {
	case cleaned == "":
		return nil, ""
	case cleaned == domain.MultipleMarks:
		v := domain.MultipleMarks
		return &v, fmt.Sprintf("question %d: multiple marks detected", question)
	case tpl.AllowsLetter(cleaned):
		v := cleaned
		return &v, ""
	default:
		return nil, fmt.Sprintf("question %d: unrecognized mark %q", question, raw)
	}
}
