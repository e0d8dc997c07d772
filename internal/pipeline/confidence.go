package pipeline

import "github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"

// Confidence bounds. Even an empty sheet keeps a floor above zero so that
// downstream consumers can always rank pages, and no page is ever reported
// as fully certain.
const (
	minConfidence = 0.40
	maxConfidence = 0.98

	confidenceSpan  = 0.58
	multiplePenalty = 0.04
)

// Confidence estimates how trustworthy a recognized answer vector is. The
// score grows with the fraction of cleanly answered questions and shrinks a
// little for every double-marked one, clamped to [minConfidence,
// maxConfidence].
func Confidence(answers []*string) float64 {
	if len(answers) == 0 {
		return minConfidence
	}
	answered, multiple := 0, 0
	for _, a := range answers {
		switch {
		case a == nil:
		case *a == domain.MultipleMarks:
			multiple++
		default:
			answered++
		}
	}
	score := minConfidence + confidenceSpan*float64(answered)/float64(len(answers))
	score -= multiplePenalty * float64(multiple)
	if score < minConfidence {
		return minConfidence
	}
	if score > maxConfidence {
		return maxConfidence
	}
	return score
}
