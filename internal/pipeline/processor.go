package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/recognition"
)

// pageOutcome is what processing one page produced. result and record are
// nil when the page failed outright; jobWarnings is what the job surfaces
// about this page.
type pageOutcome struct {
	page        int
	result      *domain.PageResult
	record      *domain.StudentAnswerRecord
	jobWarnings []string
}

// processPage runs the full per-page flow: recognition with identity
// extraction, an identity-less second pass when the identity block cannot
// be located, then normalization and record assembly. A page that still
// fails after retries produces a warning, never a job failure.
func (p *Pipeline) processPage(ctx context.Context, log zerolog.Logger, page int, image []byte, tpl domain.ExamTemplate) pageOutcome {
	out := pageOutcome{page: page}

	req := recognition.Request{
		Image:           image,
		PageNumber:      page,
		Template:        tpl.ID,
		ExtractIdentity: true,
	}
	res, err := p.recognize(ctx, req)
	identityMissing := false
	if errors.Is(err, recognition.ErrIdentityNotFound) {
		identityMissing = true
		log.Warn().Int("page", page).Msg("identity block not found, retrying without identity extraction")
		p.metrics.IdentityFallbacks.Inc()
		req.ExtractIdentity = false
		res, err = p.recognize(ctx, req)
	}
	if err != nil {
		log.Warn().Err(err).Int("page", page).Msg("page recognition failed")
		p.metrics.PagesProcessed.WithLabelValues("failed").Inc()
		out.jobWarnings = append(out.jobWarnings, fmt.Sprintf("page %d: recognition failed: %v", page, err))
		return out
	}

	answers, pageWarnings := NormalizeAnswers(res, tpl)
	conf := Confidence(answers)

	identity := res.Identity
	if identityMissing {
		identity = nil
	}
	if identity == nil {
		pageWarnings = append(pageWarnings, "student identity unavailable, using placeholder")
	} else {
		identity = &domain.RecognizedIdentity{
			Name:           foldIdentity(identity.Name),
			EnrollmentCode: foldIdentity(identity.EnrollmentCode),
			ClassName:      foldIdentity(identity.ClassName),
		}
	}

	out.result = &domain.PageResult{
		PageNumber:        page,
		DetectedAnswers:   answers,
		OverallConfidence: conf,
		Warnings:          pageWarnings,
		Identity:          identity,
	}
	// Only the group's last PageResult survives publication, so page-local
	// anomalies are echoed into the job's warning list too.
	for _, w := range pageWarnings {
		out.jobWarnings = append(out.jobWarnings, fmt.Sprintf("page %d: %s", page, w))
	}

	record := domain.StudentAnswerRecord{
		ID:         uuid.NewString(),
		PageNumber: page,
		Answers:    flattenAnswers(answers),
		Confidence: int(math.Round(conf * 100)),
		RawText:    res.QualityNotes,
	}
	if identity == nil {
		record.StudentNumber = domain.PlaceholderNumber(page)
		record.StudentName = domain.PlaceholderName(page)
	} else {
		record.StudentNumber = identity.EnrollmentCode
		record.StudentName = identity.Name
		record.ClassName = identity.ClassName
	}
	out.record = &record

	p.metrics.PagesProcessed.WithLabelValues("ok").Inc()
	log.Debug().Int("page", page).Float64("confidence", conf).Int("page_warnings", len(pageWarnings)).Msg("page processed")
	return out
}

// recognize runs one page recognition call under the retry policy.
func (p *Pipeline) recognize(ctx context.Context, req recognition.Request) (*recognition.Result, error) {
	var res *recognition.Result
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		r, err := p.recognizer.Recognize(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// flattenAnswers converts the internal vector to its stored form: unknown
// slots become empty strings, everything else is kept as-is.
func flattenAnswers(answers []*string) []string {
	flat := make([]string, len(answers))
	for i, a := range answers {
		if a != nil {
			flat[i] = *a
		}
	}
	return flat
}
