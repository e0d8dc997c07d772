// Package pipeline drives a submitted scan job from raw payload to student
// answer records. It loads the document, recognizes pages in bounded
// concurrency groups with a pacing delay between groups, publishes each
// group to the job registry as one atomic update, and merges two-page
// exams into full-length records at the end.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/document"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/metrics"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/recognition"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/retry"
)

const defaultConcurrency = 3

// Options configures a Pipeline. Registry and Recognizer are required;
// everything else has workable defaults.
type Options struct {
	Registry   domain.Registry
	Recognizer recognition.Recognizer
	Retry      retry.Policy
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	// Concurrency is how many pages of one job are recognized in parallel.
	Concurrency int
	// GroupDelay paces consecutive concurrency groups so the recognition
	// service is not flooded by large documents.
	GroupDelay time.Duration
}

// Pipeline processes scan jobs in the background.
type Pipeline struct {
	registry    domain.Registry
	recognizer  recognition.Recognizer
	retry       retry.Policy
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	concurrency int
	groupDelay  time.Duration
}

func New(opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	pol := opts.Retry
	if pol.MaxAttempts <= 0 {
		pol = retry.DefaultPolicy()
	}
	// A missing identity block is a recognized outcome, not a transient
	// fault; retrying it would just burn attempts on the same sheet.
	base := pol.Retryable
	pol.Retryable = func(err error) bool {
		if errors.Is(err, recognition.ErrIdentityNotFound) {
			return false
		}
		return base == nil || base(err)
	}
	return &Pipeline{
		registry:    opts.Registry,
		recognizer:  opts.Recognizer,
		retry:       pol,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		concurrency: opts.Concurrency,
		groupDelay:  opts.GroupDelay,
	}
}

// Run executes one scan job to its terminal status. It is meant to be
// launched on a background goroutine by the submission handler; ctx bounds
// the whole job, not a single page.
func (p *Pipeline) Run(ctx context.Context, jobID string, payload []byte, tpl domain.ExamTemplate) {
	start := time.Now()
	log := p.logger.With().Str("job_id", jobID).Str("template", tpl.ID).Logger()

	p.metrics.ActiveJobs.Inc()
	defer p.metrics.ActiveJobs.Dec()

	doc, err := document.Load(payload)
	if err != nil {
		log.Error().Err(err).Msg("document load failed")
		p.registry.Fail(jobID, err.Error())
		p.metrics.ObserveJob("error", time.Since(start))
		return
	}
	p.registry.MarkProcessing(jobID, len(doc.Pages))
	log.Info().Int("pages", len(doc.Pages)).Msg("scan processing started")

	records, warnings, err := p.runGroups(ctx, log, jobID, doc, tpl)
	if err != nil {
		log.Error().Err(err).Msg("scan processing aborted")
		p.registry.Fail(jobID, "processing aborted: "+err.Error())
		p.metrics.ObserveJob("error", time.Since(start))
		return
	}

	if merged, ok := MergeTwoPage(len(doc.Pages), records, tpl); ok {
		records = merged
		log.Info().Msg("merged two-page exam into a single record")
	}

	p.registry.Complete(jobID, records, warnings)
	p.metrics.ObserveJob("completed", time.Since(start))
	log.Info().
		Int("students", len(records)).
		Int("warnings", len(warnings)).
		Dur("took", time.Since(start)).
		Msg("scan processing completed")
}

// runGroups walks the document in groups of at most p.concurrency pages.
// Pages inside a group are recognized in parallel; the group's records,
// warnings and progress land in the registry as a single update so pollers
// never observe a half-published group.
func (p *Pipeline) runGroups(ctx context.Context, log zerolog.Logger, jobID string, doc *document.Document, tpl domain.ExamTemplate) ([]domain.StudentAnswerRecord, []string, error) {
	var (
		records  []domain.StudentAnswerRecord
		warnings []string
	)
	total := len(doc.Pages)
	for startPage := 0; startPage < total; startPage += p.concurrency {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := startPage + p.concurrency
		if end > total {
			end = total
		}

		outcomes := make([]pageOutcome, end-startPage)
		var wg sync.WaitGroup
		for i := startPage; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx-startPage] = p.processPage(ctx, log, idx+1, doc.Pages[idx], tpl)
			}(i)
		}
		wg.Wait()

		update := domain.GroupUpdate{CurrentPage: end}
		for _, out := range outcomes {
			warnings = append(warnings, out.jobWarnings...)
			update.Warnings = append(update.Warnings, out.jobWarnings...)
			if out.record != nil {
				records = append(records, *out.record)
				update.Records = append(update.Records, *out.record)
			}
			if out.result != nil {
				update.LastPageResult = out.result
			}
		}
		p.registry.PublishGroup(jobID, update)
		log.Debug().
			Int("from", startPage+1).
			Int("to", end).
			Int("records", len(update.Records)).
			Msg("page group published")

		if end < total && p.groupDelay > 0 {
			if err := sleepCtx(ctx, p.groupDelay); err != nil {
				return nil, nil, err
			}
		}
	}
	return records, warnings, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
