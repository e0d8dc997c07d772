package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/recognition"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/registry"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/retry"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	attempts map[string]int
	fn       func(req recognition.Request, attempt int) (*recognition.Result, error)
}

func newFakeRecognizer(fn func(recognition.Request, int) (*recognition.Result, error)) *fakeRecognizer {
	return &fakeRecognizer{attempts: make(map[string]int), fn: fn}
}

func (f *fakeRecognizer) Recognize(_ context.Context, req recognition.Request) (*recognition.Result, error) {
	f.mu.Lock()
	key := fmt.Sprintf("%d/extract=%t", req.PageNumber, req.ExtractIdentity)
	f.attempts[key]++
	attempt := f.attempts[key]
	f.mu.Unlock()
	return f.fn(req, attempt)
}

func (f *fakeRecognizer) count(page int, extract bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[fmt.Sprintf("%d/extract=%t", page, extract)]
}

func okResult(tpl domain.ExamTemplate, letter string, id *domain.RecognizedIdentity) *recognition.Result {
	answers := make([]string, tpl.QuestionsPerPage)
	for i := range answers {
		answers[i] = letter
	}
	return &recognition.Result{Answers: answers, Identity: id, QualityNotes: "clean scan"}
}

func identity(name, code string) *domain.RecognizedIdentity {
	return &domain.RecognizedIdentity{Name: name, EnrollmentCode: code}
}

func pngPage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

func zipPages(t *testing.T, pages int) []byte {
	t.Helper()
	page := pngPage(t)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 1; i <= pages; i++ {
		w, err := zw.Create(fmt.Sprintf("page-%02d.png", i))
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write(page); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(rec recognition.Recognizer, concurrency int, delay time.Duration) (*Pipeline, *registry.InMemory) {
	jobs := registry.New(time.Hour, time.Hour, zerolog.Nop())
	p := New(Options{
		Registry:    jobs,
		Recognizer:  rec,
		Retry:       retry.Policy{MaxAttempts: 3, Delay: func(int) time.Duration { return 0 }},
		Logger:      zerolog.Nop(),
		Concurrency: concurrency,
		GroupDelay:  delay,
	})
	return p, jobs
}

func mustTemplate(t *testing.T, id string) domain.ExamTemplate {
	t.Helper()
	tpl, ok := domain.TemplateByID(id)
	if !ok {
		t.Fatalf("template %q missing from catalogue", id)
	}
	return tpl
}

func TestRunCompletesSinglePageScan(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(recognition.Request, int) (*recognition.Result, error) {
		return okResult(tpl, "A", identity("Maria Silva", "20240001")), nil
	})
	p, jobs := newTestPipeline(fake, 2, 0)

	jobID := jobs.Create(tpl.ID, 1)
	p.Run(context.Background(), jobID, pngPage(t), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (error message %q)", job.Status, job.ErrorMessage)
	}
	if job.Progress != 100 || job.TotalPages != 1 || job.CurrentPage != 1 {
		t.Fatalf("progress=%d current=%d total=%d, want 100/1/1", job.Progress, job.CurrentPage, job.TotalPages)
	}
	if len(job.Students) != 1 {
		t.Fatalf("students = %d, want 1", len(job.Students))
	}
	rec := job.Students[0]
	if rec.StudentNumber != "20240001" || rec.StudentName != "Maria Silva" {
		t.Fatalf("identity not carried into record: %+v", rec)
	}
	if len(rec.Answers) != 90 || rec.Answers[0] != "A" || rec.Answers[89] != "A" {
		t.Fatalf("answers not normalized to template length: len=%d", len(rec.Answers))
	}
	if rec.Confidence != 98 {
		t.Fatalf("confidence = %d, want 98", rec.Confidence)
	}
	if rec.RawText != "clean scan" {
		t.Fatalf("quality notes not carried: %q", rec.RawText)
	}
	if job.LastPageResult == nil || job.LastPageResult.PageNumber != 1 {
		t.Fatalf("last page result missing: %+v", job.LastPageResult)
	}
	if len(job.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", job.Warnings)
	}
}

func TestRunFailsUnreadableDocument(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(recognition.Request, int) (*recognition.Result, error) {
		return okResult(tpl, "A", nil), nil
	})
	p, jobs := newTestPipeline(fake, 2, 0)

	jobID := jobs.Create(tpl.ID, 0)
	p.Run(context.Background(), jobID, []byte("definitely not a scan"), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if !hasWarning([]string{job.ErrorMessage}, "unreadable or unsupported") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	if fake.count(1, true) != 0 {
		t.Fatal("recognition must not run for an unreadable document")
	}
}

func TestRunIsolatesSingleFailedPage(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(req recognition.Request, _ int) (*recognition.Result, error) {
		if req.PageNumber == 3 {
			return nil, &recognition.ServiceError{Reason: recognition.FailureRemote, StatusCode: 500, Body: "ocr crashed"}
		}
		return okResult(tpl, "C", identity("Student", fmt.Sprintf("n-%d", req.PageNumber))), nil
	})
	p, jobs := newTestPipeline(fake, 3, 0)

	jobID := jobs.Create(tpl.ID, 5)
	p.Run(context.Background(), jobID, zipPages(t, 5), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("a single bad page must not fail the job, status = %s", job.Status)
	}
	if len(job.Students) != 4 {
		t.Fatalf("students = %d, want 4", len(job.Students))
	}
	var pages []int
	for _, s := range job.Students {
		pages = append(pages, s.PageNumber)
	}
	want := []int{1, 2, 4, 5}
	for i, p := range want {
		if pages[i] != p {
			t.Fatalf("record pages = %v, want %v", pages, want)
		}
	}
	if !hasWarning(job.Warnings, "page 3") {
		t.Fatalf("missing page 3 warning: %v", job.Warnings)
	}
	if got := fake.count(3, true); got != 3 {
		t.Fatalf("failed page attempted %d times, want 3", got)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
}

func TestRunRetriesTransientRecognitionFailures(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(_ recognition.Request, attempt int) (*recognition.Result, error) {
		if attempt < 3 {
			return nil, &recognition.ServiceError{Reason: recognition.FailureTransport, Err: errors.New("connection reset")}
		}
		return okResult(tpl, "D", identity("Ana Lima", "7001")), nil
	})
	p, jobs := newTestPipeline(fake, 1, 0)

	jobID := jobs.Create(tpl.ID, 1)
	p.Run(context.Background(), jobID, pngPage(t), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Students) != 1 {
		t.Fatalf("students = %d, want 1", len(job.Students))
	}
	if len(job.Warnings) != 0 {
		t.Fatalf("a recovered page must not leave warnings: %v", job.Warnings)
	}
	if got := fake.count(1, true); got != 3 {
		t.Fatalf("page attempted %d times, want 3", got)
	}
}

func TestRunFallsBackToIdentitylessMode(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(req recognition.Request, _ int) (*recognition.Result, error) {
		if req.ExtractIdentity {
			return nil, recognition.ErrIdentityNotFound
		}
		return okResult(tpl, "B", nil), nil
	})
	p, jobs := newTestPipeline(fake, 1, 0)

	jobID := jobs.Create(tpl.ID, 1)
	p.Run(context.Background(), jobID, pngPage(t), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Students) != 1 {
		t.Fatalf("students = %d, want 1", len(job.Students))
	}
	rec := job.Students[0]
	if rec.StudentNumber != domain.PlaceholderNumber(1) {
		t.Fatalf("student number = %q, want placeholder %q", rec.StudentNumber, domain.PlaceholderNumber(1))
	}
	if rec.StudentName != domain.PlaceholderName(1) {
		t.Fatalf("student name = %q, want placeholder", rec.StudentName)
	}
	if !hasWarning(job.Warnings, "placeholder") {
		t.Fatalf("missing placeholder warning: %v", job.Warnings)
	}
	if fake.count(1, true) != 1 {
		t.Fatalf("identity-not-found was retried %d times", fake.count(1, true))
	}
	if fake.count(1, false) != 1 {
		t.Fatalf("fallback pass ran %d times, want 1", fake.count(1, false))
	}
	if job.LastPageResult == nil || job.LastPageResult.Identity != nil {
		t.Fatalf("fallback page result must carry no identity: %+v", job.LastPageResult)
	}
	if !hasWarning(job.LastPageResult.Warnings, "placeholder") {
		t.Fatalf("page result must record the identity fallback: %v", job.LastPageResult.Warnings)
	}
}

func TestRunNarrowsIdentityText(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(recognition.Request, int) (*recognition.Result, error) {
		return okResult(tpl, "A", identity(" Ａｎａ Ｓｏｕｚａ ", "１０４２")), nil
	})
	p, jobs := newTestPipeline(fake, 1, 0)

	jobID := jobs.Create(tpl.ID, 1)
	p.Run(context.Background(), jobID, pngPage(t), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Students) != 1 {
		t.Fatalf("students = %d, want 1", len(job.Students))
	}
	rec := job.Students[0]
	if rec.StudentNumber != "1042" {
		t.Fatalf("student number = %q, want the narrow form %q", rec.StudentNumber, "1042")
	}
	if rec.StudentName != "Ana Souza" {
		t.Fatalf("student name = %q, want the narrow form %q", rec.StudentName, "Ana Souza")
	}
	if job.LastPageResult == nil || job.LastPageResult.Identity == nil {
		t.Fatalf("page result identity missing: %+v", job.LastPageResult)
	}
	if got := job.LastPageResult.Identity.EnrollmentCode; got != "1042" {
		t.Fatalf("page result enrollment code = %q, want the narrow form", got)
	}
}

func TestRunMergesTwoPageExam(t *testing.T) {
	tpl := mustTemplate(t, "enem-full")
	fake := newFakeRecognizer(func(req recognition.Request, _ int) (*recognition.Result, error) {
		letter := string(rune('A' + req.PageNumber - 1))
		return okResult(tpl, letter, identity("Carlos Pereira", "555")), nil
	})
	p, jobs := newTestPipeline(fake, 2, 0)

	jobID := jobs.Create(tpl.ID, 2)
	p.Run(context.Background(), jobID, zipPages(t, 2), tpl)

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Students) != 1 {
		t.Fatalf("two-page exam produced %d records, want 1 merged", len(job.Students))
	}
	rec := job.Students[0]
	if len(rec.Answers) != 180 {
		t.Fatalf("merged answers = %d, want 180", len(rec.Answers))
	}
	if rec.Answers[0] != "A" || rec.Answers[90] != "B" || rec.Answers[179] != "B" {
		t.Fatalf("merged answers out of page order: %q %q %q", rec.Answers[0], rec.Answers[90], rec.Answers[179])
	}
	if rec.StudentNumber != "555" {
		t.Fatalf("merged student number = %q", rec.StudentNumber)
	}
}

type recordingRegistry struct {
	domain.Registry
	mu      sync.Mutex
	updates []domain.GroupUpdate
}

func (r *recordingRegistry) PublishGroup(id string, update domain.GroupUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	r.Registry.PublishGroup(id, update)
}

func TestRunPublishesWholeGroupsOnly(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(req recognition.Request, _ int) (*recognition.Result, error) {
		return okResult(tpl, "E", identity("S", fmt.Sprintf("n-%d", req.PageNumber))), nil
	})
	inner := registry.New(time.Hour, time.Hour, zerolog.Nop())
	rec := &recordingRegistry{Registry: inner}
	p := New(Options{
		Registry:    rec,
		Recognizer:  fake,
		Retry:       retry.Policy{MaxAttempts: 1, Delay: func(int) time.Duration { return 0 }},
		Logger:      zerolog.Nop(),
		Concurrency: 2,
	})

	jobID := inner.Create(tpl.ID, 5)
	p.Run(context.Background(), jobID, zipPages(t, 5), tpl)

	if len(rec.updates) != 3 {
		t.Fatalf("published %d group updates, want 3", len(rec.updates))
	}
	wantPages := []int{2, 4, 5}
	wantRecords := []int{2, 2, 1}
	for i, u := range rec.updates {
		if u.CurrentPage != wantPages[i] {
			t.Fatalf("update %d advanced to page %d, want %d", i, u.CurrentPage, wantPages[i])
		}
		if len(u.Records) != wantRecords[i] {
			t.Fatalf("update %d carried %d records, want %d", i, len(u.Records), wantRecords[i])
		}
	}

	job, err := inner.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Progress != 100 || len(job.Students) != 5 {
		t.Fatalf("final progress=%d students=%d, want 100/5", job.Progress, len(job.Students))
	}
}

func TestRunWaitsBetweenGroups(t *testing.T) {
	tpl := mustTemplate(t, "enem-day1")
	fake := newFakeRecognizer(func(recognition.Request, int) (*recognition.Result, error) {
		return okResult(tpl, "A", nil), nil
	})
	delay := 60 * time.Millisecond
	p, jobs := newTestPipeline(fake, 2, delay)

	jobID := jobs.Create(tpl.ID, 4)
	start := time.Now()
	p.Run(context.Background(), jobID, zipPages(t, 4), tpl)

	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("run finished in %v, want at least one %v group gap", elapsed, delay)
	}
	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
}
