package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/document"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/middleware"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/scoring"
)

const multipartMemory = 32 << 20

type scanSubmitResponse struct {
	JobID      string           `json:"job_id"`
	Status     domain.JobStatus `json:"status"`
	TotalPages int              `json:"total_pages"`
}

type scanStatusResponse struct {
	JobID          string             `json:"job_id"`
	Template       string             `json:"template"`
	Status         domain.JobStatus   `json:"status"`
	Progress       int                `json:"progress"`
	CurrentPage    int                `json:"current_page"`
	TotalPages     int                `json:"total_pages"`
	StudentCount   int                `json:"student_count"`
	Warnings       []string           `json:"warnings,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	LastPageResult *domain.PageResult `json:"last_page_result,omitempty"`
}

type scanResultsResponse struct {
	JobID      string                       `json:"job_id"`
	Status     domain.JobStatus             `json:"status"`
	TotalPages int                          `json:"total_pages"`
	Students   []domain.StudentAnswerRecord `json:"students"`
	Warnings   []string                     `json:"warnings,omitempty"`
}

type scanScoreRequest struct {
	AnswerKey []string `json:"answer_key"`
}

type scanScoreResponse struct {
	JobID  string                 `json:"job_id"`
	Scores []scoring.StudentScore `json:"scores"`
}

// ScansCreate accepts a scan upload (multipart: "file" payload, "template"
// tag) and answers 202 with a job id immediately. Processing happens on a
// background goroutine bound to the app context, never to this request.
func (a *App) ScansCreate(w http.ResponseWriter, r *http.Request) {
	if a.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "scan upload exceeds the size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	tpl, ok := domain.TemplateByID(r.FormValue("template"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown exam template")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read uploaded file")
		return
	}

	// An unreadable payload still gets a job: load failures surface through
	// the job status, not the submission response.
	totalPages := 0
	if n, err := document.CountPages(payload); err == nil {
		totalPages = n
	}

	jobID := a.Registry.Create(tpl.ID, totalPages)
	if a.Metrics != nil {
		a.Metrics.JobsSubmitted.Inc()
	}
	go a.Runner.Run(a.baseCtx(), jobID, payload, tpl)

	a.Logger.Info().
		Str("job_id", jobID).
		Str("template", tpl.ID).
		Int("total_pages", totalPages).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("scan accepted")
	a.json(w, http.StatusAccepted, scanSubmitResponse{
		JobID:      jobID,
		Status:     domain.StatusQueued,
		TotalPages: totalPages,
	})
}

// ScansStatus reports the current state of a job. Swept and never-known ids
// are indistinguishable on purpose.
func (a *App) ScansStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown or expired job")
		return
	}
	a.json(w, http.StatusOK, scanStatusResponse{
		JobID:          job.ID,
		Template:       job.TemplateID,
		Status:         job.Status,
		Progress:       job.Progress,
		CurrentPage:    job.CurrentPage,
		TotalPages:     job.TotalPages,
		StudentCount:   len(job.Students),
		Warnings:       job.Warnings,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		LastPageResult: job.LastPageResult,
	})
}

// ScansResults returns the student records recognized so far. While the job
// is still processing the list grows only at group boundaries, so callers
// never see a half-published group.
func (a *App) ScansResults(w http.ResponseWriter, r *http.Request) {
	job, err := a.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown or expired job")
		return
	}
	students := job.Students
	if students == nil {
		students = []domain.StudentAnswerRecord{}
	}
	a.json(w, http.StatusOK, scanResultsResponse{
		JobID:      job.ID,
		Status:     job.Status,
		TotalPages: job.TotalPages,
		Students:   students,
		Warnings:   job.Warnings,
	})
}

// ScansScore forwards a completed job's records to the scoring service
// together with the supplied answer key.
func (a *App) ScansScore(w http.ResponseWriter, r *http.Request) {
	if a.Scorer == nil {
		a.error(w, http.StatusServiceUnavailable, "scoring_unavailable", "scoring service is not configured")
		return
	}
	job, err := a.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown or expired job")
		return
	}
	if job.Status != domain.StatusCompleted {
		a.error(w, http.StatusConflict, "conflict", "job has not completed yet")
		return
	}
	var req scanScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if tpl, ok := domain.TemplateByID(job.TemplateID); ok && len(req.AnswerKey) != tpl.QuestionCount {
		a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("answer key must have %d entries", tpl.QuestionCount))
		return
	}
	scores, err := a.Scorer.Score(r.Context(), job.TemplateID, req.AnswerKey, job.Students)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("scoring request failed")
		a.error(w, http.StatusBadGateway, "upstream_error", "scoring service call failed")
		return
	}
	a.json(w, http.StatusOK, scanScoreResponse{JobID: job.ID, Scores: scores})
}
