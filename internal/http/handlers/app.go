package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/metrics"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/scoring"
)

// ScanRunner starts background processing for an accepted scan job. The
// pipeline implements it; tests swap in fakes.
type ScanRunner interface {
	Run(ctx context.Context, jobID string, payload []byte, tpl domain.ExamTemplate)
}

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Registry domain.Registry
	Runner   ScanRunner
	// Scorer is nil when no scoring service is configured; the score
	// endpoint then answers 503.
	Scorer  scoring.Scorer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// BaseCtx bounds background jobs to the process lifetime instead of the
	// submission request, which returns long before processing ends.
	BaseCtx context.Context

	MaxUploadBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, tag, message string) {
	a.json(w, code, map[string]string{"error": tag, "message": message})
}

func (a *App) baseCtx() context.Context {
	if a.BaseCtx != nil {
		return a.BaseCtx
	}
	return context.Background()
}
