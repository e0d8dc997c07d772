package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/infra"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/watch"
)

const submitTimeout = 2 * time.Minute

// submitter posts finished scan files from the inbox to the scan API.
type submitter struct {
	apiURL   string
	template string
	httpc    *http.Client
	logger   zerolog.Logger
}

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	logger := infra.NewLogger(getEnv("APP_ENV", "development"))

	inbox := os.Getenv("SCAN_INBOX")
	if inbox == "" {
		logger.Fatal().Msg("SCAN_INBOX is required")
	}
	templateID := os.Getenv("SCAN_TEMPLATE")
	if _, ok := domain.TemplateByID(templateID); !ok {
		logger.Fatal().Str("template", templateID).Msg("SCAN_TEMPLATE is missing or unknown")
	}
	apiURL := getEnv("SCAN_API_URL", "http://localhost:8080")
	debounce := time.Duration(getEnvInt("WATCH_DEBOUNCE_MS", 2000)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, errs, err := watch.Start(ctx, watch.Config{
		Root:        inbox,
		InitialScan: true,
		Debounce:    debounce,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scanwatch: failed to start inbox watcher")
	}

	sub := &submitter{
		apiURL:   strings.TrimRight(apiURL, "/"),
		template: templateID,
		httpc:    &http.Client{Timeout: submitTimeout},
		logger:   logger,
	}

	logger.Info().
		Str("inbox", inbox).
		Str("api", sub.apiURL).
		Str("template", templateID).
		Msg("scanwatch: started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scanwatch: stopped")
			return
		case err, ok := <-errs:
			if ok && err != nil {
				logger.Error().Err(err).Msg("scanwatch: watcher error")
			}
		case path, ok := <-files:
			if !ok {
				return
			}
			sub.handle(ctx, path)
		}
	}
}

// handle submits one file and archives it on success. A failed submission
// leaves the file in the inbox so the next write event retries it.
func (s *submitter) handle(ctx context.Context, path string) {
	jobID, pages, err := s.submit(ctx, path)
	if err != nil {
		s.logger.Error().Err(err).Str("file", path).Msg("scanwatch: submission failed")
		return
	}
	archived, err := watch.ArchiveProcessed(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("scanwatch: could not archive submitted file")
	}
	s.logger.Info().
		Str("file", path).
		Str("job_id", jobID).
		Int("total_pages", pages).
		Str("archived", archived).
		Msg("scanwatch: scan submitted")
}

func (s *submitter) submit(ctx context.Context, path string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open scan file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", 0, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", 0, fmt.Errorf("read scan file: %w", err)
	}
	if err := mw.WriteField("template", s.template); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/v1/scans", &buf)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("call scan api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", 0, fmt.Errorf("scan api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var accepted struct {
		JobID      string `json:"job_id"`
		TotalPages int    `json:"total_pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", 0, fmt.Errorf("decode scan api response: %w", err)
	}
	return accepted.JobID, accepted.TotalPages, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
