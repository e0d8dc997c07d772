// Package scoring is the HTTP client for the downstream IRT scoring
// service. It forwards completed answer records together with an answer key
// and returns per-student scores; all scoring math lives on the remote side.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// StudentScore is one scored student as reported by the service.
type StudentScore struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
	Correct   int     `json:"correct"`
}

// Scorer scores a batch of answer records against an answer key.
type Scorer interface {
	Score(ctx context.Context, templateID string, answerKey []string, records []domain.StudentAnswerRecord) ([]StudentScore, error)
}

// Options configures the HTTP scoring client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

var _ Scorer = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("scoring: base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		httpc:   httpc,
	}, nil
}

type scorePayload struct {
	Template  string         `json:"template"`
	AnswerKey []string       `json:"answer_key"`
	Students  []scoreStudent `json:"students"`
}

type scoreStudent struct {
	ID            string   `json:"id"`
	StudentNumber string   `json:"student_number"`
	Answers       []string `json:"answers"`
}

type scoreResponse struct {
	Scores []StudentScore `json:"scores"`
}

func (c *Client) Score(ctx context.Context, templateID string, answerKey []string, records []domain.StudentAnswerRecord) ([]StudentScore, error) {
	payload := scorePayload{
		Template:  templateID,
		AnswerKey: answerKey,
		Students:  make([]scoreStudent, 0, len(records)),
	}
	for _, rec := range records {
		payload.Students = append(payload.Students, scoreStudent{
			ID:            rec.ID,
			StudentNumber: rec.StudentNumber,
			Answers:       rec.Answers,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("scoring: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scoring: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scoring: call service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("scoring: service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("scoring: decode response: %w", err)
	}
	return decoded.Scores, nil
}
