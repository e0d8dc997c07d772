package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
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
	defaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of a remote error payload is captured into
	// a ServiceError. Recognition backends occasionally echo the submitted
	// image back inside error messages.
	maxErrorBody = 4 << 10
)

// Request describes one page submitted for mark recognition.
type Request struct {
	// Image is the raw page raster (PNG or JPEG bytes).
	Image []byte
	// PageNumber is 1-based within the submitted document.
	PageNumber int
	// Template is the exam template identifier the service should assume.
	Template string
	// ExtractIdentity asks the service to also read the identity block.
	// When false the service only reads answer marks.
	ExtractIdentity bool
}

// Result is the successful outcome of a single recognition call.
// Answers is the dense per-question array when the service produced one;
// Marks is the sparse 1-based question-to-letter map. Either or both may be
// set, and normalization downstream reconciles them.
type Result struct {
	Answers      []string
	Marks        map[string]string
	Identity     *domain.RecognizedIdentity
	QualityNotes string
}

// Recognizer is a single-attempt recognition call. Implementations do not
// retry; the retry policy wraps them at the call site.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// Options configures the HTTP recognition client.
type Options struct {
	// BaseURL is the service root, e.g. http://recognizer:8091.
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// HTTPClient overrides the default client. Its own Timeout wins over
	// Options.Timeout when set.
	HTTPClient *http.Client
	// Timeout bounds a single attempt when HTTPClient is nil.
	Timeout time.Duration
}

// Client calls the external recognition service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

var _ Recognizer = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("recognition: base url is required")
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

type recognizePayload struct {
	Image           string `json:"image"`
	PageNumber      int    `json:"page_number"`
	Template        string `json:"template"`
	ExtractIdentity bool   `json:"extract_identity"`
}

type recognizeResponse struct {
	Status       string                     `json:"status"`
	Answers      []string                   `json:"answers"`
	Marks        map[string]string          `json:"marks"`
	Identity     *domain.RecognizedIdentity `json:"identity"`
	QualityNotes string                     `json:"quality_notes"`
	Message      string                     `json:"message"`
}

// Recognize submits one page image and returns the recognized marks. It
// performs exactly one attempt: transport and remote failures come back as
// *ServiceError, and a readable sheet with no locatable identity block comes
// back as ErrIdentityNotFound.
func (c *Client) Recognize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, errors.New("recognition: empty page image")
	}
	if req.PageNumber <= 0 {
		return nil, errors.New("recognition: page number must be positive")
	}

	payload := recognizePayload{
		Image:           base64.StdEncoding.EncodeToString(req.Image),
		PageNumber:      req.PageNumber,
		Template:        req.Template,
		ExtractIdentity: req.ExtractIdentity,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("recognition: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recognize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("recognition: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Reason: classify(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServiceError{
			Reason:     FailureRemote,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(detail)),
		}
	}

	var decoded recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ServiceError{Reason: FailureTransport, Err: fmt.Errorf("decode response: %w", err)}
	}

	if decoded.Status == "identity_not_found" {
		return nil, ErrIdentityNotFound
	}

	return &Result{
		Answers:      decoded.Answers,
		Marks:        decoded.Marks,
		Identity:     decoded.Identity,
		QualityNotes: decoded.QualityNotes,
	}, nil
}
