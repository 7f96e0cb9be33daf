// Package ocr extracts text from textbook photos with Google Cloud Vision.
//
// Information Hiding:
// - REST payload format for images:annotate hidden behind Recognizer
// - Service-account and API-key authentication hidden behind Options
// - Unicode normalization applied before text leaves the package

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"golang.org/x/text/unicode/norm"

	"github.com/richinex/tutor/telemetry"
)

// DefaultEndpoint is the Cloud Vision annotate endpoint.
const DefaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// Scope requested for service-account tokens.
const Scope = "https://www.googleapis.com/auth/cloud-vision"

var (
	// ErrNoText means the image contained no detectable text.
	ErrNoText = errors.New("no text detected in image")

	// ErrNoCredentials means neither a service account nor an API key is
	// available.
	ErrNoCredentials = errors.New("no OCR credentials configured")

	// ErrEmptyImage is returned for a zero-length image.
	ErrEmptyImage = errors.New("image is empty")
)

// APIError is an error reported by the Vision service, either as the HTTP
// response or in the per-image error field.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("vision: status %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("vision: code %d: %s", e.Code, e.Message)
}

// Annotation is the text found on a page.
type Annotation struct {
	// Text is the full-page transcription, NFC-normalized.
	Text string
	// Locale is the detected language, when reported.
	Locale string
	// Words holds the remaining annotations, one per detected word or line.
	Words []string
}

// Recognizer turns an image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (Annotation, error)
}

// Options configures a VisionClient. With neither APIKey nor TokenProvider
// set, credentials are read from the environment on every call.
type Options struct {
	Endpoint      string
	APIKey        string
	TokenProvider auth.TokenProvider
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
}

// VisionClient calls images:annotate with TEXT_DETECTION.
type VisionClient struct {
	endpoint string
	auth     authorizer
	http     *http.Client
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewVisionClient creates a client.
func NewVisionClient(opts Options) *VisionClient {
	c := &VisionClient{
		endpoint: opts.Endpoint,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	switch {
	case opts.TokenProvider != nil:
		c.auth = tokenAuth{opts.TokenProvider}
	case opts.APIKey != "":
		c.auth = keyAuth(opts.APIKey)
	default:
		c.auth = &envAuth{}
	}
	return c
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
	Error     *APIError       `json:"error,omitempty"`
}

type imageResponse struct {
	TextAnnotations []struct {
		Description string `json:"description"`
		Locale      string `json:"locale"`
	} `json:"textAnnotations"`
	Error *APIError `json:"error,omitempty"`
}

// Recognize detects the text in image. The first annotation is the whole
// page; an error field in the response is returned as *APIError.
func (c *VisionClient) Recognize(ctx context.Context, image []byte) (ann Annotation, err error) {
	defer func() { c.metrics.RecordOCR(err) }()

	if len(image) == 0 {
		return Annotation{}, ErrEmptyImage
	}

	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []feature{{Type: "TEXT_DETECTION"}},
	}}})
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.authorize(ctx, req); err != nil {
		return Annotation{}, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Annotation{}, fmt.Errorf("text detection request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed annotateResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && parsed.Error != nil {
			apiErr.Code, apiErr.Message, apiErr.Status = parsed.Error.Code, parsed.Error.Message, parsed.Error.Status
		}
		return Annotation{}, apiErr
	}
	if decodeErr != nil {
		return Annotation{}, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(parsed.Responses) == 0 {
		return Annotation{}, ErrNoText
	}

	first := parsed.Responses[0]
	if first.Error != nil && (first.Error.Code != 0 || first.Error.Message != "") {
		return Annotation{}, first.Error
	}
	if len(first.TextAnnotations) == 0 {
		return Annotation{}, ErrNoText
	}

	ann = Annotation{
		Text:   norm.NFC.String(strings.TrimSpace(first.TextAnnotations[0].Description)),
		Locale: first.TextAnnotations[0].Locale,
	}
	for _, a := range first.TextAnnotations[1:] {
		ann.Words = append(ann.Words, norm.NFC.String(a.Description))
	}

	c.logger.Debug("text detected", "chars", len([]rune(ann.Text)), "locale", ann.Locale, "duration", time.Since(start))
	return ann, nil
}

type authorizer interface {
	authorize(ctx context.Context, req *http.Request) error
}

type keyAuth string

func (k keyAuth) authorize(_ context.Context, req *http.Request) error {
	q := req.URL.Query()
	q.Set("key", string(k))
	req.URL.RawQuery = q.Encode()
	return nil
}

type tokenAuth struct {
	tp auth.TokenProvider
}

func (t tokenAuth) authorize(ctx context.Context, req *http.Request) error {
	tok, err := t.tp.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	return nil
}

// envAuth reads GOOGLE_CREDENTIALS (a service-account JSON document) or
// VISION_API_KEY at call time. Detected credentials are reused while the
// document is unchanged.
type envAuth struct {
	mu    sync.Mutex
	blob  string
	creds *auth.Credentials
}

func (e *envAuth) authorize(ctx context.Context, req *http.Request) error {
	blob := strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS"))
	if blob == "" {
		if key := strings.TrimSpace(os.Getenv("VISION_API_KEY")); key != "" {
			return keyAuth(key).authorize(ctx, req)
		}
		return ErrNoCredentials
	}

	creds, err := e.detect(blob)
	if err != nil {
		return err
	}
	return tokenAuth{creds}.authorize(ctx, req)
}

func (e *envAuth) detect(blob string) (*auth.Credentials, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.creds != nil && e.blob == blob {
		return e.creds, nil
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{Scope},
		CredentialsJSON: []byte(blob),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid GOOGLE_CREDENTIALS: %w", err)
	}
	e.blob, e.creds = blob, creds
	return creds, nil
}
