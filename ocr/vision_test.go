package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/auth"
)

type captured struct {
	key    string
	bearer string
	body   annotateRequest
}

func fakeVision(t *testing.T, status int, response string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got != nil {
			got.key = r.URL.Query().Get("key")
			got.bearer = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&got.body); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticToken string

func (s staticToken) Token(context.Context) (*auth.Token, error) {
	return &auth.Token{Value: string(s), Type: "Bearer"}, nil
}

func TestRecognizeWithAPIKey(t *testing.T) {
	var got captured
	srv := fakeVision(t, http.StatusOK, `{"responses":[{"textAnnotations":[
		{"description":"第一课\n你好\n","locale":"zh"},
		{"description":"第一课"},
		{"description":"你好"}
	]}]}`, &got)

	c := NewVisionClient(Options{Endpoint: srv.URL, APIKey: "vision-key", Logger: quiet()})
	ann, err := c.Recognize(context.Background(), []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}

	if ann.Text != "第一课\n你好" {
		t.Errorf("unexpected text %q", ann.Text)
	}
	if ann.Locale != "zh" {
		t.Errorf("expected locale zh, got %q", ann.Locale)
	}
	if len(ann.Words) != 2 || ann.Words[1] != "你好" {
		t.Errorf("unexpected words %v", ann.Words)
	}

	if got.key != "vision-key" {
		t.Errorf("expected key in query, got %q", got.key)
	}
	if got.bearer != "" {
		t.Errorf("expected no bearer header, got %q", got.bearer)
	}
	if len(got.body.Requests) != 1 {
		t.Fatalf("expected one image request, got %d", len(got.body.Requests))
	}
	req := got.body.Requests[0]
	if req.Image.Content != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Errorf("image not base64 encoded: %q", req.Image.Content)
	}
	if len(req.Features) != 1 || req.Features[0].Type != "TEXT_DETECTION" {
		t.Errorf("unexpected features %+v", req.Features)
	}
}

func TestRecognizeWithTokenProvider(t *testing.T) {
	var got captured
	srv := fakeVision(t, http.StatusOK, `{"responses":[{"textAnnotations":[{"description":"你好"}]}]}`, &got)

	c := NewVisionClient(Options{Endpoint: srv.URL, TokenProvider: staticToken("tok-1"), Logger: quiet()})
	if _, err := c.Recognize(context.Background(), []byte("img")); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if got.bearer != "Bearer tok-1" {
		t.Errorf("expected bearer token, got %q", got.bearer)
	}
	if got.key != "" {
		t.Errorf("expected no key param, got %q", got.key)
	}
}

func TestRecognizeNormalizesToNFC(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	srv := fakeVision(t, http.StatusOK, `{"responses":[{"textAnnotations":[{"description":"cafe\u0301"}]}]}`, nil)

	c := NewVisionClient(Options{Endpoint: srv.URL, APIKey: "k", Logger: quiet()})
	ann, err := c.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if ann.Text != "caf\u00e9" {
		t.Errorf("expected composed text, got %q", ann.Text)
	}
}

func TestRecognizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no annotations",
			status:   http.StatusOK,
			response: `{"responses":[{}]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoText) {
					t.Errorf("expected ErrNoText, got %v", err)
				}
			},
		},
		{
			name:     "no responses",
			status:   http.StatusOK,
			response: `{}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoText) {
					t.Errorf("expected ErrNoText, got %v", err)
				}
			},
		},
		{
			name:     "per image error",
			status:   http.StatusOK,
			response: `{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != 3 || apiErr.Message != "Bad image data." {
					t.Errorf("expected *APIError code 3, got %v", err)
				}
			},
		},
		{
			name:     "http error",
			status:   http.StatusForbidden,
			response: `{"error":{"code":403,"message":"API key not valid.","status":"PERMISSION_DENIED"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %v", err)
				}
				if apiErr.HTTPStatus != http.StatusForbidden || apiErr.Status != "PERMISSION_DENIED" {
					t.Errorf("unexpected error %+v", apiErr)
				}
			},
		},
		{
			name:     "http error without body",
			status:   http.StatusBadGateway,
			response: `upstream down`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusBadGateway {
					t.Errorf("expected 502 *APIError, got %v", err)
				}
			},
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			response: `not json`,
			check: func(t *testing.T, err error) {
				if err == nil || errors.Is(err, ErrNoText) {
					t.Errorf("expected decode error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeVision(t, tt.status, tt.response, nil)
			c := NewVisionClient(Options{Endpoint: srv.URL, APIKey: "k", Logger: quiet()})
			_, err := c.Recognize(context.Background(), []byte("img"))
			tt.check(t, err)
		})
	}
}

func TestRecognizeEmptyImage(t *testing.T) {
	c := NewVisionClient(Options{Endpoint: "http://127.0.0.1:1", APIKey: "k", Logger: quiet()})
	if _, err := c.Recognize(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		t.Setenv("GOOGLE_CREDENTIALS", "")
		t.Setenv("VISION_API_KEY", "")

		c := NewVisionClient(Options{Endpoint: "http://127.0.0.1:1", Logger: quiet()})
		if _, err := c.Recognize(context.Background(), []byte("img")); !errors.Is(err, ErrNoCredentials) {
			t.Errorf("expected ErrNoCredentials, got %v", err)
		}
	})

	t.Run("api key read at call time", func(t *testing.T) {
		t.Setenv("GOOGLE_CREDENTIALS", "")
		t.Setenv("VISION_API_KEY", "")

		var got captured
		srv := fakeVision(t, http.StatusOK, `{"responses":[{"textAnnotations":[{"description":"字"}]}]}`, &got)
		c := NewVisionClient(Options{Endpoint: srv.URL, Logger: quiet()})

		t.Setenv("VISION_API_KEY", "late-key")
		if _, err := c.Recognize(context.Background(), []byte("img")); err != nil {
			t.Fatalf("Recognize failed: %v", err)
		}
		if got.key != "late-key" {
			t.Errorf("expected key read after construction, got %q", got.key)
		}
	})

	t.Run("invalid service account", func(t *testing.T) {
		t.Setenv("GOOGLE_CREDENTIALS", "{not json")
		c := NewVisionClient(Options{Endpoint: "http://127.0.0.1:1", Logger: quiet()})
		_, err := c.Recognize(context.Background(), []byte("img"))
		if err == nil || errors.Is(err, ErrNoCredentials) {
			t.Errorf("expected credential parse error, got %v", err)
		}
	})
}
