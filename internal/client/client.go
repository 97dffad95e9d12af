// Package client talks to the sar REST backend on behalf of the dashboard.
// Responses use the {status, message, data} envelope; non-2xx answers become
// *APIError and transport failures become *NetworkError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NetworkError is a request that never produced an HTTP answer: connection
// failure, timeout or cancellation.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// TokenSource supplies the bearer token attached to requests that do not
// carry their own.
type TokenSource interface {
	Token() string
}

type Config struct {
	// BaseURL is the backend origin, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
	tokens     TokenSource
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		log:        logger.WithField("component", "client"),
	}, nil
}

// UseTokens sets the source of the default bearer token.
func (c *Client) UseTokens(ts TokenSource) {
	c.tokens = ts
}

type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/sar/schedules".
	Path  string
	Token string
	// Anonymous suppresses the default bearer token.
	Anonymous bool
	Params    url.Values
	Body      any
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Do sends req and decodes the envelope's data into out, which may be nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + req.Path
	if len(req.Params) > 0 {
		target += "?" + req.Params.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("client.Do encode %s %s: %w", method, req.Path, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("client.Do build %s %s: %w", method, req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	token := req.Token
	if token == "" && !req.Anonymous && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"method": method, "path": req.Path}).Debug("request failed")
		return &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: method, URL: target, Err: err}
	}
	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     req.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request done")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Message != "" {
			apiErr.Message = env.Message
			apiErr.Code = env.Code
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("client.Do decode %s %s: %w", method, req.Path, decodeErr)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client.Do decode data %s %s: %w", method, req.Path, err)
	}
	return nil
}

// joinPath builds "/base/seg1/seg2" with each segment escaped.
func joinPath(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
