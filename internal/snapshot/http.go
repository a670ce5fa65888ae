package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orderdesk/orderdesk-cli/internal/unread"
)

// DefaultTimeout bounds a snapshot request.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 8 << 20

// APIError is a non-2xx response from the snapshot endpoint.
type APIError struct {
	StatusCode int
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPSource reads a JSON list of conversation summaries from an HTTP endpoint.
// The body may be a bare array or an object with a "data" or "payload" array.
type HTTPSource struct {
	URL       string
	Token     string
	UserAgent string
	HTTP      *http.Client
}

// NewHTTPSource creates a source for endpoint authenticated with a bearer token.
func NewHTTPSource(endpoint, token string) (*HTTPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrInvalidSource
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidSource, endpoint)
	}
	return &HTTPSource{
		URL:       endpoint,
		Token:     token,
		UserAgent: "orderdesk-cli",
		HTTP:      &http.Client{Timeout: DefaultTimeout},
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]unread.ConversationSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	slog.Debug("snapshot fetched", "url", s.URL, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RequestID:  resp.Header.Get("X-Request-Id"),
		}
	}
	return decodeSummaries(body)
}

func decodeSummaries(body []byte) ([]unread.ConversationSummary, error) {
	var rows []unread.ConversationSummary
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("unexpected snapshot format (JSON decode failed): %w", err)
		}
		return rows, nil
	}
	var wrapped struct {
		Data    []unread.ConversationSummary `json:"data"`
		Payload []unread.ConversationSummary `json:"payload"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected snapshot format (JSON decode failed): %w", err)
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return wrapped.Payload, nil
}
