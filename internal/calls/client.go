package calls

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

	"github.com/cenkalti/backoff/v4"

	"voice-chain-go/internal/logger"
)

var (
	// ErrMissingCredential is returned before any request when no API key is set.
	ErrMissingCredential = errors.New("RETELL_API_KEY not set")
	// ErrTimeout marks a provider request that exceeded its deadline.
	ErrTimeout = errors.New("provider request timed out")
)

// APIError is a non-success response from the provider.
type APIError struct {
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API %s -> %d: %s", e.Path, e.Status, e.Body)
}

// ClientConfig configures the provider REST client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a 5xx/429 or transport
	// failure. Zero means a single attempt.
	MaxRetries int
}

// Client talks to the voice provider's REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.Component("calls.client"),
	}, nil
}

type listRequest struct {
	SortOrder      string         `json:"sort_order"`
	Limit          int            `json:"limit"`
	FilterCriteria map[string]any `json:"filter_criteria"`
}

type listedCall struct {
	CallID string `json:"call_id"`
}

// ListCalls returns up to limit call ids, newest first.
func (c *Client) ListCalls(ctx context.Context, limit int) ([]string, error) {
	body := listRequest{SortOrder: "descending", Limit: limit, FilterCriteria: map[string]any{}}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/v2/list-calls", body, &raw); err != nil {
		return nil, err
	}
	listed, err := decodeList(raw)
	if err != nil {
		return nil, fmt.Errorf("list-calls: %w", err)
	}
	ids := make([]string, 0, len(listed))
	for _, l := range listed {
		if l.CallID != "" {
			ids = append(ids, l.CallID)
		}
	}
	return ids, nil
}

// decodeList accepts a bare array or an object wrapping it in "calls" or "data".
func decodeList(raw json.RawMessage) ([]listedCall, error) {
	var arr []listedCall
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	var wrapped struct {
		Calls []listedCall `json:"calls"`
		Data  []listedCall `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("json decode error: %w", err)
	}
	if wrapped.Calls != nil {
		return wrapped.Calls, nil
	}
	return wrapped.Data, nil
}

// GetCall returns the full call detail exactly as the provider sent it.
func (c *Client) GetCall(ctx context.Context, callID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v2/get-call/"+url.PathEscape(callID), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, target *json.RawMessage) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		payload = b
	}

	var bo backoff.BackOff = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries))
	bo = backoff.WithContext(bo, ctx)

	op := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request %s: %w", path, err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		c.log.WithRequest(req).Debug("provider request")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var ue *url.Error
			if errors.As(err, &ue) && ue.Timeout() {
				return fmt.Errorf("%s: %w", path, ErrTimeout)
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Path: path, Status: resp.StatusCode, Body: truncate(string(respBody), 300)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if len(bytes.TrimSpace(respBody)) == 0 {
			return backoff.Permanent(fmt.Errorf("%s: empty body", path))
		}
		if !json.Valid(respBody) {
			return backoff.Permanent(fmt.Errorf("%s: json decode error: body=%s", path, truncate(string(respBody), 200)))
		}
		*target = json.RawMessage(bytes.TrimSpace(respBody))
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait.String()).Warn("provider request failed, retrying")
	}
	return backoff.RetryNotify(op, bo, notify)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
