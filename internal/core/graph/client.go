package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/engine"
	"github.com/pagegate/pagegate/internal/metrics"
)

const (
	DefaultBaseURL   = "https://graph.facebook.com/v20.0"
	DefaultUploadURL = "https://rupload.facebook.com/video-upload/v13.0"

	// maxAttempts is the original call plus one short-wait retry after a 429.
	maxAttempts = 2
	// maxShortRetry is the longest Retry-After hint still retried in-line.
	maxShortRetry = 5 * time.Second
	// minRateLimitCooldown is the floor applied to the cooldown after any 429.
	minRateLimitCooldown = 120 * time.Second
	// defaultRetryAfter is assumed when a 429 carries no usable hint.
	defaultRetryAfter = 300 * time.Second
)

// Timeouts bound each request class.
type Timeouts struct {
	Get       time.Duration `mapstructure:"get"`
	Post      time.Duration `mapstructure:"post"`
	Multipart time.Duration `mapstructure:"multipart"`
	Transfer  time.Duration `mapstructure:"transfer"`
}

// DefaultTimeouts scale with the payload size class.
var DefaultTimeouts = Timeouts{
	Get:       60 * time.Second,
	Post:      120 * time.Second,
	Multipart: 300 * time.Second,
	Transfer:  600 * time.Second,
}

// Client is the request executor in front of the upstream graph API. Every call goes
// through the duplicate guard (when fingerprinted), the cooldown, the governor and the
// usage tracker.
type Client struct {
	BaseURL   string
	UploadURL string
	Client    *http.Client
	Tracker   *engine.Tracker
	Governor  *engine.Governor
	Guard     *engine.Guard
	Timeouts  Timeouts
	Sleep     engine.SleepFunc
}

// New wires a client over a shared state.
func New(state *engine.State, throttle core.ThrottleConfig, guardWindow time.Duration) *Client {
	return &Client{
		Tracker:  engine.NewTracker(state),
		Governor: engine.NewGovernor(state, throttle),
		Guard:    engine.NewGuard(state, guardWindow),
	}
}

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values, credential, contextKey string) (*core.Response, error) {
	return c.Do(ctx, &Request{
		Method:     http.MethodGet,
		Path:       path,
		Params:     params,
		Credential: credential,
		ContextKey: contextKey,
	})
}

// Post issues a form-encoded POST.
func (c *Client) Post(ctx context.Context, path string, form url.Values, credential, contextKey string) (*core.Response, error) {
	return c.Do(ctx, &Request{
		Method:     http.MethodPost,
		Path:       path,
		Params:     form,
		Credential: credential,
		ContextKey: contextKey,
	})
}

// PostMultipart issues a multipart POST with files and form fields.
func (c *Client) PostMultipart(ctx context.Context, path string, files []File, form url.Values, credential, contextKey string) (*core.Response, error) {
	return c.Do(ctx, &Request{
		Method:     http.MethodPost,
		Path:       path,
		Params:     form,
		Files:      files,
		Credential: credential,
		ContextKey: contextKey,
	})
}

// IsDuplicate exposes the duplicate guard to collaborators.
func (c *Client) IsDuplicate(kind, resourceKey, content string) bool {
	if c == nil || c.Guard == nil {
		return false
	}
	return c.Guard.IsDuplicate(kind, resourceKey, content)
}

// CurrentUsageSnapshot returns the last usage telemetry and remaining cooldown.
func (c *Client) CurrentUsageSnapshot() core.UsageSnapshot {
	if c == nil {
		return core.UsageSnapshot{}
	}
	return c.Tracker.Snapshot()
}

// Do executes req. Failures are always returned as *core.Error.
func (c *Client) Do(ctx context.Context, req *Request) (*core.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, core.NewInvalidInputError("request is required")
	}

	if fp := req.Fingerprint; fp != nil && c.Guard != nil {
		if c.Guard.IsDuplicate(fp.Kind, fp.ResourceKey, fp.Content) {
			metrics.RecordDuplicate(fp.Kind)
			return nil, core.NewDuplicateContentError(fp.Kind)
		}
	}

	if remaining := c.Tracker.RemainingCooldown(); remaining > 0 {
		metrics.RecordRateLimited(metrics.RateLimitSourceCooldown)
		return nil, core.NewRateLimitError(remaining)
	}

	class := req.class()
	// Bounded by the attempt check on the 429 path: at most maxAttempts exchanges.
	for attempt := 0; ; attempt++ {
		wait, err := c.Governor.AwaitSlot(ctx, req.ContextKey)
		metrics.RecordGovernorWait(string(class), wait)
		if err != nil {
			return nil, core.NewTransportError(err)
		}

		status, header, body, err := c.exchange(ctx, req, class)
		if err != nil {
			metrics.RecordUpstreamCall(string(class), 0)
			return nil, core.NewTransportError(err)
		}
		metrics.RecordUpstreamCall(string(class), status)
		c.Tracker.RecordResponse(header)

		if status == http.StatusTooManyRequests {
			hint := retryAfter(header)
			c.Tracker.ExtendCooldown(maxDuration(hint, minRateLimitCooldown))
			metrics.SetCooldownRemaining(c.Tracker.RemainingCooldown())
			if attempt+1 < maxAttempts && hint <= maxShortRetry {
				pause := hint
				if pause <= 0 {
					pause = time.Second
				}
				if err := c.sleep(ctx, pause); err != nil {
					return nil, core.NewTransportError(err)
				}
				continue
			}
			metrics.RecordRateLimited(metrics.RateLimitSourceUpstream)
			rateErr := core.NewRateLimitError(hint)
			rateErr.Body = decodeBody(body)
			return nil, rateErr
		}

		if status >= http.StatusBadRequest {
			return nil, core.NewUpstreamError(status, decodeErrorBody(body))
		}

		return &core.Response{StatusCode: http.StatusOK, Body: decodeBody(body)}, nil
	}
}

func (c *Client) exchange(ctx context.Context, req *Request, class requestClass) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout(class))
	defer cancel()

	httpReq, err := req.build(ctx, c.baseURL())
	if err != nil {
		return 0, nil, nil, err
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) timeout(class requestClass) time.Duration {
	t := DefaultTimeouts
	if c != nil {
		t = mergeTimeouts(c.Timeouts)
	}
	switch class {
	case classMultipart:
		return t.Multipart
	case classPost:
		return t.Post
	case classTransfer:
		return t.Transfer
	default:
		return t.Get
	}
}

func (c *Client) baseURL() string {
	if c != nil && strings.TrimSpace(c.BaseURL) != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) uploadURL() string {
	if c != nil && strings.TrimSpace(c.UploadURL) != "" {
		return strings.TrimRight(c.UploadURL, "/")
	}
	return DefaultUploadURL
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c != nil && c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return engine.Sleep(ctx, d)
}

func mergeTimeouts(t Timeouts) Timeouts {
	if t.Get <= 0 {
		t.Get = DefaultTimeouts.Get
	}
	if t.Post <= 0 {
		t.Post = DefaultTimeouts.Post
	}
	if t.Multipart <= 0 {
		t.Multipart = DefaultTimeouts.Multipart
	}
	if t.Transfer <= 0 {
		t.Transfer = DefaultTimeouts.Transfer
	}
	return t
}

// decodeBody parses a JSON object body. Anything else is kept as raw text.
func decodeBody(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil || out == nil {
		return map[string]any{"raw": string(body)}
	}
	return out
}

// decodeErrorBody keeps the upstream error verbatim, wrapping unparseable text.
func decodeErrorBody(body []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(body), &out); err != nil || out == nil {
		return map[string]any{"error": string(body)}
	}
	return out
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
