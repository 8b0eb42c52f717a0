// Package lms is the client of the external Loyalty Management System.
//
// Every mutating call writes an audit row before the request and completes it
// afterwards. A non-zero "status" inside a 200 response is a business outcome,
// not an error; transport failures and HTTP errors are returned after being
// persisted to the API error log. A 401 drops the cached access token.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/apperr"
	"aldar.app/internal/errlog"
	"aldar.app/internal/obs"
)

// TokenSource hands out bearer tokens; cache.TokenCache implements it.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate(ctx context.Context) error
}

// ConfigSource provides the private api configuration group (tax percentages).
type ConfigSource interface {
	Get(ctx context.Context, group string) (apiconfig.Values, error)
}

// Endpoints are the LMS URLs. Profile contains one %s for the member id.
type Endpoints struct {
	Enrollment   string
	UserUpdate   string
	Profile      string
	Earn         string
	Burn         string
	Refund       string
	Transactions string
	Points       string
	Configs      string
}

// HTTPError is a non-2xx answer from the LMS.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("lms %s: http %d", e.Op, e.StatusCode)
}

// IsUnauthorized reports whether err is an LMS 401.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized
}

type Client struct {
	http    *http.Client
	tokens  TokenSource
	urls    Endpoints
	audit   AuditStore
	errLog  errlog.Recorder
	configs ConfigSource
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithErrorLog(r errlog.Recorder) Option { return func(c *Client) { c.errLog = r } }

func WithConfigs(s ConfigSource) Option { return func(c *Client) { c.configs = s } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func New(urls Endpoints, tokens TokenSource, audit AuditStore, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		urls:   urls,
		audit:  audit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTokens returns a copy of c authenticating with a different token source.
// Batch directories each log in with their own LMS user.
func (c *Client) WithTokens(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// Response is a decoded LMS answer.
type Response struct {
	StatusCode int
	Body       map[string]any // nil when the body was not a JSON object
	Raw        []byte
}

// Status returns the business status field; ok is false when it is absent.
func (r *Response) Status() (int, bool) {
	if r == nil || r.Body == nil {
		return 0, false
	}
	f, ok := r.Body["status"].(float64)
	return int(f), ok
}

func (c *Client) do(ctx context.Context, op, method, url, channel string, body any) (*Response, error) {
	if url == "" {
		return nil, apperr.Config("LMS endpoint for " + op + " is not configured")
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, apperr.Internal(fmt.Errorf("encode %s body: %w", op, err))
		}
	}
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, apperr.Downstream(http.StatusBadGateway, "Unable to authenticate with LMS", err)
	}
	if channel == "" {
		channel = SourceApp
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("channel-id", channel)

	start := c.now()
	res, err := c.http.Do(req)
	if err != nil {
		obs.ObserveLMSCall(op, "transport_error", c.now().Sub(start))
		c.logFailure(ctx, op, method, url, channel, payload, nil, 0, err)
		return nil, apperr.Downstream(http.StatusBadGateway, "LMS is unavailable", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		obs.ObserveLMSCall(op, "transport_error", c.now().Sub(start))
		return nil, apperr.Downstream(http.StatusBadGateway, "LMS response could not be read", err)
	}

	out := &Response{StatusCode: res.StatusCode, Raw: raw}
	_ = json.Unmarshal(raw, &out.Body)

	if res.StatusCode >= 300 {
		obs.ObserveLMSCall(op, fmt.Sprintf("http_%d", res.StatusCode), c.now().Sub(start))
		if res.StatusCode == http.StatusUnauthorized {
			if ierr := c.tokens.Invalidate(ctx); ierr != nil {
				obs.Logger().Error().Err(ierr).Msg("invalidate LMS token")
			}
		}
		herr := &HTTPError{Op: op, StatusCode: res.StatusCode, Body: raw}
		c.logFailure(ctx, op, method, url, channel, payload, raw, res.StatusCode, herr)
		return out, herr
	}
	obs.ObserveLMSCall(op, "ok", c.now().Sub(start))
	return out, nil
}

func (c *Client) logFailure(ctx context.Context, op, method, url, channel string, reqBody, resBody []byte, code int, err error) {
	obs.Logger().Error().Err(err).Str("operation", op).Int("http_status", code).Msg("LMS call failed")
	errlog.Record(ctx, c.errLog, errlog.Entry{
		Company:        "LMS",
		Endpoint:       url,
		Method:         method,
		RequestBody:    string(reqBody),
		RequestHeaders: errlog.JSON(map[string]string{"Content-Type": "application/json", "channel-id": channel}),
		ResponseBody:   string(resBody),
		HTTPErrorCode:  code,
		ErrorMessage:   err.Error(),
	})
}

// logBusinessFailure records a 2xx answer whose status is not 0.
func (c *Client) logBusinessFailure(ctx context.Context, op, method, url string, reqBody any, res *Response) {
	obs.Logger().Warn().Str("operation", op).Msg("LMS returned a non-zero status")
	errlog.Record(ctx, c.errLog, errlog.Entry{
		Company:       "LMS",
		Endpoint:      url,
		Method:        method,
		RequestBody:   errlog.JSON(reqBody),
		ResponseBody:  string(res.Raw),
		HTTPErrorCode: res.StatusCode,
	})
}

func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	case []any:
		var sum float64
		for _, e := range x {
			sum += num(e)
		}
		return sum
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}
