package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/brianhealey/inkdash/internal/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestTimeout bounds every upstream call.
const RequestTimeout = 10 * time.Second

// Option customises an HTTP-backed source.
type Option func(*clientOptions)

type clientOptions struct {
	client  *http.Client
	baseURL string
	policy  retry.Policy
	limit   rate.Limit
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.client = c }
}

// WithBaseURL points the source at another endpoint root, e.g. an
// httptest server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithRetryPolicy replaces retry.Default().
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *clientOptions) { o.policy = p }
}

// WithRateLimit paces outbound requests to at most r per second.
func WithRateLimit(r rate.Limit) Option {
	return func(o *clientOptions) { o.limit = r }
}

func buildOptions(defaultBase string, opts []Option) clientOptions {
	o := clientOptions{
		baseURL: defaultBase,
		policy:  retry.Default(),
		limit:   rate.Every(time.Second),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: RequestTimeout}
	}
	return o
}

// upstream is a paced, retried JSON GET client for one API.
type upstream struct {
	source  string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	// limitStatus is the status code the API uses for quota exhaustion.
	limitStatus int
}

func newUpstream(source string, limitStatus int, o clientOptions) *upstream {
	return &upstream{
		source:      source,
		client:      o.client,
		limiter:     rate.NewLimiter(o.limit, 1),
		policy:      o.policy.WithRetryable(Transient),
		limitStatus: limitStatus,
	}
}

// getJSON fetches rawURL with params and headers and decodes the body into v.
func (u *upstream) getJSON(ctx context.Context, rawURL string, params url.Values, header http.Header, v any) error {
	target := rawURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return u.policy.Do(ctx, u.source, func(ctx context.Context) error {
		if err := u.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		for k, vals := range header {
			for _, val := range vals {
				req.Header.Add(k, val)
			}
		}
		req.Header.Set("Accept", "application/json")

		slog.Debug("sources: GET", "source", u.source, "url", rawURL)
		resp, err := u.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == u.limitStatus {
			return &RateLimitError{Source: u.source, Code: resp.StatusCode, Message: quotaMessage(body)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{URL: rawURL, Code: resp.StatusCode, Body: truncate(string(body), 200)}
		}
		if err := json.Unmarshal(body, v); err != nil {
			return &DecodeError{URL: rawURL, Err: err}
		}
		return nil
	})
}

// Transient reports whether err is worth retrying: network failures, 5xx
// responses and undecodable bodies. Quota rejections are final.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// quotaMessage extracts the "Message" field AccuWeather and Airly put in
// their error bodies.
func quotaMessage(body []byte) string {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err != nil || m.Message == "" {
		return truncate(string(body), 200)
	}
	return m.Message
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func wrapFetch(source string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", source, err)
}
