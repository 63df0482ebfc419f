// Package fetch retrieves a JSON document over HTTP.
//
// A Client performs a single GET per call with no retries. Failures are
// classified with sentinel errors so callers can tell transport problems
// from bad payloads.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"jsonrel/internal/jsonvalue"
	"jsonrel/internal/metrics"
)

var (
	// ErrFetch covers transport failures and non-2xx responses.
	ErrFetch = errors.New("fetch: request failed")
	// ErrUnexpectedContentType is returned when the response is not JSON.
	ErrUnexpectedContentType = errors.New("fetch: unexpected content type")
	// ErrMalformedResponse is returned when a JSON response does not decode.
	ErrMalformedResponse = errors.New("fetch: malformed response")
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 32 << 20
	DefaultUserAgent = "jsonrel/1.0"
)

// Config holds client settings. Zero values select defaults.
type Config struct {
	Timeout            time.Duration `yaml:"timeout" env:"JSONREL_FETCH_TIMEOUT" env-default:"30s"`
	MaxBytes           int64         `yaml:"max_bytes" env:"JSONREL_FETCH_MAX_BYTES" env-default:"33554432"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"JSONREL_FETCH_INSECURE"`
	UserAgent          string        `yaml:"user_agent" env:"JSONREL_FETCH_USER_AGENT" env-default:"jsonrel/1.0"`
}

// Client fetches JSON documents.
type Client struct {
	http *http.Client
	cfg  Config
	job  string
	log  *zap.Logger
}

// New builds a Client. job labels HTTP metrics; log may be nil.
func New(cfg Config, job string, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: newHTTPClient(cfg), cfg: cfg, job: job, log: log}
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		IdleConnTimeout: 90 * time.Second,
		MaxIdleConns:    16,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

// WithJSONFormat appends format=json to rawURL unless a format parameter is
// already present.
func WithJSONFormat(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	q := u.Query()
	if q.Has("format") {
		return rawURL, nil
	}
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch GETs rawURL and decodes the body.
//
// Errors:
//   - ErrFetch for bad URLs, transport failures and non-2xx statuses.
//   - ErrUnexpectedContentType when Content-Type does not mention json.
//   - ErrMalformedResponse when the body is empty, too large or not JSON.
func (c *Client) Fetch(ctx context.Context, rawURL string) (jsonvalue.Value, error) {
	target, err := WithJSONFormat(rawURL)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	start := time.Now()
	status, size := 0, int64(-1)
	var reqDur time.Duration
	var ferr error
	defer func() {
		elapsed := time.Since(start)
		if reqDur == 0 {
			reqDur = elapsed
		}
		metrics.RecordHTTP(c.job, status, ferr, reqDur, elapsed, size)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		ferr = fmt.Errorf("%w: %v", ErrFetch, err)
		return jsonvalue.Value{}, ferr
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		ferr = fmt.Errorf("%w: %v", ErrFetch, err)
		return jsonvalue.Value{}, ferr
	}
	defer resp.Body.Close()
	reqDur = time.Since(start)
	status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes+1))
	size = int64(len(body))
	if err != nil {
		ferr = fmt.Errorf("%w: read body: %v", ErrFetch, err)
		return jsonvalue.Value{}, ferr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ferr = fmt.Errorf("%w: %s returned %s", ErrFetch, target, resp.Status)
		return jsonvalue.Value{}, ferr
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "json") {
		ferr = fmt.Errorf("%w: %q%s", ErrUnexpectedContentType, ct, describeHTML(ct, body))
		return jsonvalue.Value{}, ferr
	}
	if int64(len(body)) > c.cfg.MaxBytes {
		ferr = fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, c.cfg.MaxBytes)
		return jsonvalue.Value{}, ferr
	}

	doc, err := jsonvalue.Decode(body)
	if err != nil {
		ferr = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		return jsonvalue.Value{}, ferr
	}
	c.log.Debug("fetched document",
		zap.String("url", target),
		zap.Int("status", status),
		zap.Int64("bytes", size),
		zap.Duration("duration", time.Since(start)),
	)
	return doc, nil
}

// FetchOrNil is Fetch for callers that treat any failure as "no document".
// The failure is logged and ok is false.
func (c *Client) FetchOrNil(ctx context.Context, rawURL string) (doc jsonvalue.Value, ok bool) {
	doc, err := c.Fetch(ctx, rawURL)
	if err != nil {
		c.log.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return jsonvalue.Value{}, false
	}
	return doc, true
}

// describeHTML returns " (page title: ...)" for HTML bodies that carry a title.
func describeHTML(contentType string, body []byte) string {
	if !strings.Contains(strings.ToLower(contentType), "html") || len(body) == 0 {
		return ""
	}
	page, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	title := strings.Join(strings.Fields(page.Find("title").First().Text()), " ")
	if title == "" {
		return ""
	}
	return fmt.Sprintf(" (page title: %s)", title)
}
