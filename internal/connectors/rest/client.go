package rest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure Client implements the interfaces.
var (
	_ driven.PageClient     = (*Client)(nil)
	_ driven.DocumentSource = (*Client)(nil)
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept as the message.
	maxErrorBody = 512
)

// Client requests pages and documents from the upstream.
type Client struct {
	cfg         domain.UpstreamConfig
	http        *http.Client
	rateLimiter *RateLimiter
}

// NewClient creates a client for the configured upstream.
// The bearer token, if any, is read from the environment variable
// named by cfg.TokenEnv.
func NewClient(ctx context.Context, cfg domain.UpstreamConfig) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: base url: %w", domain.ErrInvalidInput, err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var hc *http.Client
	if cfg.TokenEnv != "" {
		token := strings.TrimSpace(os.Getenv(cfg.TokenEnv))
		if token == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyToken, cfg.TokenEnv)
		}
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = timeout

	return NewClientWithHTTPClient(cfg, hc), nil
}

// NewClientWithHTTPClient creates a client with a custom http.Client.
// Useful for tests against httptest servers.
func NewClientWithHTTPClient(cfg domain.UpstreamConfig, hc *http.Client) *Client {
	return &Client{
		cfg:         cfg,
		http:        hc,
		rateLimiter: NewRateLimiter(cfg.RateLimit),
	}
}

// PageURL returns the request URL for a zero-based page index.
func (c *Client) PageURL(req driven.PageRequest) string {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return c.cfg.BaseURL
	}
	q := u.Query()
	for k, v := range c.cfg.Query {
		q.Set(k, v)
	}
	q.Set(c.cfg.PageParam, strconv.Itoa(req.Page+c.cfg.FirstPage))
	q.Set(c.cfg.SizeParam, strconv.Itoa(req.PageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage performs one page request without retrying.
func (c *Client) FetchPage(ctx context.Context, req driven.PageRequest) (*driven.PageResponse, error) {
	pageURL := c.PageURL(req)

	resp, body, err := c.get(ctx, pageURL, "application/json")
	if err != nil {
		return nil, err
	}

	out := &driven.PageResponse{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		LastPage:   -1,
	}
	if last, ok := LastPageNumber(resp.Header.Get("Link"), c.cfg.PageParam); ok {
		out.LastPage = last - c.cfg.FirstPage
	}

	if err := c.checkResponse(resp, body); err != nil {
		return out, err
	}
	return out, nil
}

// Fetch downloads a document.
func (c *Client) Fetch(ctx context.Context, docURL string) (*domain.RawDocument, error) {
	resp, body, err := c.get(ctx, docURL, "*/*")
	if err != nil {
		return nil, err
	}
	if err := c.checkResponse(resp, body); err != nil {
		return nil, err
	}

	mimeType := "application/octet-stream"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}

	return &domain.RawDocument{
		URI:      docURL,
		MIMEType: mimeType,
		Content:  body,
	}, nil
}

// get performs a rate-limited GET and reads the whole body.
func (c *Client) get(ctx context.Context, target, accept string) (*http.Response, []byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", target, err)
	}
	return resp, body, nil
}

// checkResponse converts non-2xx responses to typed errors.
func (c *Client) checkResponse(resp *http.Response, body []byte) error {
	if err := c.rateLimiter.CheckRateLimit(resp); err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		URL:        resp.Request.URL.String(),
	}
}
