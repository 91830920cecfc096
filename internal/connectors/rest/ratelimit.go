package rest

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quota headers understood by the limiter.
const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// quotaFloor is the remaining-request count below which requests wait for
// the upstream's reset time.
const quotaFloor = 5

// RateLimiter paces requests with a token bucket and pauses when the
// upstream reports its quota is nearly spent.
type RateLimiter struct {
	bucket *rate.Limiter
	now    func() time.Time

	mu    sync.Mutex
	quota quota
}

// quota is the last state the upstream reported. remaining is -1 until a
// response carries the header.
type quota struct {
	limit     int
	remaining int
	resetAt   time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests.
// Zero or negative means unthrottled.
func NewRateLimiter(perSecond float64) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(limit, 1),
		now:    time.Now,
		quota:  quota{remaining: -1},
	}
}

// Wait blocks until a token is available and the reported quota allows
// another request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	q := r.quota
	r.mu.Unlock()

	if q.remaining < 0 || q.remaining >= quotaFloor {
		return nil
	}
	pause := q.resetAt.Sub(r.now())
	if pause <= 0 {
		return nil
	}
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UpdateFromResponse records the quota headers of a response.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}
	h := resp.Header

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := headerInt(h, HeaderRateRemaining); ok {
		r.quota.remaining = int(v)
	}
	if v, ok := headerInt(h, HeaderRateLimit); ok {
		r.quota.limit = int(v)
	}
	if v, ok := headerInt(h, HeaderRateReset); ok {
		r.quota.resetAt = time.Unix(v, 0)
	}
}

// CheckRateLimit returns a RateLimitError for 429 responses and for 503
// responses that carry Retry-After; nil otherwise.
func (r *RateLimiter) CheckRateLimit(resp *http.Response) error {
	if resp == nil {
		return nil
	}
	r.UpdateFromResponse(resp)

	retryAfter, hinted := r.retryAfter(resp.Header)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
	case resp.StatusCode == http.StatusServiceUnavailable && hinted:
	default:
		return nil
	}

	r.mu.Lock()
	q := r.quota
	r.mu.Unlock()

	rlErr := &RateLimitError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Remaining:  q.remaining,
		Limit:      q.limit,
	}
	if !hinted && !q.resetAt.IsZero() {
		rlErr.RetryAfter = max(q.resetAt.Sub(r.now()), 0)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		rlErr.URL = resp.Request.URL.String()
	}
	return rlErr
}

// retryAfter parses Retry-After as delay-seconds or an HTTP date.
func (r *RateLimiter) retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get(HeaderRetryAfter)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(r.now()), 0), true
	}
	return 0, false
}

// Remaining returns the last reported remaining requests, -1 if unknown.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quota.remaining
}

func headerInt(h http.Header, key string) (int64, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}
