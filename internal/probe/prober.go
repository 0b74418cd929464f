// Package probe converts a check request into a probe outcome: one HTTP GET
// with bounded retries, failure classification and DNS/TLS enrichment.
package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/upwatch/upwatch/internal/domain"
)

type Config struct {
	// Timeout bounds a single attempt, not the whole retry sequence.
	Timeout time.Duration
	// Retries is how many additional attempts follow a retryable failure.
	Retries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

type Prober struct {
	client  *http.Client
	timeout time.Duration
	retries int
	delay   time.Duration
}

func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Prober{
		// Per-attempt deadlines come from the context; the client itself
		// carries no timeout so a retry never inherits a spent budget.
		client:  &http.Client{},
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		delay:   cfg.RetryDelay,
	}
}

// Outcome is everything a single probe learned about the target.
type Outcome struct {
	Status          domain.Status
	HTTPStatusCode  *int
	ErrorKind       *domain.ErrorKind
	ErrorMessage    string
	ResponseHeaders map[string]string
	DNSResolutionMs *int64
	TLS             *domain.TLSInfo
	// ResponseTimeMs is wall clock across the whole attempt sequence,
	// failed attempts and retry delays included.
	ResponseTimeMs int64
	Attempts       int
}

// Probe issues an HTTP GET against the URL, retrying retryable transport
// failures up to the configured bound with a fixed delay. Probe never
// returns an error: every failure is absorbed into the outcome.
func (p *Prober) Probe(ctx context.Context, rawURL string) Outcome {
	start := time.Now()

	target, err := normalizeURL(rawURL)
	if err != nil {
		kind := domain.ErrKindUnknown
		return Outcome{
			Status:         domain.StatusDown,
			ErrorKind:      &kind,
			ErrorMessage:   "invalid url: " + err.Error(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
			Attempts:       1,
		}
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), uint64(p.retries))

	var out Outcome
	for {
		out.Attempts++
		done := p.attempt(ctx, target, &out)
		if done {
			break
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			out.ResponseTimeMs = time.Since(start).Milliseconds()
			return out
		case <-time.After(next):
		}
	}

	out.ResponseTimeMs = time.Since(start).Milliseconds()
	return out
}

// attempt performs one GET and fills the outcome with what it observed.
// It reports true when the outcome is terminal (UP, an HTTP response, or a
// non-retryable failure class).
func (p *Prober) attempt(ctx context.Context, target string, out *Outcome) bool {
	// Drop response-derived fields from a previous attempt so a retried
	// 5xx cannot leak its status or headers into a transport failure.
	out.HTTPStatusCode = nil
	out.ResponseHeaders = nil
	out.TLS = nil

	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var dnsStart time.Time
	var dnsMs *int64
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			ms := time.Since(dnsStart).Milliseconds()
			dnsMs = &ms
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(attemptCtx, trace), http.MethodGet, target, nil)
	if err != nil {
		kind := domain.ErrKindUnknown
		out.Status = domain.StatusDown
		out.ErrorKind = &kind
		out.ErrorMessage = err.Error()
		return true
	}

	resp, err := p.client.Do(req)
	if dnsMs != nil {
		out.DNSResolutionMs = dnsMs
	}
	if err != nil {
		kind := Classify(err)
		out.Status = domain.StatusDown
		out.ErrorKind = &kind
		out.ErrorMessage = err.Error()
		return !retryable(kind)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused across attempts.
	_, _ = io.Copy(io.Discard, resp.Body)

	code := resp.StatusCode
	out.HTTPStatusCode = &code
	out.ResponseHeaders = flattenHeaders(resp.Header)
	out.TLS = tlsInfo(resp)

	if code >= 200 && code < 400 {
		out.Status = domain.StatusUp
		out.ErrorKind = nil
		out.ErrorMessage = ""
		return true
	}

	kind := domain.ErrKindHTTP
	out.Status = domain.StatusDown
	out.ErrorKind = &kind
	out.ErrorMessage = resp.Status
	// Server errors are worth another try; client errors never change.
	return code < 500
}

func tlsInfo(resp *http.Response) *domain.TLSInfo {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil
	}
	leaf := resp.TLS.PeerCertificates[0]
	expiry := leaf.NotAfter
	return &domain.TLSInfo{
		Valid:  time.Now().Before(leaf.NotAfter),
		Expiry: &expiry,
		Issuer: leaf.Issuer.CommonName,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	headers := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return headers
}

func normalizeURL(target string) (string, error) {
	if target == "" {
		return "", errors.New("empty target")
	}

	if !strings.Contains(target, "://") {
		target = "https://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}

	return parsed.String(), nil
}
