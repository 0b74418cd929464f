package probe_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/probe"
)

func TestProbe_Success(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Powered-By", "test")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 3, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusUp, out.Status)
	require.NotNil(t, out.HTTPStatusCode)
	assert.Equal(t, http.StatusOK, *out.HTTPStatusCode)
	assert.Nil(t, out.ErrorKind)
	assert.Empty(t, out.ErrorMessage)
	assert.Equal(t, "test", out.ResponseHeaders["X-Powered-By"])
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.GreaterOrEqual(t, out.ResponseTimeMs, int64(0))
}

func TestProbe_RedirectStatusIsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 2 * time.Second})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusUp, out.Status)
	require.NotNil(t, out.HTTPStatusCode)
	assert.Equal(t, http.StatusNotModified, *out.HTTPStatusCode)
}

func TestProbe_ClientErrorIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 3, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.HTTPStatusCode)
	assert.Equal(t, http.StatusNotFound, *out.HTTPStatusCode)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindHTTP, *out.ErrorKind)
	assert.Equal(t, 1, out.Attempts, "a 4xx response must not be retried")
	assert.Equal(t, int32(1), hits.Load())
}

func TestProbe_ServerErrorRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 2, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.HTTPStatusCode)
	assert.Equal(t, http.StatusInternalServerError, *out.HTTPStatusCode)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindHTTP, *out.ErrorKind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	// Wall clock covers the retry delays between the three attempts.
	assert.GreaterOrEqual(t, out.ResponseTimeMs, int64(20))
}

func TestProbe_RetriedServerErrorDoesNotLeakIntoTransportFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("X-Powered-By", "test")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 200 * time.Millisecond, Retries: 1, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindTimeout, *out.ErrorKind)
	assert.Equal(t, 2, out.Attempts)
	assert.Nil(t, out.HTTPStatusCode, "the 500 from the first attempt must not survive the retry")
	assert.Nil(t, out.ResponseHeaders)
	assert.Nil(t, out.TLS)
}

func TestProbe_ConnectionRefusedRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 1, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), "http://"+addr)

	assert.Equal(t, domain.StatusDown, out.Status)
	assert.Nil(t, out.HTTPStatusCode)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindConnectionRefused, *out.ErrorKind)
	assert.NotEmpty(t, out.ErrorMessage)
	assert.Equal(t, 2, out.Attempts)
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 50 * time.Millisecond, Retries: 0, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindTimeout, *out.ErrorKind)
	assert.Equal(t, 1, out.Attempts)
}

func TestProbe_DNSFailureIsTerminal(t *testing.T) {
	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 3, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), "https://host.invalid")

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindDNS, *out.ErrorKind)
	assert.Equal(t, 1, out.Attempts, "resolver failures must not be retried")
}

func TestProbe_UntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 3, RetryDelay: 10 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL)

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindSSL, *out.ErrorKind)
	assert.Equal(t, 1, out.Attempts, "certificate failures must not be retried")
}

func TestProbe_EmptyURL(t *testing.T) {
	p := probe.New(probe.Config{})
	out := p.Probe(context.Background(), "")

	assert.Equal(t, domain.StatusDown, out.Status)
	require.NotNil(t, out.ErrorKind)
	assert.Equal(t, domain.ErrKindUnknown, *out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "invalid url")
}

func TestProbe_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := probe.New(probe.Config{Timeout: 2 * time.Second, Retries: 5, RetryDelay: time.Minute})
	done := make(chan probe.Outcome, 1)
	go func() { done <- p.Probe(ctx, srv.URL) }()

	select {
	case out := <-done:
		assert.Equal(t, domain.StatusDown, out.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("probe did not honor context cancellation")
	}
}
