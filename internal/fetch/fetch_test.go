package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestHTTPFetcher tests single GET requests.
func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	t.Run("returns structured response", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/pdf; name=report.pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		}))
		defer server.Close()

		f := NewHTTPFetcher(server.Client())
		resp, err := f.Fetch(context.Background(), server.URL+"/report.pdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer resp.Body.Close()

		if !resp.OK() || resp.Err() != nil {
			t.Errorf("expected OK response, got %d", resp.StatusCode)
		}
		if resp.MediaType() != "application/pdf" {
			t.Errorf("expected media type application/pdf, got %q", resp.MediaType())
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if string(body) != "%PDF-1.4" {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("non-success status is a response, not an error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		f := NewHTTPFetcher(server.Client())
		resp, err := f.Fetch(context.Background(), server.URL+"/missing.html")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer resp.Body.Close()

		if resp.OK() {
			t.Error("expected non-OK response")
		}
		var statusErr *StatusError
		if !errors.As(resp.Err(), &statusErr) {
			t.Fatalf("expected *StatusError, got %v", resp.Err())
		}
		if statusErr.StatusCode != http.StatusNotFound || statusErr.Reason != "Not Found" {
			t.Errorf("unexpected status error: %+v", statusErr)
		}
	})

	t.Run("applies session and user agent", func(t *testing.T) {
		t.Parallel()

		var gotCookie, gotAuth, gotUA string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCookie = r.Header.Get("Cookie")
			gotAuth = r.Header.Get("Authorization")
			gotUA = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		f := NewHTTPFetcher(server.Client(),
			WithUserAgent("TestBot/1.0"),
			WithSession(Session{
				Cookie:  "sid=abc",
				Headers: map[string]string{"Authorization": "Bearer token"},
			}),
		)
		resp, err := f.Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()

		if gotCookie != "sid=abc" {
			t.Errorf("expected cookie sid=abc, got %q", gotCookie)
		}
		if gotAuth != "Bearer token" {
			t.Errorf("expected authorization header, got %q", gotAuth)
		}
		if gotUA != "TestBot/1.0" {
			t.Errorf("expected user agent TestBot/1.0, got %q", gotUA)
		}
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()

		f := NewHTTPFetcher(&http.Client{Timeout: time.Second})
		if _, err := f.Fetch(context.Background(), addr); err == nil {
			t.Error("expected error for closed server")
		}
	})
}

// TestReasonPhrase tests extraction of the status reason.
func TestReasonPhrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		code   int
		want   string
	}{
		{"404 Not Found", 404, "Not Found"},
		{"503 Temporarily Closed", 503, "Temporarily Closed"},
		{"418", 418, "I'm a teapot"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			got := reasonPhrase(&http.Response{Status: tt.status, StatusCode: tt.code})
			if got != tt.want {
				t.Errorf("reasonPhrase(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

// TestParseHeaders tests header flag parsing.
func TestParseHeaders(t *testing.T) {
	t.Parallel()

	t.Run("parses and canonicalizes", func(t *testing.T) {
		t.Parallel()

		got, err := ParseHeaders([]string{"x-api-key: 123", "Accept-Language:pl"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["X-Api-Key"] != "123" || got["Accept-Language"] != "pl" {
			t.Errorf("unexpected headers: %v", got)
		}
	})

	t.Run("rejects missing colon", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseHeaders([]string{"broken"}); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("expected ErrInvalidHeader, got %v", err)
		}
	})
}

// TestNewClient tests client construction.
func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("direct client has jar and timeout", func(t *testing.T) {
		t.Parallel()

		c, err := NewClient(5 * time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Jar == nil {
			t.Error("expected cookie jar")
		}
		if c.Timeout != 5*time.Second {
			t.Errorf("expected timeout 5s, got %v", c.Timeout)
		}
	})

	t.Run("proxy client", func(t *testing.T) {
		t.Parallel()

		if _, err := NewClient(time.Second, WithProxy("127.0.0.1:9050")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("invalid proxy address", func(t *testing.T) {
		t.Parallel()

		for _, addr := range []string{"localhost", ":9050", "127.0.0.1:0", "127.0.0.1:99999", "host:port"} {
			if _, err := NewClient(time.Second, WithProxy(addr)); !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("NewClient(WithProxy(%q)) error = %v, want ErrInvalidProxyAddress", addr, err)
			}
		}
	})
}

// TestHostLimiter tests politeness delays.
func TestHostLimiter(t *testing.T) {
	t.Parallel()

	t.Run("nil limiter never blocks", func(t *testing.T) {
		t.Parallel()

		if l := NewHostLimiter(0, 0); l != nil {
			t.Fatal("expected nil limiter when no limits are set")
		}
		var l *HostLimiter
		if err := l.Wait(context.Background(), "example.edu"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("delay spaces requests to the same host", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(50*time.Millisecond, 0)
		ctx := context.Background()

		start := time.Now()
		for range 3 {
			if err := l.Wait(ctx, "example.edu"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("expected at least 100ms for 3 requests, got %v", elapsed)
		}
	})

	t.Run("hosts are independent", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(time.Second, 0)
		ctx := context.Background()

		start := time.Now()
		_ = l.Wait(ctx, "a.example")
		_ = l.Wait(ctx, "b.example")
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("expected different hosts not to wait, took %v", elapsed)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(time.Hour, 0)
		_ = l.Wait(context.Background(), "example.edu")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := l.Wait(ctx, "example.edu"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}
