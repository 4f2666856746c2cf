package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"ollama-proxy-go/internal/client"
	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/model"
)

func newTestForwarder(t *testing.T, baseURL string) *Forwarder {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewOllamaClient(cfg, logger, nil)
	f, err := NewForwarder(c, cfg, logger)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	return f
}

func TestSanitizeRequestHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"application/json"},
		"Authorization":     {"Bearer secret"},
		"X-Custom-Header":   {"kept"},
		"Accept-Encoding":   {"gzip"},
		"Host":              {"proxy.local"},
		"Transfer-Encoding": {"chunked"},
		"hOsT":              {"sneaky.local"},
		"TRANSFER-ENCODING": {"chunked"},
	}

	dst := sanitizeRequestHeaders(src)

	for _, key := range []string{"Content-Type", "Authorization", "X-Custom-Header", "Accept-Encoding"} {
		if got := len(dst.Values(key)); got != 1 {
			t.Errorf("header %q: got %d values, want 1", key, got)
		}
	}
	for key := range dst {
		switch key {
		case "Host", "hOsT", "Transfer-Encoding", "TRANSFER-ENCODING":
			t.Errorf("header %q should have been stripped", key)
		}
	}

	// Exactly the four non-stripped keys survive, values untouched.
	if len(dst) != 4 {
		t.Errorf("got %d headers, want 4: %v", len(dst), dst)
	}
	if got := dst.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer secret")
	}
}

func TestForward_PathAndQueryPassthrough(t *testing.T) {
	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.Forward(&model.ProxyRequest{
		Ctx:      context.Background(),
		Method:   http.MethodGet,
		Path:     "/api/tags",
		RawQuery: "verbose=1&x=a%20b",
		Header:   http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if gotPath != "/api/tags" {
		t.Errorf("upstream path = %q, want %q", gotPath, "/api/tags")
	}
	if gotQuery != "verbose=1&x=a%20b" {
		t.Errorf("upstream query = %q, want %q", gotQuery, "verbose=1&x=a%20b")
	}
}

func TestForward_HeaderPassthroughMinusStripped(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	in := http.Header{
		"Authorization":     {"Bearer tok"},
		"X-Api-Key":         {"abc"},
		"Content-Type":      {"application/json"},
		"Host":              {"stale.example"},
		"Transfer-Encoding": {"chunked"},
	}

	resp, err := f.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/v1/messages",
		Header: in,
		Body:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	for _, key := range []string{"Authorization", "X-Api-Key", "Content-Type"} {
		if got.Get(key) != in.Get(key) {
			t.Errorf("header %q = %q upstream, want %q", key, got.Get(key), in.Get(key))
		}
	}
	if got.Get("Transfer-Encoding") != "" {
		t.Error("Transfer-Encoding must not be forwarded")
	}
	// net/http fills Host from the target URL, never from the stripped header.
	if h := got.Get("Host"); h == "stale.example" {
		t.Errorf("stale Host header forwarded: %q", h)
	}
}

func TestForward_EmptyBody(t *testing.T) {
	var gotLen int64 = -1
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, upstream.URL)

	resp, err := f.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/api/generate",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if gotLen != 0 {
		t.Errorf("upstream ContentLength = %d, want 0", gotLen)
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	// Reserve a port and close it so the connection is refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f := newTestForwarder(t, addr)

	_, err := f.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/tags",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream, got nil")
	}
}

func TestNewForwarder_TrimsTrailingSlash(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         "http://ollama:11434/",
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewOllamaClient(cfg, logger, nil)

	f, err := NewForwarder(c, cfg, logger)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}
	if f.baseURL != "http://ollama:11434" {
		t.Errorf("baseURL = %q, want %q", f.baseURL, "http://ollama:11434")
	}
}

func TestNewForwarder_RejectsBadScheme(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{BaseURL: "ftp://ollama:11434"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewOllamaClient(cfg, logger, nil)

	if _, err := NewForwarder(c, cfg, logger); err == nil {
		t.Fatal("NewForwarder() expected error for ftp scheme, got nil")
	}
}
