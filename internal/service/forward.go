// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ollama-proxy-go/internal/client"
	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/model"
)

// strippedRequestHeaders are removed (case-insensitively) before forwarding.
// Host is meaningless cross-origin and a stale Transfer-Encoding would
// conflict with the client's own framing. Everything else passes through
// verbatim.
var strippedRequestHeaders = map[string]bool{
	"host":              true,
	"transfer-encoding": true,
}

// Forwarder sends inbound requests to the upstream Ollama server.
// It is deliberately transparent: one upstream call per inbound call,
// no retries, no caching, no response-header rewriting.
type Forwarder struct {
	client  *client.OllamaClient
	logger  *slog.Logger
	baseURL string
}

// NewForwarder creates a Forwarder for the configured upstream base URL.
func NewForwarder(c *client.OllamaClient, cfg *config.Config, logger *slog.Logger) (*Forwarder, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream base_url must be http or https; got %q", cfg.Upstream.BaseURL)
	}

	return &Forwarder{
		client:  c,
		logger:  logger.With("component", "forwarder"),
		baseURL: strings.TrimRight(u.String(), "/"),
	}, nil
}

// Forward sends a ProxyRequest upstream and returns the response with its
// body unread. The caller is responsible for closing the response body and
// for choosing buffered vs. chunked relay via ProxyResponse.EventStream.
//
// A connection or protocol failure is returned as-is; there is no local
// recovery and the caller is expected to surface it as a 5xx.
func (f *Forwarder) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := f.baseURL + pr.Path
	if pr.RawQuery != "" {
		target += "?" + pr.RawQuery
	}

	header := sanitizeRequestHeaders(pr.Header)

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	var body io.Reader
	if len(pr.Body) > 0 {
		body = bytes.NewReader(pr.Body)
	}

	resp, err := f.client.DoStream(pr.Ctx, pr.Method, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// sanitizeRequestHeaders copies the inbound headers minus exactly the
// case-insensitive Host and Transfer-Encoding keys. Values are not touched.
func sanitizeRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strippedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
