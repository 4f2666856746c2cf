// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// ProxyRequest represents a client request to be forwarded upstream.
// The body is held as raw bytes so the observer can inspect it and the
// forwarder can send it with a recomputed Content-Length.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ProxyResponse represents the upstream response to be relayed back.
// The body is a single-consumer, forward-only stream; ownership
// (including Close) lies with the caller.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// EventStream reports whether the response must be relayed chunk by chunk.
// The decision is made on the Content-Type header alone so the upstream
// call never has to be re-issued.
func (r *ProxyResponse) EventStream() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "text/event-stream")
}
