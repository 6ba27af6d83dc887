// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string // decoded
	RawPath  string // escaped form as sent by the caller; empty means Path
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
	// ContentLength is the inbound body length, or -1 when unknown.
	ContentLength int64
}

// HasBody reports whether the request method carries a payload upstream.
func (r *ProxyRequest) HasBody() bool {
	return r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead
}

// EscapedPath returns the path as the caller encoded it.
func (r *ProxyRequest) EscapedPath() string {
	if r.RawPath != "" {
		return r.RawPath
	}
	return r.Path
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string // upstream status line, e.g. "200 OK"; informational only
	Header     http.Header
	Body       io.ReadCloser
}
