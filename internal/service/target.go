package service

import (
	"strings"

	"github.com/HandyWote/gemini-proxy/internal/config"
)

// rewritePath maps a caller-facing path to the upstream-facing one.
func (s *ProxyService) rewritePath(path string) string {
	if s.cfg.Proxy.PathRewrite != config.RewriteNamespacePrefix {
		return path
	}
	if path == "" || path == "/" {
		return s.cfg.Proxy.RootEndpoint
	}
	return s.namespace + path
}

// buildUpstreamURL joins the normalized base URL, the rewritten path and the
// raw query string. The path must be in escaped form so that encoded
// characters such as %2F, %3F and %23 survive the round trip.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	target := s.baseURL + s.rewritePath(path)
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// sdkBaseURL is the base the OpenAI SDK appends endpoint suffixes such as
// "/chat/completions" to.
func (s *ProxyService) sdkBaseURL() string {
	if s.cfg.Proxy.PathRewrite == config.RewriteNamespacePrefix {
		return s.baseURL + s.namespace
	}
	return s.baseURL
}

func trimTrailingSlashes(s string) string {
	return strings.TrimRight(s, "/")
}
