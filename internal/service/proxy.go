// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/HandyWote/gemini-proxy/internal/client"
	"github.com/HandyWote/gemini-proxy/internal/config"
	"github.com/HandyWote/gemini-proxy/internal/model"
)

const userAgent = "gemini-proxy/1.0"

// ProxyService translates inbound requests into upstream calls.
type ProxyService struct {
	upstream *client.UpstreamClient
	chat     *client.ChatClient
	cfg      *config.Config
	logger   *slog.Logger

	baseURL   string // trailing slashes stripped
	namespace string // trailing slashes stripped
}

// NewProxyService creates a ProxyService.
func NewProxyService(up *client.UpstreamClient, chat *client.ChatClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &ProxyService{
		upstream:  up,
		chat:      chat,
		cfg:       cfg,
		logger:    logger.With("component", "proxy_service"),
		baseURL:   trimTrailingSlashes(cfg.Upstream.BaseURL),
		namespace: trimTrailingSlashes(cfg.Proxy.Namespace),
	}, nil
}

// Forward sends a ProxyRequest upstream and returns the response.
// The caller is responsible for closing the response body.
//
// Credential errors (ErrMissingAPIKey, ErrUnauthorized) are returned before
// any network activity.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	credential, err := s.resolveCredential(pr.Header)
	if err != nil {
		return nil, err
	}

	var resp *model.ProxyResponse
	if s.cfg.Upstream.Client == config.ClientOpenAISDK {
		resp, err = s.forwardChat(pr, credential)
	} else {
		resp, err = s.forwardHTTP(pr, credential)
	}
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)

	if s.cfg.Proxy.Verbose() {
		s.logger.Debug("upstream response",
			"status", resp.Status,
			"headers", resp.Header,
		)
	}
	return resp, nil
}

func (s *ProxyService) forwardHTTP(pr *model.ProxyRequest, credential string) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.EscapedPath(), pr.RawQuery)
	header := s.buildRequestHeaders(pr.Header, credential)

	if s.cfg.Proxy.Verbose() {
		s.logger.Debug("forwarding request",
			"method", pr.Method,
			"path", pr.Path,
			"query", pr.RawQuery,
			"target", target,
			"credential", MaskCredential(credential),
			"headers", redactHeaders(header),
		)
	}

	var body io.Reader = http.NoBody
	if pr.HasBody() {
		body = pr.Body
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if pr.HasBody() {
		req.ContentLength = pr.ContentLength
	}

	return s.upstream.Do(req)
}

// buildRequestHeaders copies the inbound headers and applies the credential.
// The outbound Host is taken from the target URL.
func (s *ProxyService) buildRequestHeaders(src http.Header, credential string) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	model.RemoveHopByHop(dst)
	dst.Del("Host")
	dst.Del("Content-Length")

	dst.Set("Authorization", bearerPrefix+credential)
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

// filterResponseHeaders drops hop-by-hop headers and, in "always" CORS mode,
// the upstream's own Access-Control-* headers so the proxy's take effect.
func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	model.RemoveHopByHop(dst)
	if s.cfg.Proxy.CORS == config.CORSAlways {
		for key := range dst {
			if strings.HasPrefix(http.CanonicalHeaderKey(key), "Access-Control-") {
				delete(dst, key)
			}
		}
	}
	return dst
}
