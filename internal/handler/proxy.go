package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/HandyWote/gemini-proxy/internal/config"
	"github.com/HandyWote/gemini-proxy/internal/model"
	"github.com/HandyWote/gemini-proxy/internal/service"
)

// credentialPattern matches bearer tokens and key query parameters embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)(bearer\s+|key=)[^&\s"]+`)

// errorResponse is the JSON body of every failed proxy request.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ProxyHandler forwards requests to the upstream LLM API.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	verbose := h.cfg.Proxy.Verbose()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	var reqPreview *previewWriter
	if verbose {
		h.logger.Debug("inbound request",
			"method", req.Method,
			"path", req.URL.Path,
			"query", req.URL.RawQuery,
			"remote_ip", c.RealIP(),
		)
		if pr.HasBody() {
			reqPreview = newPreviewWriter(model.ClassifyContentType(req.Header.Get(echo.HeaderContentType)))
			if reqPreview != nil {
				pr.Body = teeBody(req.Body, reqPreview)
			}
		}
	}

	resp, err := h.service.Forward(pr)
	if reqPreview != nil {
		h.logPreview("request body", reqPreview)
	}
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp, verbose)
	return nil
}

// relay writes the upstream status, headers and body to the caller. Once the
// status is written a failure can only be logged.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse, verbose bool) {
	res := c.Response()

	// Upstream values replace any header already set by middleware.
	for key, vals := range resp.Header {
		res.Header().Del(key)
		for _, v := range vals {
			res.Header().Add(key, v)
		}
	}
	res.WriteHeader(resp.StatusCode)

	var dst io.Writer = newFlushWriter(res, res.Writer)
	var preview *previewWriter
	if verbose {
		preview = newPreviewWriter(model.ClassifyContentType(resp.Header.Get(echo.HeaderContentType)))
		if preview != nil {
			dst = io.MultiWriter(dst, preview)
		}
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		h.logger.Warn("streaming response body",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
			"bytes", n,
		)
	}
	if preview != nil {
		h.logPreview("response body", preview)
	}
}

func (h *ProxyHandler) logPreview(msg string, p *previewWriter) {
	text, truncated := p.Preview()
	h.logger.Debug(msg,
		"content_class", p.class.String(),
		"bytes", p.Total(),
		"preview", text,
		"truncated", truncated,
	)
}

// mapError writes the single JSON error response for a failed request.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, body := classifyError(err)

	attrs := []any{
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
		"status", status,
	}
	if h.cfg.Proxy.Verbose() {
		body.Timestamp = time.Now().UTC().Format(time.RFC3339)
		attrs = append(attrs, "stack", string(debug.Stack()))
	}
	h.logger.Error("proxy error", attrs...)

	return c.JSON(status, body)
}

func classifyError(err error) (int, errorResponse) {
	if errors.Is(err, service.ErrMissingAPIKey) {
		return http.StatusInternalServerError, errorResponse{
			Error:   "Missing API key",
			Message: err.Error(),
		}
	}

	if errors.Is(err, service.ErrUnauthorized) {
		return http.StatusUnauthorized, errorResponse{
			Error:   "Unauthorized",
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorResponse{
		Error:   "Proxy error",
		Message: upstreamMessage(err),
	}
}

func upstreamMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return sanitize(apiErr.Message)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}

	return sanitizeError(err)
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs or headers.
func sanitizeError(err error) string {
	return sanitize(err.Error())
}

func sanitize(s string) string {
	return credentialPattern.ReplaceAllString(s, "${1}[REDACTED]")
}
