package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HandyWote/gemini-proxy/internal/metrics"
	"github.com/HandyWote/gemini-proxy/internal/model"
)

const clientLabelSDK = "openai_sdk"

// ChatCall is one chat completion to issue through the SDK.
type ChatCall struct {
	BaseURL string
	APIKey  string
	Request openai.ChatCompletionRequest
}

// ChatClient issues chat completions through the OpenAI Go SDK. It shares the
// UpstreamClient's transport so both modes use one connection pool.
type ChatClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewChatClient creates a ChatClient on top of the upstream connection pool.
func NewChatClient(up *UpstreamClient, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) *ChatClient {
	return &ChatClient{
		httpClient: up.HTTPClient(),
		logger:     logger.With("component", "chat_client"),
		metrics:    m,
		tracer:     tracer,
	}
}

func (c *ChatClient) sdk(call *ChatCall) *openai.Client {
	cfg := openai.DefaultConfig(call.APIKey)
	cfg.BaseURL = call.BaseURL
	cfg.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(cfg)
}

// Complete runs a non-streaming chat completion and returns its JSON encoding
// as a 200 response.
func (c *ChatClient) Complete(ctx context.Context, call *ChatCall) (*model.ProxyResponse, error) {
	ctx, span := c.startSpan(ctx, call, false)
	defer span.End()

	start := time.Now()
	resp, err := c.sdk(call).CreateChatCompletion(ctx, call.Request)
	c.observe(span, start, err)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode chat completion: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &model.ProxyResponse{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}, nil
}

// Stream runs a streaming chat completion and re-encodes the chunks as
// server-sent events. The returned body yields one "data:" frame per chunk and
// ends with "data: [DONE]". Closing the body stops the upstream stream.
func (c *ChatClient) Stream(ctx context.Context, call *ChatCall) (*model.ProxyResponse, error) {
	ctx, span := c.startSpan(ctx, call, true)

	start := time.Now()
	stream, err := c.sdk(call).CreateChatCompletionStream(ctx, call.Request)
	c.observe(span, start, err)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer span.End()
		defer stream.Close()
		pw.CloseWithError(c.pump(stream, pw))
	}()

	header := make(http.Header)
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")

	return &model.ProxyResponse{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     header,
		Body:       pr,
	}, nil
}

func (c *ChatClient) pump(stream *openai.ChatCompletionStream, w io.Writer) error {
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			_, err = io.WriteString(w, "data: [DONE]\n\n")
			return err
		}
		if err != nil {
			c.logger.Warn("chat stream interrupted", "err", err)
			return fmt.Errorf("receive chat chunk: %w", err)
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encode chat chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
	}
}

func (c *ChatClient) startSpan(ctx context.Context, call *ChatCall, stream bool) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "upstream chat.completions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", call.Request.Model),
			attribute.Bool("llm.stream", stream),
			attribute.String("server.address", call.BaseURL),
		),
	)
}

func (c *ChatClient) observe(span trace.Span, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := http.StatusOK
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		status = sdkStatusCode(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(http.MethodPost, clientLabelSDK).Observe(duration)
	if status == 0 {
		c.metrics.UpstreamErrors.WithLabelValues(http.MethodPost, clientLabelSDK).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(http.MethodPost, clientLabelSDK, strconv.Itoa(status)).Inc()
}

// sdkStatusCode extracts the upstream HTTP status from an SDK error, or 0 when
// the call failed before a response arrived.
func sdkStatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
