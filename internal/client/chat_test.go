package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestChatClient() *ChatClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	up := newTestUpstreamClient(testConfig(10), nil)
	return NewChatClient(up, logger, nil, noop.NewTracerProvider().Tracer("test"))
}

func TestChatClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/chat/completions" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/openai/chat/completions")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer sk-test")
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gemini-1.5-pro" {
			t.Errorf("model = %q, want %q", req.Model, "gemini-1.5-pro")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gemini-1.5-pro",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := newTestChatClient()
	resp, err := c.Complete(context.Background(), &ChatCall{
		BaseURL: srv.URL + "/openai",
		APIKey:  "sk-test",
		Request: openai.ChatCompletionRequest{
			Model:    "gemini-1.5-pro",
			Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hello"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var got openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Choices) != 1 || got.Choices[0].Message.Content != "hi" {
		t.Errorf("choices = %+v, want one choice with content %q", got.Choices, "hi")
	}
}

func TestChatClient_Complete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := newTestChatClient()
	_, err := c.Complete(context.Background(), &ChatCall{
		BaseURL: srv.URL,
		APIKey:  "bad",
		Request: openai.ChatCompletionRequest{Model: "gemini-1.5-pro"},
	})
	if err == nil {
		t.Fatal("Complete() expected error, got nil")
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *openai.APIError", err)
	}
	if apiErr.HTTPStatusCode != http.StatusUnauthorized {
		t.Errorf("HTTPStatusCode = %d, want %d", apiErr.HTTPStatusCode, http.StatusUnauthorized)
	}
	if got := sdkStatusCode(err); got != http.StatusUnauthorized {
		t.Errorf("sdkStatusCode() = %d, want %d", got, http.StatusUnauthorized)
	}
}

func TestChatClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"s1\",\"object\":\"chat.completion.chunk\",\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newTestChatClient()
	resp, err := c.Stream(context.Background(), &ChatCall{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Request: openai.ChatCompletionRequest{Model: "m", Stream: true},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	s := string(body)
	if strings.Count(s, "data: {") != 2 {
		t.Errorf("expected 2 chunk frames, got body %q", s)
	}
	if !strings.Contains(s, `"content":"Hel"`) || !strings.Contains(s, `"content":"lo"`) {
		t.Errorf("body missing chunk content: %q", s)
	}
	if !strings.HasSuffix(s, "data: [DONE]\n\n") {
		t.Errorf("body should end with DONE frame, got %q", s)
	}
}

func TestChatClient_Stream_UpstreamRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := newTestChatClient()
	_, err := c.Stream(context.Background(), &ChatCall{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Request: openai.ChatCompletionRequest{Model: "m", Stream: true},
	})
	if err == nil {
		t.Fatal("Stream() expected error for rejected request, got nil")
	}
}
