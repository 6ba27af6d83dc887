package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/HandyWote/gemini-proxy/internal/client"
	"github.com/HandyWote/gemini-proxy/internal/model"
)

// ErrEmptyChatRequest is returned in SDK mode when the request carries no
// body to decode, such as a GET or HEAD.
var ErrEmptyChatRequest = errors.New("chat completion request has no JSON body")

// forwardChat treats the request as a chat completion and issues it through
// the SDK. Unknown request fields are dropped by the SDK's request type.
func (s *ProxyService) forwardChat(pr *model.ProxyRequest, apiKey string) (*model.ProxyResponse, error) {
	if !pr.HasBody() {
		return nil, ErrEmptyChatRequest
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(pr.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	if req.Model == "" {
		req.Model = s.cfg.Upstream.DefaultModel
	}
	if req.Messages == nil {
		req.Messages = []openai.ChatCompletionMessage{}
	}

	call := &client.ChatCall{
		BaseURL: s.sdkBaseURL(),
		APIKey:  apiKey,
		Request: req,
	}

	if s.cfg.Proxy.Verbose() {
		s.logger.Debug("forwarding chat completion",
			"base_url", call.BaseURL,
			"model", req.Model,
			"messages", len(req.Messages),
			"stream", req.Stream,
			"credential", MaskCredential(apiKey),
		)
	}

	if req.Stream {
		return s.chat.Stream(pr.Ctx, call)
	}
	return s.chat.Complete(pr.Ctx, call)
}
