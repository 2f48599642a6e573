package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "kgchat/backend/pkg/errors"
	"kgchat/backend/pkg/logger"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

// ChatMessage is one prior turn handed to the model
type ChatMessage struct {
	Role    string
	Content string
}

// LLMAdapter handles communication with an OpenAI-compatible gateway
type LLMAdapter struct {
	client     *openai.Client
	model      string
	mu         sync.RWMutex // Protects model field for concurrent access
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter. baseURL is the gateway root; "/v1" is appended.
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	// Local gateways accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"

	return &LLMAdapter{
		client:     openai.NewClientWithConfig(config),
		model:      modelID,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     logger.Get(),
	}
}

// SetModel updates the default model used when a call names none
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current default model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// SetRetryPolicy overrides the attempt count and linear backoff step
func (a *LLMAdapter) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	a.maxRetries = maxRetries
	a.backoff = backoff
}

// Complete sends the system prompt followed by the chat history and returns the reply text.
// An empty model falls back to the adapter default.
func (a *LLMAdapter) Complete(ctx context.Context, model, systemPrompt string, history []ChatMessage) (string, error) {
	req := a.buildRequest(model, systemPrompt, history)

	var resp openai.ChatCompletionResponse
	err := a.withRetry(ctx, req.Model, "llm completion", func() error {
		var err error
		resp, err = a.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.ErrAgentNoResponse
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM response generated",
		zap.String("model", req.Model),
		zap.Int("history", len(history)),
		zap.Int("content_length", len(content)),
	)

	return content, nil
}

// Stream is Complete with incremental delivery: onDelta receives each content chunk as it
// arrives and the full reply is returned at the end. Only opening the stream is retried;
// once a chunk has been delivered a failure is returned as is.
func (a *LLMAdapter) Stream(ctx context.Context, model, systemPrompt string, history []ChatMessage, onDelta func(string) error) (string, error) {
	req := a.buildRequest(model, systemPrompt, history)
	req.Stream = true

	var stream *openai.ChatCompletionStream
	err := a.withRetry(ctx, req.Model, "llm stream", func() error {
		var err error
		stream, err = a.client.CreateChatCompletionStream(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", apperrors.NewContextCancelled("llm stream", ctx.Err())
			}
			return "", apperrors.NewAgentLLMFailed(req.Model, 1, false, err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		content.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return "", err
		}
	}

	if content.Len() == 0 {
		return "", apperrors.ErrAgentNoResponse
	}

	a.logger.Debug("LLM stream completed",
		zap.String("model", req.Model),
		zap.Int("history", len(history)),
		zap.Int("content_length", content.Len()),
	)
	return content.String(), nil
}

func (a *LLMAdapter) buildRequest(model, systemPrompt string, history []ChatMessage) openai.ChatCompletionRequest {
	if model == "" {
		model = a.GetModel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(m.Role),
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
	}
}

// withRetry runs call with linear backoff, returning typed errors once attempts are exhausted
func (a *LLMAdapter) withRetry(ctx context.Context, model, operation string, call func() error) error {
	var err error
	attempts := 0
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return apperrors.NewContextCancelled(operation, ctx.Err())
			case <-time.After(backoff):
			}
		}

		attempts++
		err = call()
		if err == nil {
			return nil
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
		)

		if ctx.Err() != nil {
			return apperrors.NewContextCancelled(operation, ctx.Err())
		}
		if !isRetryable(err) {
			break
		}
	}
	return apperrors.NewAgentLLMFailed(model, attempts, isRetryable(err), err)
}

// isRetryable treats rate limits, server errors and transport failures as transient
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Anything else is a transport or decoding failure
	return true
}

func toOpenAIRole(role string) string {
	switch role {
	case openai.ChatMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case openai.ChatMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
