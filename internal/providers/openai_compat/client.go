package openai_compat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"globiagent/internal/providers"
)

type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	Logger      zerolog.Logger
}

type Client struct {
	cfg Config
	api *openai.Client
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = strings.TrimSuffix(base, "/")
	}
	oc.HTTPClient = cfg.HTTPClient

	return &Client{
		cfg: cfg,
		api: openai.NewClientWithConfig(oc),
	}
}

var _ providers.StructuredProvider = (*Client)(nil)

func (c *Client) GenerateStructured(ctx context.Context, req providers.StructuredRequest) ([]byte, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		content, retry, err := c.callOnce(ctx, req, messages)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !retry {
				return nil, err
			}
			c.cfg.Logger.Debug().Err(err).Int("attempt", attempt).Msg("structured completion failed")
			if attempt == c.cfg.MaxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.BackoffBase * (1 << (attempt - 1))):
			}
			continue
		}

		raw := []byte(content)
		var verr error
		if req.Validate != nil {
			verr = req.Validate(raw)
		}
		if verr == nil {
			return raw, nil
		}

		lastErr = fmt.Errorf("invalid output: %w", verr)
		c.cfg.Logger.Debug().Err(verr).Int("attempt", attempt).Msg("structured output rejected")
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: feedbackPrompt(verr)},
		)
	}

	return nil, fmt.Errorf("%w after %d attempt(s): %v", providers.ErrAttemptsExhausted, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) callOnce(ctx context.Context, req providers.StructuredRequest, messages []openai.ChatCompletionMessage) (content string, retry bool, err error) {
	schema := req.Schema
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: &schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return "", isRetryable(err), fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", true, fmt.Errorf("chat completion: no choices in response")
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", true, fmt.Errorf("chat completion refused: %s", msg.Refusal)
	}
	return msg.Content, false, nil
}

// temperature maps 0 to the smallest positive float32, since the request
// struct drops a literal zero from the payload.
func temperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

func feedbackPrompt(err error) string {
	return "The previous answer did not pass validation: " + err.Error() +
		"\nAnswer again with a corrected JSON object that matches the schema."
}
