package backend

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter is a Transport for OpenAI-compatible chat completion APIs.
type OpenRouter struct {
	client *openai.Client
}

// NewOpenRouter creates an OpenRouter transport. An empty baseURL selects
// DefaultOpenRouterBaseURL; httpClient may be nil.
func NewOpenRouter(apiKey, baseURL string, httpClient *http.Client) *OpenRouter {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultOpenRouterBaseURL
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenRouter{client: openai.NewClientWithConfig(cfg)}
}

// Generate sends one chat completion request with a system and a user message.
func (o *OpenRouter) Generate(ctx context.Context, call Call) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: call.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: call.System},
			{Role: openai.ChatMessageRoleUser, Content: call.User},
		},
		Temperature: call.Temperature,
		MaxTokens:   call.MaxTokens,
	})
	if err != nil {
		return "", openRouterError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: errors.New("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

func openRouterError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return FromStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return FromStatus(reqErr.HTTPStatusCode, err)
	}
	return err
}
