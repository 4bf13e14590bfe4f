package backend

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Gemini is a Transport backed by the Gemini API.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini transport.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: gi}, nil
}

// Generate asks the model for a JSON reply to the user content.
func (g *Gemini) Generate(ctx context.Context, call Call) (string, error) {
	temperature := call.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:       &temperature,
		MaxOutputTokens:   int32(call.MaxTokens),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(call.System, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, call.Model, genai.Text(call.User), cfg)
	if err != nil {
		return "", geminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Err: errors.New("no candidates in response")}
	}
	return resp.Text(), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return FromStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
		return FromStatus(apiErrPtr.Code, err)
	}
	return err
}
