// Package gemini wraps the Google Generative AI SDK for JSON extraction
// requests.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// Client defines the Gemini operations used by the importer.
type Client interface {
	GenerateJSON(ctx context.Context, req Request) (string, error)
	Close() error
}

// Request is one JSON-mode generation call.
type Request struct {
	Model           string
	System          string
	Prompt          string
	MaxOutputTokens int32
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client for apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: client}, nil
}

func (c *sdkClient) GenerateJSON(ctx context.Context, req Request) (string, error) {
	model := c.client.GenerativeModel(modelName(req.Model))
	configureModel(model, req)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", eris.Wrap(err, "gemini: generate content")
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func modelName(name string) string {
	if name == "" {
		return defaultModel
	}
	return name
}

// configureModel asks for deterministic output. The JSON shape comes from
// the prompt.
func configureModel(model *genai.GenerativeModel, req Request) {
	model.SetTemperature(0)
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", eris.Errorf("gemini: empty candidate (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// StatusCode returns the HTTP status of an API error in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
