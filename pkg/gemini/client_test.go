package gemini

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`  [{"fields":`),
				genai.Blob{MIMEType: "image/png"},
				genai.Text(`{"address":"1 Elm St"}}]  `),
			}},
		}},
	}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `[{"fields":{"address":"1 Elm St"}}]`, text)
}

func TestResponseText_Empty(t *testing.T) {
	_, err := responseText(&genai.GenerateContentResponse{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")

	_, err = responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty candidate")
}

func TestConfigureModel(t *testing.T) {
	m := &genai.GenerativeModel{}
	configureModel(m, Request{System: "be precise", MaxOutputTokens: 2048})

	require.NotNil(t, m.Temperature)
	assert.Equal(t, float32(0), *m.Temperature)
	require.NotNil(t, m.MaxOutputTokens)
	assert.Equal(t, int32(2048), *m.MaxOutputTokens)
	require.NotNil(t, m.SystemInstruction)
	assert.Equal(t, genai.Text("be precise"), m.SystemInstruction.Parts[0])
}

func TestModelName(t *testing.T) {
	assert.Equal(t, defaultModel, modelName(""))
	assert.Equal(t, "gemini-2.5-pro", modelName("gemini-2.5-pro"))
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("call: %w", &googleapi.Error{Code: 503})
	assert.Equal(t, 503, StatusCode(err))
	assert.Equal(t, 0, StatusCode(fmt.Errorf("plain")))
}
