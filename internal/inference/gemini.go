package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Provider using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini provider
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Low temperature keeps answers close to the requested JSON shape
	model.SetTemperature(0.2)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Complete sends the prompt, and the image if any, and returns the text reply
func (g *Gemini) Complete(ctx context.Context, prompt Prompt) (string, error) {
	parts := []genai.Part{genai.Text(prompt.System)}

	if prompt.Image != nil {
		data, err := base64.StdEncoding.DecodeString(prompt.Image.Base64)
		if err != nil {
			return "", fmt.Errorf("decoding image: %w", err)
		}
		// genai.ImageData expects just the format suffix (e.g. "jpeg"), not the full MIME type
		format := strings.TrimPrefix(prompt.Image.MIMEType, "image/")
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, data))
	}
	parts = append(parts, genai.Text(prompt.User))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return strings.TrimSpace(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
