package categorize

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when the config names none.
const DefaultModelName = "gemini-2.5-flash"

// Model generates a text answer for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Gemini implements Model with the genai SDK. An empty project uses the
// Gemini API with credentials from the environment; a project selects
// Vertex AI.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, model, project, location string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if project != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = project
		cfg.Location = location
		if cfg.Location == "" {
			cfg.Location = "us-central1"
		}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate implements Model.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return text, nil
}
