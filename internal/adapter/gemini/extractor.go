package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"bookscroll/internal/ingest"
)

const (
	DefaultExtractionModel = "gemini-2.0-flash"
	DefaultClassifierModel = "gemini-2.0-flash-lite"
)

var snippetSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"snippets": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"snippetText":             {Type: genai.TypeString},
					"context":                 {Type: genai.TypeString},
					"themes":                  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"originalTextWithIndices": {Type: genai.TypeString},
				},
				Required: []string{"snippetText", "context", "themes", "originalTextWithIndices"},
			},
		},
	},
	Required: []string{"snippets"},
}

var rejectSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"reject": {Type: genai.TypeBoolean},
	},
	Required: []string{"reject"},
}

type Extractor struct {
	client *Client
	model  string
}

func (c *Client) Extractor(model string) *Extractor {
	if model == "" {
		model = DefaultExtractionModel
	}
	return &Extractor{client: c, model: model}
}

func (e *Extractor) Extract(ctx context.Context, instructions, chunkText string) ([]ingest.ExtractionResult, error) {
	raw, err := e.client.generateJSON(ctx, e.model, instructions, snippetSchema, "Extract snippets from this passage: "+chunkText)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	return ingest.DecodeExtractionResponse(raw)
}

type Classifier struct {
	client *Client
	model  string
}

func (c *Client) Classifier(model string) *Classifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	return &Classifier{client: c, model: model}
}

func (cl *Classifier) Reject(ctx context.Context, sec ingest.Section) (bool, error) {
	input := fmt.Sprintf("Discern this section of the book. Identifier: %q. Title: %q.", sec.ID, sec.Title)
	raw, err := cl.client.generateJSON(ctx, cl.model, ingest.ClassifierInstructions, rejectSchema, input)
	if err != nil {
		return false, fmt.Errorf("classification request: %w", err)
	}

	var out struct {
		Reject *bool `json:"reject"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("decode classification: %w", err)
	}
	if out.Reject == nil {
		return false, fmt.Errorf("decode classification: missing reject")
	}
	return *out.Reject, nil
}
