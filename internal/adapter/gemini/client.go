package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"bookscroll/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

const DefaultTimeout = 60 * time.Second

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Client hands out genai clients keyed by the current API key. The key is read
// from settings on every call so an update takes effect without a restart;
// fallbackKey is used while settings hold none.
type Client struct {
	settings    SettingsReader
	fallbackKey string
	timeout     time.Duration

	client     *genai.Client
	currentKey string
	mu         sync.RWMutex
	clientOpts []option.ClientOption
}

func NewClient(svc SettingsReader, fallbackKey string, timeout time.Duration, opts ...option.ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		settings:    svc,
		fallbackKey: fallbackKey,
		timeout:     timeout,
		clientOpts:  opts,
	}
}

func (c *Client) current(ctx context.Context) (*genai.Client, error) {
	key := c.fallbackKey
	if c.settings != nil {
		s, err := c.settings.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get settings: %w", err)
		}
		if s.GeminiAPIKey != "" {
			key = s.GeminiAPIKey
		}
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}
	return c.getClient(ctx, key)
}

func (c *Client) getClient(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}

// generateJSON runs one schema-constrained generation and returns the raw JSON text.
func (c *Client) generateJSON(ctx context.Context, model, instructions string, schema *genai.Schema, input string) ([]byte, error) {
	client, err := c.current(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := client.GenerativeModel(model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = schema

	resp, err := m.GenerateContent(ctx, genai.Text(input))
	if err != nil {
		return nil, err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil {
			return nil, fmt.Errorf("prompt blocked: %v", resp.PromptFeedback.BlockReason)
		}
		return nil, errors.New("empty response from model")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil, errors.New("empty response from model")
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return nil, errors.New("no text in model response")
	}
	return []byte(sb.String()), nil
}
