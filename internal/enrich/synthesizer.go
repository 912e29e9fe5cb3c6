// Package enrich integrates the external metadata synthesizer: an LLM text
// service that fills in missing descriptions and tags before dispatch.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are a short-form video SEO specialist.
Given a video title and its niche, generate metadata for publishing.

You MUST respond with ONLY valid JSON - no markdown, no explanation.

The JSON must have exactly these fields:
- "title": string (max 100 chars, punchy, curiosity-driven)
- "description": string (2-3 short sentences with a call to action)
- "tags": array of 10 strings (mix of broad and niche-specific tags)`

// Suggestion is the synthesizer's response. Absent fields leave the item's
// existing metadata untouched.
type Suggestion struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Synthesizer requests generated metadata for one item.
type Synthesizer interface {
	Synthesize(ctx context.Context, title, niche string) (*Suggestion, error)
}

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	BaseURL string // e.g. https://api.groq.com/openai/v1
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a synthesizer client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Synthesize asks the model for title/description/tags for one item.
func (c *Client) Synthesize(ctx context.Context, title, niche string) (*Suggestion, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("synthesizer API key not configured")
	}

	userPrompt := fmt.Sprintf("Video title: %q\nNiche: %q\n\nReturn JSON only.", title, niche)
	reqBody := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0.8,
		"max_tokens":  1024,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesizer request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("synthesizer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesizer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf("synthesizer response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("synthesizer returned no choices")
	}

	var s Suggestion
	content := stripFences(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("synthesizer returned invalid JSON: %w", err)
	}
	return &s, nil
}

// stripFences removes a ```json ... ``` wrapper some models insist on.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
