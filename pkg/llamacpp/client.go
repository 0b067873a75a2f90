// Package llamacpp is the second vision backend: a llama.cpp server driven
// through its OpenAI-compatible chat endpoint. The JSON repair helpers are
// duplicated from pkg/ollama on purpose so each backend stays self-contained.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/menta2k/jewelry-tryon/pkg/types"
)

const (
	defaultBaseURL = "http://localhost:8080"
	chatEndpoint   = "/v1/chat/completions"

	// requestDeadline bounds chat calls whose context has no deadline of
	// its own. Vision models on CPU can take minutes per image.
	requestDeadline = 300 * time.Second
)

// Client talks to one llama.cpp server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given server URL. An empty URL selects
// the llama.cpp default of localhost:8080.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = defaultBaseURL
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// SimpleQuery sends one prompt with an optional base64 JPEG attachment and
// returns the model's text reply.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, 2048, 0.9)
}

// AnalyzePlacement asks the model where the jewelry belongs and parses its
// JSON answer. Unusable output comes back as a marked fallback, not an error.
func (c *Client) AnalyzePlacement(ctx context.Context, model, prompt, imgB64 string) (*types.PlacementResponse, error) {
	reply, err := c.chat(ctx, model, prompt, imgB64, 4096, 0.8)
	if err != nil {
		return nil, err
	}
	return parsePlacementResponse(reply), nil
}

// chat performs one non-streaming user turn and extracts the reply text.
func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, maxTokens int, topP float64) (string, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	req := ChatCompletionRequest{
		Model:       model,
		Messages:    []Message{userMessage(prompt, imgB64)},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
		TopP:        topP,
	}

	body, err := c.post(ctx, chatEndpoint, req)
	if err != nil {
		return "", fmt.Errorf("chat request: %v", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response carried no choices")
	}

	reply := messageText(resp.Choices[0].Message)
	if reply == "" {
		return "", fmt.Errorf("chat response carried no text")
	}
	return reply, nil
}

// ensureDeadline caps the context with the default request deadline unless
// the caller already set one.
func ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, requestDeadline)
}

// userMessage packs a prompt and an optional image into one user turn,
// always in parts form so attachments ride along.
func userMessage(prompt, imgB64 string) Message {
	parts := []ContentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}
	return Message{Role: "user", Content: parts}
}

// messageText pulls the reply text out of either content form the server
// may answer with: a plain string or an array of typed parts.
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			part, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama.cpp returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

var (
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe   = regexp.MustCompile(`(?m)//.*$`)
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// parsePlacementResponse turns raw model output into a placement response.
// Anything unparseable becomes a 0.1-confidence fallback whose reasoning
// carries the markers the placement layer scans for.
func parsePlacementResponse(raw string) *types.PlacementResponse {
	raw = sanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return &types.PlacementResponse{
			Confidence: 0.1,
			Reasoning:  "non-json response, using fallback",
		}
	}

	var result types.PlacementResponse
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return &result
	}

	// Retry on the outermost object in case stray text survived
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first < 0 || last <= first {
		return &types.PlacementResponse{
			Confidence: 0.1,
			Reasoning:  "no json found in response, using fallback",
		}
	}
	if err := json.Unmarshal([]byte(raw[first:last+1]), &result); err != nil {
		return &types.PlacementResponse{
			Confidence: 0.1,
			Reasoning:  "failed to parse model response, using fallback",
		}
	}
	return &result
}

// sanitizeModelJSON strips the decoration chat models wrap around JSON:
// code fences, comments and trailing commas. The outermost object is kept.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if _, rest, ok := strings.Cut(raw, "\n"); ok {
			raw = rest
		}
		if fence := strings.LastIndex(raw, "```"); fence >= 0 {
			raw = raw[:fence]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = blockCommentRe.ReplaceAllString(raw, "")
	raw = lineCommentRe.ReplaceAllString(raw, "")
	raw = trailingCommaRe.ReplaceAllString(raw, "$1")

	if first := strings.Index(raw, "{"); first >= 0 {
		if last := strings.LastIndex(raw, "}"); last > first {
			raw = raw[first : last+1]
		}
	}

	return strings.TrimSpace(raw)
}

// Wire shapes for the OpenAI chat schema llama.cpp implements.

type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
