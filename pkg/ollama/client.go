package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/jewelry-tryon/pkg/client"
	"github.com/menta2k/jewelry-tryon/pkg/processing"
	"github.com/menta2k/jewelry-tryon/pkg/types"
)

// DefaultModel is the vision model used when the caller configures none
const DefaultModel = "openbmb/minicpm-v4.5"

// defaultTimeout bounds one model call when the context carries no deadline.
// Vision models on CPU can take minutes per image.
const defaultTimeout = 300 * time.Second

// Client wraps the Ollama API for vision queries, jewelry checks and
// generative edits
type Client struct {
	client    *api.Client
	model     string
	processor *processing.Processor
}

// NewClient creates a new Ollama client from a server URL. Any path on the
// URL is dropped; only scheme and host are used.
func NewClient(ollamaURL string) (*Client, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %v", err)
	}

	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	return &Client{
		client:    api.NewClient(base, http.DefaultClient),
		model:     DefaultModel,
		processor: processing.NewProcessor(),
	}, nil
}

// SetModel changes the model used for calls that take no model argument
func (c *Client) SetModel(model string) {
	if model != "" {
		c.model = model
	}
}

// SimpleQuery sends one prompt with an optional image attachment and returns
// the model's raw text reply
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	req, err := chatRequest(model, prompt, imgB64, nil)
	if err != nil {
		return "", err
	}

	return c.chat(ctx, req)
}

// AnalyzePlacement asks the vision model where the jewelry belongs on the
// body image and parses its JSON answer. Malformed output never fails the
// call; it comes back as a marked fallback response the caller can detect.
func (c *Client) AnalyzePlacement(ctx context.Context, model, prompt, imgB64 string) (*types.PlacementResponse, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	req, err := chatRequest(model, prompt, imgB64, tuningFor(model))
	if err != nil {
		return nil, err
	}

	responseContent, err := c.chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return parsePlacementResponse(responseContent), nil
}

// CheckJewelry reports whether the photo already shows jewelry
func (c *Client) CheckJewelry(ctx context.Context, img image.Image) (*types.CheckResult, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	imgB64, err := c.processor.PrepareImageForModel(img, "jpg", 1024, 85)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req, err := chatRequest(c.model, checkJewelryPrompt, imgB64, nil)
	if err != nil {
		return nil, err
	}

	responseContent, err := c.chat(ctx, req)
	if err != nil {
		return nil, err
	}

	return parseCheckResult(responseContent), nil
}

// GenerateImage sends a generative edit through the chat endpoint and decodes
// the base64 image payload the model returns. High fidelity requests send the
// base image at a larger size and pin the temperature down.
func (c *Client) GenerateImage(ctx context.Context, req client.GenerationRequest) (image.Image, error) {
	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	var imgB64 string
	if req.BaseImage != nil {
		maxDim, quality := 1024, 85
		if req.HighFidelity {
			maxDim, quality = 1536, 95
		}
		var err error
		imgB64, err = c.processor.PrepareImageForModel(req.BaseImage, "jpg", maxDim, quality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode base image: %w", err)
		}
	}

	options := map[string]any{"temperature": 0.7}
	if req.HighFidelity {
		options["temperature"] = 0.2
	}

	chatReq, err := chatRequest(c.model, req.Prompt, imgB64, options)
	if err != nil {
		return nil, err
	}

	responseContent, err := c.chat(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	payload, ok := extractImagePayload(responseContent)
	if !ok {
		return nil, fmt.Errorf("no image payload in model response")
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}
	return img, nil
}

// ensureDeadline adds the default timeout when the context has none
func ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// chatRequest builds a non-streaming single-message chat request
func chatRequest(model, prompt, imgB64 string, options map[string]any) (*api.ChatRequest, error) {
	message := api.Message{
		Role:    "user",
		Content: prompt,
	}
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image: %v", err)
		}
		message.Images = []api.ImageData{api.ImageData(imgBytes)}
	}

	streamFalse := false
	return &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{message},
		Stream:   &streamFalse,
		Options:  options,
	}, nil
}

// tuningFor returns model-specific sampling parameters
func tuningFor(model string) map[string]any {
	options := map[string]any{}

	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["temperature"] = 0.7
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}

func (c *Client) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %v", err)
	}
	return responseContent, nil
}

const checkJewelryPrompt = `Look at this photo and determine whether the person is already wearing any jewelry.

Return JSON with this exact structure:
{
  "hasJewelry": true or false,
  "confidence": 0.0 to 1.0,
  "detectedItems": ["list", "of", "jewelry", "items", "seen"]
}

HARD RULES:
- hasJewelry is true only if jewelry is clearly visible on the person.
- detectedItems is empty when hasJewelry is false.
- If you cannot tell, return {"hasJewelry": false, "confidence": 0.1, "detectedItems": []}.

JSON only. No markdown, no code fences, no comments, no trailing commas.`

// parsePlacementResponse parses the JSON response from the vision model.
// Responses that cannot be parsed come back as marked fallbacks with a zero
// position, never as errors.
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

// parseCheckResult parses a jewelry-check response, degrading to a low
// confidence negative when the model answer is unusable
func parseCheckResult(raw string) *types.CheckResult {
	raw = sanitizeModelJSON(raw)

	var result types.CheckResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return &types.CheckResult{HasJewelry: false, Confidence: 0.1}
	}
	return &result
}

// extractImagePayload pulls base64 image bytes out of a model reply, either
// from a data URI or from a bare base64 body
func extractImagePayload(raw string) ([]byte, bool) {
	raw = strings.TrimSpace(raw)

	if i := strings.Index(raw, "base64,"); i >= 0 {
		raw = raw[i+len("base64,"):]
		if j := strings.IndexAny(raw, "\"'` \n\t)"); j >= 0 {
			raw = raw[:j]
		}
	} else {
		raw = strings.Trim(raw, "`\"' \n")
	}

	if raw == "" {
		return nil, false
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, false
	}
	return payload, true
}

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	// Comment lines go first so their indentation disappears with them;
	// the inline pattern then only trims comment tails off value lines
	commentLineRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	commentTailRe   = regexp.MustCompile(`(?m)//.*$`)
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

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
	raw = commentLineRe.ReplaceAllString(raw, "")
	raw = commentTailRe.ReplaceAllString(raw, "")
	raw = trailingCommaRe.ReplaceAllString(raw, "$1")

	if first := strings.Index(raw, "{"); first >= 0 {
		if last := strings.LastIndex(raw, "}"); last > first {
			raw = raw[first : last+1]
		}
	}
	return strings.TrimSpace(raw)
}
