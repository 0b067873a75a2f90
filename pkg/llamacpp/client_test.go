package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("Expected default base URL, got %q", c.baseURL)
	}

	c, _ = NewClient("http://gpu-box:8080/")
	if c.baseURL != "http://gpu-box:8080" {
		t.Errorf("Expected trailing slash trimmed, got %q", c.baseURL)
	}
}

func TestSimpleQuery(t *testing.T) {
	var gotPath string
	var gotReq ChatCompletionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "a silver ring"}}},
		})
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	answer, err := c.SimpleQuery(context.Background(), "minicpm", "What is this?", "aW1hZ2U=")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if answer != "a silver ring" {
		t.Errorf("Expected model answer, got %q", answer)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("Expected OpenAI-compatible endpoint, got %q", gotPath)
	}
	if gotReq.Model != "minicpm" {
		t.Errorf("Expected model passed through, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(gotReq.Messages))
	}

	parts, ok := gotReq.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %v", gotReq.Messages[0].Content)
	}
	imagePart := parts[1].(map[string]interface{})
	imageURL := imagePart["image_url"].(map[string]interface{})["url"].(string)
	if !strings.HasPrefix(imageURL, "data:image/jpeg;base64,") {
		t.Errorf("Expected data URI image, got %q", imageURL)
	}
}

func TestSimpleQueryContentParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"from parts"}]}}]}`)
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	answer, err := c.SimpleQuery(context.Background(), "minicpm", "describe", "")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if answer != "from parts" {
		t.Errorf("Expected text extracted from content parts, got %q", answer)
	}
}

func TestAnalyzePlacement(t *testing.T) {
	placementJSON := `{"position": {"x": 420, "y": 260}, "scale": 0.9, "rotation": 3, "confidence": 0.8, "perspective": "front", "reasoning": "sits at the collarbone"}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: placementJSON}}},
		})
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	result, err := c.AnalyzePlacement(context.Background(), "minicpm", "place the necklace", "aW1hZ2U=")
	if err != nil {
		t.Fatalf("AnalyzePlacement failed: %v", err)
	}
	if result.Position.X != 420 || result.Position.Y != 260 {
		t.Errorf("Expected position (420,260), got (%f,%f)", result.Position.X, result.Position.Y)
	}
	if result.Scale != 0.9 {
		t.Errorf("Expected scale 0.9, got %f", result.Scale)
	}
	if result.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", result.Confidence)
	}
}

func TestAnalyzePlacementMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "The necklace looks great around the neck!"}}},
		})
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	result, err := c.AnalyzePlacement(context.Background(), "minicpm", "place it", "")
	if err != nil {
		t.Fatalf("Expected marked fallback instead of error, got %v", err)
	}
	if result.Confidence != 0.1 {
		t.Errorf("Expected fallback confidence 0.1, got %f", result.Confidence)
	}
	if !strings.Contains(result.Reasoning, "fallback") {
		t.Errorf("Expected fallback marker in reasoning, got %q", result.Reasoning)
	}
	if result.Position.X != 0 || result.Position.Y != 0 {
		t.Errorf("Expected zero position in fallback, got %+v", result.Position)
	}
}

func TestAnalyzePlacementServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	if _, err := c.AnalyzePlacement(context.Background(), "minicpm", "place it", ""); err == nil {
		t.Error("Expected an error for a 500 response")
	} else if !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status code in error, got %v", err)
	}
}

func TestAnalyzePlacementNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletionResponse{})
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	if _, err := c.AnalyzePlacement(context.Background(), "minicpm", "place it", ""); err == nil {
		t.Error("Expected an error when response has no choices")
	}
}

func TestParsePlacementResponseFenced(t *testing.T) {
	raw := "```json\n{\"position\": {\"x\": 100, \"y\": 50}, \"confidence\": 0.6,}\n```"

	result := parsePlacementResponse(raw)
	if result.Position.X != 100 || result.Position.Y != 50 {
		t.Errorf("Expected fenced JSON parsed, got %+v", result)
	}
	if result.Confidence != 0.6 {
		t.Errorf("Expected trailing comma removed, got confidence %f", result.Confidence)
	}
}
