package placement

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/menta2k/jewelry-tryon/pkg/types"
)

type fakeVisionClient struct {
	response   *types.PlacementResponse
	err        error
	lastPrompt string
}

func (f *fakeVisionClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeVisionClient) AnalyzePlacement(ctx context.Context, model, prompt, imgB64 string) (*types.PlacementResponse, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestVisionEstimateUsesResponse(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:    types.Point{X: 500, Y: 400},
		Scale:       1.2,
		Rotation:    10,
		Confidence:  0.9,
		Perspective: "side",
		Reasoning:   "ring finger visible on the left hand",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Ring)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if p.X != 500 || p.Y != 400 {
		t.Errorf("Expected position (500, 400), got (%f, %f)", p.X, p.Y)
	}
	if p.Scale != 1.2 {
		t.Errorf("Expected scale 1.2, got %f", p.Scale)
	}
	if p.Rotation != 10 {
		t.Errorf("Expected rotation 10, got %f", p.Rotation)
	}
	if p.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", p.Confidence)
	}
	if p.Perspective != types.PerspectiveSide {
		t.Errorf("Expected side perspective, got %q", p.Perspective)
	}
}

func TestVisionNecklaceCorrectedWhenTooHigh(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 500, Y: 100},
		Scale:      0.6,
		Confidence: 0.9,
		Reasoning:  "necklace on the collarbone",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// y=100 is above the 35% band floor, corrected to the mid-neck line
	if math.Abs(p.Y-550) > 1e-6 {
		t.Errorf("Expected corrected y 550, got %f", p.Y)
	}
	if math.Abs(p.Confidence-0.6) > 1e-9 {
		t.Errorf("Expected confidence penalized to 0.6, got %f", p.Confidence)
	}
}

func TestVisionNecklaceCorrectedWhenTooLow(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 500, Y: 900},
		Scale:      0.6,
		Confidence: 0.5,
		Reasoning:  "necklace below the chest",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if math.Abs(p.Y-600) > 1e-6 {
		t.Errorf("Expected corrected y 600, got %f", p.Y)
	}
	if math.Abs(p.Confidence-0.2) > 1e-9 {
		t.Errorf("Expected confidence penalized to 0.2, got %f", p.Confidence)
	}
}

func TestVisionNecklaceConfidenceFloor(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 500, Y: 100},
		Scale:      0.6,
		Confidence: 0.3,
		Reasoning:  "guessing",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// The 0.3 penalty would reach zero; the floor holds at 0.1
	if math.Abs(p.Confidence-0.1) > 1e-9 {
		t.Errorf("Expected confidence floored at 0.1, got %f", p.Confidence)
	}
}

func TestVisionNecklaceInsideBandUntouched(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 500, Y: 500},
		Scale:      0.6,
		Confidence: 0.9,
		Reasoning:  "necklace on the neck",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if p.Y != 500 {
		t.Errorf("Expected y 500 untouched, got %f", p.Y)
	}
	if p.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9 untouched, got %f", p.Confidence)
	}
}

func TestVisionFallbackOnParseFailureMarker(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:  types.Point{X: 500, Y: 400},
		Reasoning: "non-json response, using fallback",
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 800, white)

	p, err := v.Estimate(context.Background(), body, types.Ring)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if p.X != 600 || math.Abs(p.Y-480) > 1e-6 {
		t.Errorf("Expected documented ring default (600, 480), got (%f, %f)", p.X, p.Y)
	}
	if p.Scale != 0.8 {
		t.Errorf("Expected default scale 0.8, got %f", p.Scale)
	}
	if math.Abs(p.Confidence-0.3) > 1e-9 {
		t.Errorf("Expected low confidence 0.3, got %f", p.Confidence)
	}
}

func TestVisionFallbackOnZeroPosition(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 0, Y: 0},
		Confidence: 0.8,
	}}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(1000, 1000, white)

	p, err := v.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// Necklace parse-failure default sits at 55% of canvas height
	if math.Abs(p.Y-550) > 1e-6 {
		t.Errorf("Expected necklace default y 550, got %f", p.Y)
	}
}

func TestVisionTransportErrorSurfaces(t *testing.T) {
	fake := &fakeVisionClient{err: fmt.Errorf("connection refused")}

	v := NewVisionStrategy(fake, "test-model", DefaultConfig())
	body := createTestImage(500, 500, white)

	_, err := v.Estimate(context.Background(), body, types.Earrings)
	if err == nil {
		t.Fatal("Expected transport error to surface")
	}
}

func TestVisionNilBody(t *testing.T) {
	v := NewVisionStrategy(&fakeVisionClient{}, "test-model", DefaultConfig())
	if _, err := v.Estimate(context.Background(), nil, types.Ring); err == nil {
		t.Fatal("Expected error for nil body")
	}
}

func TestVisionErrorFallsThroughToHeuristic(t *testing.T) {
	e := New()
	e.SetVisionClient(&fakeVisionClient{err: fmt.Errorf("service down")}, "test-model")

	body := createTestImage(1200, 900, white)
	p := e.Estimate(context.Background(), body, types.Necklace)

	// No skin on a white canvas either, so the heuristic's static default wins
	if p.X != 600 || math.Abs(p.Y-270) > 1e-6 {
		t.Errorf("Expected heuristic fallback (600, 270), got (%f, %f)", p.X, p.Y)
	}
	if p.Confidence != 0.5 {
		t.Errorf("Expected confidence 0.5, got %f", p.Confidence)
	}
}

func TestBuildPlacementPromptEncodesPolicy(t *testing.T) {
	prompt := buildPlacementPrompt(types.Necklace, 1000, 800)

	if !strings.Contains(prompt, "1000x800") {
		t.Error("Expected prompt to name the canvas dimensions")
	}
	if !strings.Contains(prompt, "between 35% and 75%") {
		t.Error("Expected prompt to encode the necklace vertical band")
	}
	if !strings.Contains(prompt, "50 <= x <= 950") {
		t.Error("Expected prompt to encode the coordinate bounds")
	}
	if !strings.Contains(prompt, "JSON only") {
		t.Error("Expected prompt to demand JSON output")
	}
}

func TestBuildPlacementPromptPerType(t *testing.T) {
	ring := buildPlacementPrompt(types.Ring, 640, 640)
	if !strings.Contains(ring, "base phalanx") {
		t.Error("Expected ring prompt to pin the phalanx rule")
	}
	bracelet := buildPlacementPrompt(types.Bracelet, 640, 640)
	if !strings.Contains(bracelet, "wrist") {
		t.Error("Expected bracelet prompt to mention the wrist")
	}
}

func TestDefaultImageEncodedForModel(t *testing.T) {
	fake := &fakeVisionClient{response: &types.PlacementResponse{
		Position:   types.Point{X: 300, Y: 300},
		Confidence: 0.7,
		Reasoning:  "visible neck",
	}}

	v := NewVisionStrategy(fake, "", DefaultConfig())
	if v.model != DefaultVisionModel {
		t.Errorf("Expected default model %q, got %q", DefaultVisionModel, v.model)
	}

	body := createTestImage(400, 400, white)
	if _, err := v.Estimate(context.Background(), body, types.Necklace); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if fake.lastPrompt == "" {
		t.Error("Expected the strategy to send a prompt")
	}
}
