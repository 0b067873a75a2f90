package placement

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

func TestHeuristicNecklaceFallbackWithoutFace(t *testing.T) {
	body := createTestImage(1200, 900, white)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if p.X != 600 {
		t.Errorf("Expected fallback x 600, got %f", p.X)
	}
	if math.Abs(p.Y-270) > 1e-6 {
		t.Errorf("Expected fallback y 270, got %f", p.Y)
	}
	if p.Scale != 0.6 {
		t.Errorf("Expected fallback scale 0.6, got %f", p.Scale)
	}
	if p.Rotation != 0 {
		t.Errorf("Expected fallback rotation 0, got %f", p.Rotation)
	}
	if p.Confidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %f", p.Confidence)
	}
}

func TestHeuristicNecklaceBelowFaceBlob(t *testing.T) {
	body := createTestImage(800, 600, white)
	fillRect(body, 350, 100, 450, 220, skinTone)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// Neck sits at the face bottom (220) plus 10% of the remaining height
	if math.Abs(p.Y-258) > 1 {
		t.Errorf("Expected y near 258, got %f", p.Y)
	}
	if math.Abs(p.X-399.5) > 1 {
		t.Errorf("Expected x near face centroid 399.5, got %f", p.X)
	}
	if math.Abs(p.Scale-necklaceWidthMM/neckWidthMM) > 1e-6 {
		t.Errorf("Expected scale %f, got %f", necklaceWidthMM/neckWidthMM, p.Scale)
	}
	if p.Confidence <= 0.5 {
		t.Errorf("Expected confidence above the fallback 0.5, got %f", p.Confidence)
	}
	if p.Perspective != types.PerspectiveFront {
		t.Errorf("Expected front perspective for a frontal blob, got %q", p.Perspective)
	}
	if _, ok := p.AnatomyPoints["neck"]; !ok {
		t.Error("Expected a neck anatomy point")
	}
}

func TestHeuristicRingOnFingertip(t *testing.T) {
	body := createTestImage(800, 900, white)
	// Hand with one raised finger
	fillRect(body, 300, 400, 500, 600, skinTone)
	fillRect(body, 380, 300, 420, 400, skinTone)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Ring)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	tip, ok := p.AnatomyPoints["fingertip"]
	if !ok {
		t.Fatal("Expected a fingertip anatomy point")
	}
	if tip.Y != 300 {
		t.Errorf("Expected fingertip at y 300, got %f", tip.Y)
	}
	if tip.X < 380 || tip.X > 420 {
		t.Errorf("Expected fingertip x within the finger, got %f", tip.X)
	}

	// Ring sits below the tip by 15% of the blob height (300)
	if math.Abs(p.Y-345) > 1 {
		t.Errorf("Expected ring y near 345, got %f", p.Y)
	}
	if math.Abs(p.X-tip.X) > 1e-6 {
		t.Errorf("Expected ring x at fingertip column %f, got %f", tip.X, p.X)
	}
	if math.Abs(p.Scale-ringWidthMM/fingerWidthMM) > 1e-6 {
		t.Errorf("Expected scale %f, got %f", ringWidthMM/fingerWidthMM, p.Scale)
	}
}

func TestHeuristicBraceletOppositeFingertip(t *testing.T) {
	body := createTestImage(800, 900, white)
	fillRect(body, 300, 400, 500, 600, skinTone)
	fillRect(body, 380, 300, 420, 400, skinTone)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Bracelet)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// Fingers point up, so the wrist is the blob's bottom edge
	if math.Abs(p.Y-600) > 1 {
		t.Errorf("Expected wrist y near 600, got %f", p.Y)
	}
	if math.Abs(p.X-399.5) > 1 {
		t.Errorf("Expected wrist x near blob centroid, got %f", p.X)
	}
	if _, ok := p.AnatomyPoints["wrist"]; !ok {
		t.Error("Expected a wrist anatomy point")
	}
}

func TestHeuristicEarringsOnLateralEdge(t *testing.T) {
	body := createTestImage(800, 600, white)
	// Face on the left: the inner (right) edge should carry the earring
	fillRect(body, 100, 100, 200, 220, skinTone)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Earrings)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if math.Abs(p.X-200) > 1 {
		t.Errorf("Expected earring x at the inner face edge 200, got %f", p.X)
	}
	// Lobe at 35% of blob height plus a 10% drop
	if math.Abs(p.Y-154) > 1 {
		t.Errorf("Expected earring y near 154, got %f", p.Y)
	}
	ear, ok := p.AnatomyPoints["ear"]
	if !ok {
		t.Fatal("Expected an ear anatomy point")
	}
	if math.Abs(ear.Y-142) > 1 {
		t.Errorf("Expected ear landmark y near 142, got %f", ear.Y)
	}
}

func TestHeuristicIgnoresTinyBlob(t *testing.T) {
	body := createTestImage(400, 400, white)
	fillRect(body, 200, 200, 205, 205, skinTone)

	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), body, types.Necklace)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// A 25-pixel blob is noise, not a face
	if p.X != 200 || math.Abs(p.Y-120) > 1e-6 {
		t.Errorf("Expected static default (200, 120), got (%f, %f)", p.X, p.Y)
	}
	if p.Confidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %f", p.Confidence)
	}
}

func TestHeuristicNilBody(t *testing.T) {
	h := NewHeuristicStrategy(DefaultConfig())
	p, err := h.Estimate(context.Background(), nil, types.Ring)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if p.Confidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %f", p.Confidence)
	}
}

func TestLimbTiltDiagonal(t *testing.T) {
	mask := make([][]bool, 400)
	for i := range mask {
		mask[i] = make([]bool, 400)
	}
	for y := 100; y < 300; y++ {
		for x := y - 50; x < y-30; x++ {
			mask[y][x] = true
		}
	}
	blob := vision.Component{
		Bounds:   image.Rect(50, 100, 269, 300),
		Centroid: image.Point{X: 160, Y: 200},
		Area:     4000,
	}

	h := NewHeuristicStrategy(DefaultConfig())
	tilt := h.limbTilt(mask, blob)

	// Column center moves one pixel per row: a 45 degree lean
	if math.Abs(tilt-45) > 2 {
		t.Errorf("Expected tilt near 45, got %f", tilt)
	}
}

func TestLimbTiltVertical(t *testing.T) {
	mask := make([][]bool, 200)
	for i := range mask {
		mask[i] = make([]bool, 200)
	}
	for y := 50; y < 150; y++ {
		for x := 90; x < 110; x++ {
			mask[y][x] = true
		}
	}
	blob := vision.Component{
		Bounds:   image.Rect(90, 50, 110, 150),
		Centroid: image.Point{X: 99, Y: 99},
		Area:     2000,
	}

	h := NewHeuristicStrategy(DefaultConfig())
	if tilt := h.limbTilt(mask, blob); math.Abs(tilt) > 1e-6 {
		t.Errorf("Expected zero tilt for a vertical limb, got %f", tilt)
	}
}

func TestPerspectiveClassProfileFace(t *testing.T) {
	h := NewHeuristicStrategy(DefaultConfig())
	// Narrow blob: profile view
	narrow := vision.Component{Bounds: image.Rect(100, 100, 150, 250), Centroid: image.Point{X: 124, Y: 174}}
	if got := h.perspectiveClass(types.Necklace, narrow, 0, 800); got != types.PerspectiveSide {
		t.Errorf("Expected side perspective for a narrow face blob, got %q", got)
	}
	// Wide centered blob: frontal view
	wide := vision.Component{Bounds: image.Rect(350, 100, 460, 220), Centroid: image.Point{X: 404, Y: 160}}
	if got := h.perspectiveClass(types.Necklace, wide, 0, 800); got != types.PerspectiveFront {
		t.Errorf("Expected front perspective for a wide centered blob, got %q", got)
	}
}

func TestPerspectiveClassHandTilt(t *testing.T) {
	h := NewHeuristicStrategy(DefaultConfig())
	blob := vision.Component{Bounds: image.Rect(0, 0, 100, 100)}
	if got := h.perspectiveClass(types.Ring, blob, 30, 800); got != types.PerspectiveSide {
		t.Errorf("Expected side perspective for strong tilt, got %q", got)
	}
	if got := h.perspectiveClass(types.Ring, blob, 15, 800); got != types.PerspectiveAngled {
		t.Errorf("Expected angled perspective for moderate tilt, got %q", got)
	}
	if got := h.perspectiveClass(types.Ring, blob, 2, 800); got != types.PerspectiveFront {
		t.Errorf("Expected front perspective for slight tilt, got %q", got)
	}
}

func BenchmarkHeuristicEstimate(b *testing.B) {
	body := createTestImage(1024, 768, white)
	fillRect(body, 400, 100, 600, 350, skinTone)
	h := NewHeuristicStrategy(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := h.Estimate(context.Background(), body, types.Necklace)
		if err != nil {
			b.Fatal(err)
		}
	}
}
