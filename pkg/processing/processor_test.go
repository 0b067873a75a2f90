package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// createTestImage creates a test image filled with a solid color
func createTestImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var testGray = color.NRGBA{R: 120, G: 120, B: 120, A: 255}

func TestNewProcessor(t *testing.T) {
	p := NewProcessor()
	if p == nil {
		t.Fatal("Expected non-nil processor")
	}
}

func TestToNRGBA(t *testing.T) {
	p := NewProcessor()

	rgba := image.NewRGBA(image.Rect(0, 0, 10, 10))
	out := p.ToNRGBA(rgba)
	if out.Bounds().Min.X != 0 || out.Bounds().Min.Y != 0 {
		t.Errorf("Expected zero-origin bounds, got %v", out.Bounds())
	}
	if out.Bounds().Dx() != 10 || out.Bounds().Dy() != 10 {
		t.Errorf("Expected 10x10, got %v", out.Bounds())
	}

	// Sub-images keep their offset bounds; the clone must not
	sub := createTestImage(20, 20, testGray).SubImage(image.Rect(5, 5, 15, 15))
	out = p.ToNRGBA(sub)
	if out.Bounds().Min.X != 0 || out.Bounds().Min.Y != 0 {
		t.Errorf("Expected zero-origin bounds for sub-image clone, got %v", out.Bounds())
	}
}

func TestNormalizeToCanvasShrinks(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(2048, 1024, testGray)

	out := p.NormalizeToCanvas(img, 1024)
	if out.Bounds().Dx() != 1024 || out.Bounds().Dy() != 512 {
		t.Errorf("Expected 1024x512, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestNormalizeToCanvasNeverEnlarges(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(400, 300, testGray)

	out := p.NormalizeToCanvas(img, 1024)
	if out.Bounds().Dx() != 400 || out.Bounds().Dy() != 300 {
		t.Errorf("Expected 400x300 unchanged, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestValidateImage(t *testing.T) {
	p := NewProcessor()

	if err := p.ValidateImage(nil, 64); err == nil {
		t.Error("Expected an error for nil image")
	}
	if err := p.ValidateImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)), 64); err == nil {
		t.Error("Expected an error for zero dimensions")
	}
	if err := p.ValidateImage(createTestImage(50, 100, testGray), 64); err == nil {
		t.Error("Expected an error below the minimum size")
	}
	if err := p.ValidateImage(createTestImage(100, 100, testGray), 64); err != nil {
		t.Errorf("Expected valid image, got %v", err)
	}
}

func TestGetImageInfo(t *testing.T) {
	p := NewProcessor()
	info := p.GetImageInfo(createTestImage(800, 600, testGray))

	if info.Width != 800 || info.Height != 600 {
		t.Errorf("Expected 800x600, got %dx%d", info.Width, info.Height)
	}
	if info.Area != 480000 {
		t.Errorf("Expected area 480000, got %d", info.Area)
	}
	if info.AspectRatio < 1.33 || info.AspectRatio > 1.34 {
		t.Errorf("Expected aspect ratio ~1.333, got %f", info.AspectRatio)
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(100, 50, testGray)

	b64, err := p.PrepareImageForModel(img, "png", 0, 90)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("Result is not valid base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Result is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 100 || decoded.Bounds().Dy() != 50 {
		t.Errorf("Expected 100x50 preserved, got %v", decoded.Bounds())
	}
}

func TestPrepareImageForModelResizes(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(100, 50, testGray)

	b64, err := p.PrepareImageForModel(img, "jpg", 50, 90)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("Result is not valid base64: %v", err)
	}
	decoded, err := p.DecodeBytes(data)
	if err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if decoded.Bounds().Dx() != 50 || decoded.Bounds().Dy() != 25 {
		t.Errorf("Expected long side capped to 50, got %v", decoded.Bounds())
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(64, 48, testGray)

	formats := []struct {
		name string
		file string
	}{
		{"png", "test.png"},
		{"jpg", "test.jpg"},
		{"webp", "test.webp"},
	}

	for _, format := range formats {
		path := filepath.Join(dir, format.file)
		if err := p.SaveImage(img, path, format.name, 90, false); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", format.name, err)
		}

		loaded, err := p.LoadImage(path)
		if err != nil {
			t.Fatalf("LoadImage(%s) failed: %v", format.name, err)
		}
		if loaded.Bounds().Dx() != 64 || loaded.Bounds().Dy() != 48 {
			t.Errorf("Format %s: expected 64x48, got %v", format.name, loaded.Bounds())
		}
	}
}

func TestLoadImageMissing(t *testing.T) {
	p := NewProcessor()

	if _, err := p.LoadImage("/nonexistent/image.jpg"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestLoadImageSmartFile(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "smart.png")
	if err := p.SaveImage(createTestImage(30, 30, testGray), path, "png", 90, false); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	img, err := p.LoadImageSmart(path)
	if err != nil {
		t.Fatalf("LoadImageSmart failed: %v", err)
	}
	if img.Bounds().Dx() != 30 {
		t.Errorf("Expected width 30, got %d", img.Bounds().Dx())
	}
}

func TestLoadImageFromURLRejectsScheme(t *testing.T) {
	p := NewProcessor()

	if _, err := p.LoadImageFromURL("ftp://example.com/a.png"); err == nil {
		t.Error("Expected an error for a non-http scheme")
	}
}

func TestDecodeBytes(t *testing.T) {
	p := NewProcessor()

	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(8, 8, testGray)); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	img, err := p.DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", img.Bounds().Dx())
	}

	if _, err := p.DecodeBytes([]byte("not an image")); err == nil {
		t.Error("Expected an error for garbage bytes")
	}
}

func TestDrawPlacementOverlay(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 200, testGray)

	box := vision.Region{X: 40, Y: 40, Width: 80, Height: 80}
	placement := types.Placement{X: 150, Y: 150}

	overlay := p.DrawPlacementOverlay(img, box, placement).(*image.NRGBA)

	if overlay.Bounds().Dx() != 200 || overlay.Bounds().Dy() != 200 {
		t.Errorf("Expected dimensions preserved, got %v", overlay.Bounds())
	}

	// Top edge of the bounding box is green
	if c := overlay.NRGBAAt(50, 40); c.G != 255 || c.R != 0 {
		t.Errorf("Expected green box stroke at (50,40), got %v", c)
	}
	// Placement center is a red crosshair
	if c := overlay.NRGBAAt(150, 150); c.R != 255 || c.G != 0 {
		t.Errorf("Expected red crosshair at (150,150), got %v", c)
	}
	// Original stays untouched
	if c := img.NRGBAAt(50, 40); c != testGray {
		t.Errorf("Expected input unmodified, got %v", c)
	}
}

func BenchmarkNormalizeToCanvas(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(2048, 1536, testGray)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.NormalizeToCanvas(img, 1024)
	}
}

func BenchmarkPrepareImageForModel(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(800, 600, testGray)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.PrepareImageForModel(img, "jpg", 1536, 85)
	}
}
