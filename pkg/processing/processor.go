package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// Processor handles image decoding, encoding and canonical buffer conversion
// for the try-on pipeline. All NRGBA buffers it returns are zero-origin.
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImage reads an image file. Formats registered with image.Decode load
// through imaging.Open; webp files that its decoder rejects get a second
// chance with the chai2010 decoder.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err == nil {
		return img, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".webp") {
		f, ferr := os.Open(path)
		if ferr != nil {
			return nil, ferr
		}
		defer f.Close()
		if img, werr := webp.Decode(f); werr == nil {
			return img, nil
		}
	}

	return nil, fmt.Errorf("load %s: %v", path, err)
}

// LoadImageSmart loads from a file path or, for http(s) sources, a URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// LoadImageFromURL downloads an image. Only http and https sources are
// accepted, and the response must declare an image content type.
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %v", err)
	}
	req.Header.Set("User-Agent", "Jewelry-TryOn/1.0 (+https://github.com/menta2k/jewelry-tryon)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("source is not an image (Content-Type %q)", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image body: %v", err)
	}

	return p.DecodeBytes(data)
}

// DecodeBytes decodes an in-memory image, trying the registered decoders
// first and the chai2010 webp decoder second
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("unrecognized image payload")
}

// ToNRGBA converts any image into a zero-origin NRGBA working buffer. The
// input is never modified.
func (p *Processor) ToNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// NormalizeToCanvas fits the image inside a maxDim square, preserving aspect
// ratio and never enlarging. The result is the canonical working buffer all
// masks and bounding boxes are expressed against.
func (p *Processor) NormalizeToCanvas(img image.Image, maxDim int) *image.NRGBA {
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// ValidateImage checks that an image is usable by the pipeline
func (p *Processor) ValidateImage(img image.Image, minSize int) error {
	if img == nil {
		return fmt.Errorf("nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return fmt.Errorf("image has no pixels: %dx%d", bounds.Dx(), bounds.Dy())
	}
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("image %dx%d is below the %dpx working minimum",
			bounds.Dx(), bounds.Dy(), minSize)
	}
	return nil
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about an image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	return ImageInfo{
		Width:       w,
		Height:      h,
		AspectRatio: float64(w) / float64(h),
		Area:        w * h,
	}
}

// PrepareImageForModel encodes an image as base64 for a vision model,
// capping the long side at maxDim first so payloads stay within what the
// model servers accept
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	img = capLongSide(img, maxDim)

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// capLongSide shrinks an image so its longer side is at most maxDim,
// preserving aspect ratio. Smaller images pass through untouched.
func capLongSide(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// SaveImage writes an image in the given format. webp goes through the
// chai2010 encoder with the lossless switch; png and jpg go through imaging.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// DrawPlacementOverlay renders a debug view: the segmentation bounding box in
// green, the placement center as a red crosshair, and the image center in blue
func (p *Processor) DrawPlacementOverlay(img image.Image, box vision.Region, placement types.Placement) image.Image {
	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	blue := color.NRGBA{0, 170, 255, 255}

	// Marker sizes track the image so overlays stay visible at any scale
	stroke := max(2, min(w, h)*4/1000)
	cross := max(4, min(w, h)/100)

	outlineRect(out, box.Bounds(), green, stroke)

	px := int(placement.X + 0.5)
	py := int(placement.Y + 0.5)
	hline(out, py, px-cross, px+cross, red)
	vline(out, px, py-cross, py+cross, red)

	cx, cy := w/2, h/2
	hline(out, cy, cx-6, cx+6, blue)
	vline(out, cx, cy-6, cy+6, blue)

	return out
}

// outlineRect draws the rectangle border stroke pixels thick, growing inward
func outlineRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		hline(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		hline(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		vline(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		vline(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

// hline paints [x0,x1) on row y, clipped to the image
func hline(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0 = max(x0, b.Min.X)
	x1 = min(x1, b.Max.X)
	if x0 >= x1 {
		return
	}

	i := img.PixOffset(x0, y)
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

// vline paints [y0,y1) on column x, clipped to the image
func vline(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0 = max(y0, b.Min.Y)
	y1 = min(y1, b.Max.Y)
	if y0 >= y1 {
		return
	}

	i := img.PixOffset(x, y0)
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
