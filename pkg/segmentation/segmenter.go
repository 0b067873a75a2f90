package segmentation

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/jewelry-tryon/pkg/client"
	"github.com/menta2k/jewelry-tryon/pkg/processing"
	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// CanonicalSize is the canonical square preprocessing resolution. Jewelry
// photos are fitted inside a CanonicalSize square (never enlarged) before
// masking, so every mask and bounding box is expressed in the coordinates of
// that normalized buffer.
const CanonicalSize = 1024

// Error is the hard failure surface of segmentation: undecodable or
// zero-dimension input. Everything else degrades to a fallback.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("segmentation %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result holds the segmentation products for one jewelry photo. It is
// immutable after creation and owned by the request that produced it.
type Result struct {
	Mask        *image.Gray
	Cleaned     *image.NRGBA
	BoundingBox vision.Region
	Confidence  float64
	Strategy    string
}

// Config holds segmentation tuning
type Config struct {
	CanonicalSize   int
	MaskThreshold   uint8
	SharpenSigma    float64
	ContrastBoost   float64
	ClosingRadius   int
	BorderFraction  float64
	EdgeSuppression float64
}

// DefaultConfig returns the segmentation tuning used by the pipeline
func DefaultConfig() Config {
	return Config{
		CanonicalSize:   CanonicalSize,
		MaskThreshold:   128,
		SharpenSigma:    0.8,
		ContrastBoost:   10,
		ClosingRadius:   3,
		BorderFraction:  0.12,
		EdgeSuppression: 0.25,
	}
}

// Segmenter isolates jewelry from its background, producing a mask, a
// cleaned RGBA cutout and a bounding box
type Segmenter struct {
	config    Config
	analyzer  *vision.RegionAnalyzer
	processor *processing.Processor
	remover   client.BackgroundRemover
	logger    *zap.Logger
}

// New creates a Segmenter with default configuration
func New() *Segmenter {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Segmenter with custom configuration
func NewWithConfig(config Config) *Segmenter {
	if config.CanonicalSize <= 0 {
		config.CanonicalSize = CanonicalSize
	}
	return &Segmenter{
		config:    config,
		analyzer:  vision.New(),
		processor: processing.NewProcessor(),
		logger:    zap.NewNop(),
	}
}

// SetBackgroundRemover installs an AI-backed background removal service.
// Without one, the deterministic pixel-rule remover is used directly.
func (s *Segmenter) SetBackgroundRemover(r client.BackgroundRemover) {
	s.remover = r
}

// SetLogger installs a logger for degradation warnings
func (s *Segmenter) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Segment isolates the jewelry in a product photo. The only hard failure is
// an unusable input image; strategy errors degrade to the generic strategy
// and background-removal service errors degrade to the deterministic remover.
func (s *Segmenter) Segment(ctx context.Context, photo image.Image, jewelryType types.JewelryType) (*Result, error) {
	if photo == nil {
		return nil, &Error{Stage: "decode", Err: fmt.Errorf("nil input image")}
	}
	bounds := photo.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &Error{Stage: "decode", Err: fmt.Errorf("zero-dimension input: %dx%d", bounds.Dx(), bounds.Dy())}
	}

	normalized := s.processor.NormalizeToCanvas(photo, s.config.CanonicalSize)
	prepared := imaging.Sharpen(normalized, s.config.SharpenSigma)
	prepared = imaging.AdjustContrast(prepared, s.config.ContrastBoost)

	strategy := s.strategyFor(jewelryType)
	mask, confidence, err := strategy.run(s, prepared)
	strategyName := strategy.name
	if err != nil {
		s.logger.Warn("mask strategy failed, degrading to generic",
			zap.String("jewelry_type", string(jewelryType)),
			zap.String("strategy", strategy.name),
			zap.Error(err))
		mask, confidence, _ = genericStrategy.run(s, prepared)
		strategyName = genericStrategy.name
	}

	mask = s.refineMask(mask)
	cleaned := s.removeBackground(ctx, prepared, mask)
	box := s.maskBoundingBox(mask)

	return &Result{
		Mask:        mask,
		Cleaned:     cleaned,
		BoundingBox: box,
		Confidence:  clampUnit(confidence),
		Strategy:    strategyName,
	}, nil
}

// refineMask fills pinholes and smooths ragged edges: a one-pixel dilation
// followed by a 3x3 mean re-threshold
func (s *Segmenter) refineMask(mask *image.Gray) *image.Gray {
	dilated := dilate(mask, 1)
	return meanThreshold(dilated, s.config.MaskThreshold)
}

// maskBoundingBox scans for the smallest rectangle containing any pixel above
// the binarization threshold. With an empty mask it returns a centered box
// covering 80% of the image, a documented approximation rather than a guess.
func (s *Segmenter) maskBoundingBox(mask *image.Gray) vision.Region {
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	minX, minY := width, height
	maxX, maxY := -1, -1
	threshold := s.config.MaskThreshold

	for y := 0; y < height; y++ {
		row := mask.Pix[y*mask.Stride:]
		for x := 0; x < width; x++ {
			if row[x] < threshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		w80 := int(float64(width) * 0.8)
		h80 := int(float64(height) * 0.8)
		return vision.Region{
			X:      (width - w80) / 2,
			Y:      (height - h80) / 2,
			Width:  w80,
			Height: h80,
		}
	}

	return vision.Region{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
