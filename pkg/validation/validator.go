package validation

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

const (
	// defaultTolerance applies when the caller passes a non-positive tolerance
	defaultTolerance = 0.02
	// comparisonSize is the square edge both images are normalized to
	comparisonSize = 256
	// paddingRatio widens the located jewelry region before extraction
	paddingRatio = 0.10
	// minRegionSize flags extracted regions too small to judge
	minRegionSize = 32

	histogramWeight  = 0.3
	structuralWeight = 0.4
	perceptualWeight = 0.3

	blurStdevFloor = 20.0
	darkMeanFloor  = 30.0
	brightMeanCeil = 225.0
)

// Config holds tuning for composite integrity validation
type Config struct {
	Tolerance      float64
	ComparisonSize int
	PaddingRatio   float64
}

// DefaultConfig returns the validation tuning used across the pipeline
func DefaultConfig() Config {
	return Config{
		Tolerance:      defaultTolerance,
		ComparisonSize: comparisonSize,
		PaddingRatio:   paddingRatio,
	}
}

// Validator checks that a composite did not corrupt the jewelry's appearance.
// It re-locates the jewelry in the composite, extracts it and compares the
// extract against the original product photo with histogram, structural and
// perceptual metrics.
type Validator struct {
	config   Config
	analyzer *vision.RegionAnalyzer
	logger   *zap.Logger
}

// New creates a Validator with default configuration
func New() *Validator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Validator with custom configuration
func NewWithConfig(config Config) *Validator {
	if config.Tolerance <= 0 {
		config.Tolerance = defaultTolerance
	}
	if config.ComparisonSize <= 0 {
		config.ComparisonSize = comparisonSize
	}
	if config.PaddingRatio < 0 {
		config.PaddingRatio = paddingRatio
	}
	return &Validator{
		config:   config,
		analyzer: vision.New(),
		logger:   zap.NewNop(),
	}
}

// SetAnalyzer installs a custom region analyzer
func (v *Validator) SetAnalyzer(analyzer *vision.RegionAnalyzer) {
	if analyzer != nil {
		v.analyzer = analyzer
	}
}

// SetLogger installs a logger for score reporting and failure capture
func (v *Validator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

// Validate compares the jewelry as it appears in the composite against the
// original product photo. A non-positive tolerance uses the configured
// default. The call never fails outward: internal errors come back as an
// invalid result carrying a "validation error" deviation with similarity 0.
func (v *Validator) Validate(original, composite image.Image, tolerance float64) (result types.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation failed internally", zap.Any("panic", r))
			result = types.ValidationResult{
				Deviations: []string{fmt.Sprintf("validation error: %v", r)},
			}
		}
	}()

	tol := tolerance
	if tol <= 0 {
		tol = v.config.Tolerance
	}

	if original == nil || composite == nil {
		return types.ValidationResult{
			Deviations: []string{"validation error: missing input image"},
		}
	}

	ref := imaging.Clone(original)
	refW, refH := ref.Bounds().Dx(), ref.Bounds().Dy()
	compW := composite.Bounds().Dx()
	compH := composite.Bounds().Dy()
	if refW == 0 || refH == 0 || compW == 0 || compH == 0 {
		return types.ValidationResult{
			Deviations: []string{"validation error: empty input image"},
		}
	}

	extracted, region := v.ExtractJewelryRegion(composite)

	size := v.config.ComparisonSize
	normRef := imaging.Resize(ref, size, size, imaging.Lanczos)
	normExtract := imaging.Resize(extracted, size, size, imaging.Lanczos)

	grayRef := vision.Grayscale(normRef)
	grayExtract := vision.Grayscale(normExtract)

	histogram := histogramSimilarity(normRef, normExtract)
	structural := structuralSimilarity(grayRef, grayExtract)
	perceptual := perceptualSimilarity(grayRef, grayExtract)
	similarity := clamp01(histogramWeight*histogram +
		structuralWeight*structural +
		perceptualWeight*perceptual)

	var deviations []string
	if d := colorDeviation(normRef, normExtract); d > tol {
		deviations = append(deviations,
			fmt.Sprintf("color mismatch: channel means differ by %.1f%%", d*100))
	}
	if d := shapeMismatch(grayRef, grayExtract); d > tol {
		deviations = append(deviations,
			fmt.Sprintf("shape mismatch: %.1f%% of the silhouette differs", d*100))
	}
	if d := textureDeviation(grayRef, grayExtract); d > tol {
		deviations = append(deviations,
			fmt.Sprintf("texture mismatch: edge maps differ by %.1f%%", d*100))
	}
	if d := sizeDeviation(refW, refH, region.Width, region.Height); d > tol {
		deviations = append(deviations,
			fmt.Sprintf("size mismatch: aspect ratio differs by %.1f%%", d*100))
	}
	deviations = append(deviations, qualityIssues(grayExtract, region.Width, region.Height)...)

	result = types.ValidationResult{
		IsValid:    similarity >= 1-tol && len(deviations) == 0,
		Similarity: similarity,
		Deviations: deviations,
	}

	v.logger.Debug("composite validated",
		zap.Float64("similarity", similarity),
		zap.Float64("histogram", histogram),
		zap.Float64("structural", structural),
		zap.Float64("perceptual", perceptual),
		zap.Int("deviations", len(deviations)),
		zap.Bool("valid", result.IsValid))

	return result
}

// ExtractJewelryRegion re-locates the jewelry in a composite with the
// metallic, contrast and color detectors and returns the located area cropped
// out with padding, together with the padded region itself. With no detector
// evidence the selection falls back to a centered crop.
func (v *Validator) ExtractJewelryRegion(composite image.Image) (*image.NRGBA, vision.Region) {
	img := imaging.Clone(composite)
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var candidates []vision.Region
	candidates = append(candidates, v.analyzer.DetectMetallicRegions(img)...)
	candidates = append(candidates, v.analyzer.DetectHighContrastRegions(img)...)
	candidates = append(candidates, v.analyzer.DetectColorRegions(img, nil)...)

	combined := v.analyzer.CombineRegions(candidates)
	best := v.analyzer.SelectBestRegion(combined, width, height)

	padded := padRegion(best, v.config.PaddingRatio, bounds)
	return imaging.Crop(img, padded.Bounds()), padded
}

// padRegion grows the region by the given ratio on every side and clips it to
// the image bounds
func padRegion(r vision.Region, ratio float64, bounds image.Rectangle) vision.Region {
	padX := int(float64(r.Width) * ratio)
	padY := int(float64(r.Height) * ratio)

	rect := image.Rect(r.X-padX, r.Y-padY, r.X+r.Width+padX, r.Y+r.Height+padY).
		Intersect(bounds)

	return vision.Region{
		X:          rect.Min.X,
		Y:          rect.Min.Y,
		Width:      rect.Dx(),
		Height:     rect.Dy(),
		Confidence: r.Confidence,
	}
}
