// Package jewelrytryon provides a virtual jewelry try-on pipeline.
//
// The pipeline takes a jewelry product photo and a model photo, isolates the
// jewelry from its background, estimates where on the body it belongs,
// renders a composite with optional shadows and lighting match, and
// validates that the composite still shows the jewelry faithfully.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		jewelrytryon "github.com/menta2k/jewelry-tryon"
//		"github.com/menta2k/jewelry-tryon/pkg/processing"
//		"github.com/menta2k/jewelry-tryon/pkg/types"
//	)
//
//	func main() {
//		pipeline := jewelrytryon.New()
//		processor := processing.NewProcessor()
//
//		jewelry, err := processor.LoadImage("ring.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//		body, err := processor.LoadImage("hand.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		result, err := pipeline.TryOn(context.Background(), jewelry, body, types.Ring, jewelrytryon.TryOnOptions{})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := processor.SaveImage(result.Composite, "tryon.jpg", "jpg", 90, false); err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("Similarity: %.2f (valid: %v)\n", result.Validation.Similarity, result.Validation.IsValid)
//	}
//
// The pipeline runs five stages:
//
// 1. Segmentation (pkg/segmentation): isolates the jewelry from the product photo
// 2. Placement (pkg/placement): estimates position, scale and rotation on the body
// 3. Composition (pkg/composition): renders the jewelry onto the body image
// 4. Validation (pkg/validation): verifies the composite preserved the jewelry
// 5. Enhancement (optional): polishes the composite through a generative model,
// keeping the result only when re-validation confirms the jewelry is intact
//
// Features:
//
//   - Per-type segmentation and placement strategies for rings, necklaces,
//     earrings and bracelets
//   - Heuristic placement that works fully offline, upgraded by a vision
//     model when one is configured
//   - Drop shadows and scene lighting match for natural-looking composites
//   - Pixel-level validation with a per-deviation report
//   - Pluggable vision backends (Ollama, llama.cpp) behind small interfaces
//
// Every external model is treated as a collaborator that may fail: placement
// falls back to heuristics, background removal falls back to a deterministic
// matte, and a rejected enhancement returns the unenhanced composite with the
// rejection reasons attached as warnings.
package jewelrytryon

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/jewelry-tryon/internal/config"
	"github.com/menta2k/jewelry-tryon/internal/logging"
	"github.com/menta2k/jewelry-tryon/pkg/client"
	"github.com/menta2k/jewelry-tryon/pkg/composition"
	"github.com/menta2k/jewelry-tryon/pkg/llamacpp"
	"github.com/menta2k/jewelry-tryon/pkg/ollama"
	"github.com/menta2k/jewelry-tryon/pkg/placement"
	"github.com/menta2k/jewelry-tryon/pkg/processing"
	"github.com/menta2k/jewelry-tryon/pkg/segmentation"
	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/validation"
)

// Version of the jewelry try-on library
const Version = "1.0.0"

// enhancementPrompt asks a generative model to polish a composite without
// touching the jewelry itself. The validator enforces the rules afterwards.
const enhancementPrompt = `Refine this virtual try-on composite so the jewelry looks naturally worn: soften the jewelry edges into the skin, match the scene lighting and keep the contact shadow subtle.

HARD RULES:
- Do not move, resize, rotate or redraw the jewelry.
- Do not change the jewelry's metal, gems or colors.
- Do not alter the person's face, pose, skin or clothing.
- Return only the edited image.`

// Pipeline wires the try-on stages together behind one high-level interface
type Pipeline struct {
	segmenter  *segmentation.Segmenter
	estimator  *placement.Estimator
	compositor *composition.Compositor
	validator  *validation.Validator
	processor  *processing.Processor

	generator client.ImageGenerator
	checker   client.JewelryChecker

	composeOpts composition.Options
	tolerance   float64
	logger      *zap.Logger
}

// Option customizes a Pipeline built by NewWithConfig
type Option func(*Pipeline)

// WithLogger replaces the pipeline logger and propagates it to every stage
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.SetLogger(logger) }
}

// WithVisionClient injects a vision backend for placement analysis
func WithVisionClient(vc client.VisionClient, model string) Option {
	return func(p *Pipeline) { p.SetVisionClient(vc, model) }
}

// WithGenerator injects a generative backend for composite enhancement
func WithGenerator(g client.ImageGenerator) Option {
	return func(p *Pipeline) { p.SetGenerator(g) }
}

// WithChecker injects a jewelry-presence checker for body photos
func WithChecker(c client.JewelryChecker) Option {
	return func(p *Pipeline) { p.SetChecker(c) }
}

// WithBackgroundRemover injects an AI background remover for segmentation
func WithBackgroundRemover(r client.BackgroundRemover) Option {
	return func(p *Pipeline) { p.SetBackgroundRemover(r) }
}

// New creates a Pipeline with default configuration. It works fully offline:
// placement uses heuristics, segmentation uses the deterministic matte, and
// no enhancement or jewelry checking runs until backends are injected.
func New() *Pipeline {
	return &Pipeline{
		segmenter:  segmentation.New(),
		estimator:  placement.New(),
		compositor: composition.New(),
		validator:  validation.New(),
		processor:  processing.NewProcessor(),
		composeOpts: composition.Options{
			Shadow:        composition.DefaultShadowConfig(),
			MatchLighting: true,
		},
		logger: zap.NewNop(),
	}
}

// NewWithConfig creates a Pipeline from a loaded configuration, building the
// logger and wiring the configured vision backend. Options run last and can
// override anything the configuration set up.
func NewWithConfig(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	segConfig := segmentation.DefaultConfig()
	segConfig.CanonicalSize = cfg.Segmentation.CanonicalSize
	segConfig.MaskThreshold = uint8(cfg.Segmentation.MaskThreshold)

	placeConfig := placement.DefaultConfig()
	placeConfig.EdgeMargin = cfg.Placement.EdgeMargin
	placeConfig.MinScale = cfg.Placement.MinScale
	placeConfig.MaxScale = cfg.Placement.MaxScale
	placeConfig.MaxRotation = cfg.Placement.MaxRotation
	placeConfig.NecklaceBandMin = cfg.Placement.NecklaceBandMin
	placeConfig.NecklaceBandMax = cfg.Placement.NecklaceBandMax

	p := &Pipeline{
		segmenter:  segmentation.NewWithConfig(segConfig),
		estimator:  placement.NewWithConfig(placeConfig),
		compositor: composition.New(),
		validator: validation.NewWithConfig(validation.Config{
			Tolerance:      cfg.Validation.Tolerance,
			ComparisonSize: cfg.Validation.ComparisonSize,
			PaddingRatio:   cfg.Validation.PaddingRatio,
		}),
		processor: processing.NewProcessor(),
		composeOpts: composition.Options{
			MatchLighting: cfg.Composition.MatchLighting,
		},
		tolerance: cfg.Validation.Tolerance,
	}
	if cfg.Composition.ShadowEnabled {
		p.composeOpts.Shadow = composition.DefaultShadowConfig()
	}
	p.SetLogger(logger)

	switch cfg.Vision.Backend {
	case "ollama":
		oc, err := ollama.NewClient(cfg.Vision.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		oc.SetModel(cfg.Vision.Model)
		p.SetVisionClient(oc, cfg.Vision.Model)
		p.SetGenerator(oc)
		p.SetChecker(oc)
	case "llamacpp":
		lc, err := llamacpp.NewClient(cfg.Vision.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		p.SetVisionClient(lc, cfg.Vision.Model)
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetLogger replaces the pipeline logger and propagates it to every stage
func (p *Pipeline) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p.logger = logger
	p.segmenter.SetLogger(logger)
	p.estimator.SetLogger(logger)
	p.compositor.SetLogger(logger)
	p.validator.SetLogger(logger)
}

// SetVisionClient injects a vision backend used for placement analysis
func (p *Pipeline) SetVisionClient(vc client.VisionClient, model string) {
	p.estimator.SetVisionClient(vc, model)
}

// SetGenerator injects the generative backend used by TryOn enhancement
func (p *Pipeline) SetGenerator(g client.ImageGenerator) {
	p.generator = g
}

// SetChecker injects the jewelry-presence checker used on body photos
func (p *Pipeline) SetChecker(c client.JewelryChecker) {
	p.checker = c
}

// SetBackgroundRemover injects an AI background remover for segmentation
func (p *Pipeline) SetBackgroundRemover(r client.BackgroundRemover) {
	p.segmenter.SetBackgroundRemover(r)
}

// TryOnOptions tunes a single try-on request
type TryOnOptions struct {
	// Tolerance overrides the validation tolerance when positive
	Tolerance float64
	// Offset shifts the placement by a manual pixel adjustment
	Offset image.Point
	// Enhance runs the generative polish pass when a generator is configured
	Enhance bool
}

// TryOnResult carries everything one try-on request produced
type TryOnResult struct {
	RequestID    string                 `json:"requestId"`
	Segmentation *segmentation.Result   `json:"-"`
	Placement    types.Placement        `json:"placement"`
	Composite    *image.NRGBA           `json:"-"`
	Validation   types.ValidationResult `json:"validation"`
	Enhanced     bool                   `json:"enhanced"`
	Warnings     []string               `json:"warnings,omitempty"`
}

// Segment isolates the jewelry in a product photo
func (p *Pipeline) Segment(ctx context.Context, photo image.Image, jewelryType types.JewelryType) (*segmentation.Result, error) {
	return p.segmenter.Segment(ctx, photo, jewelryType)
}

// EstimatePlacement estimates where the jewelry belongs on the body image
func (p *Pipeline) EstimatePlacement(ctx context.Context, body image.Image, jewelryType types.JewelryType) types.Placement {
	return p.estimator.Estimate(ctx, body, jewelryType)
}

// Compose renders segmented jewelry onto a body image
func (p *Pipeline) Compose(body image.Image, seg *segmentation.Result, jewelryType types.JewelryType, pl types.Placement, opts composition.Options) *image.NRGBA {
	return p.compositor.Compose(body, seg, jewelryType, pl, opts)
}

// Validate reports how faithfully a composite preserved the jewelry
func (p *Pipeline) Validate(original, composite image.Image, tolerance float64) types.ValidationResult {
	return p.validator.Validate(original, composite, tolerance)
}

// CheckJewelry reports whether a photo already shows jewelry. It requires an
// injected checker backend.
func (p *Pipeline) CheckJewelry(ctx context.Context, img image.Image) (*types.CheckResult, error) {
	if p.checker == nil {
		return nil, fmt.Errorf("no jewelry checker configured")
	}
	return p.checker.CheckJewelry(ctx, img)
}

// TryOn runs the full pipeline: segment the jewelry, estimate its placement,
// render the composite and validate it. With Enhance set and a generator
// configured, the composite additionally goes through a generative polish
// pass that is kept only when re-validation confirms the jewelry survived.
//
// The only hard failures are unusable input images; everything downstream
// degrades into reduced confidence, deviations or warnings on the result.
func (p *Pipeline) TryOn(ctx context.Context, jewelry, body image.Image, jewelryType types.JewelryType, opts TryOnOptions) (*TryOnResult, error) {
	if jewelry == nil || body == nil {
		return nil, fmt.Errorf("jewelry and body images are required")
	}

	requestID := uuid.NewString()
	logger := p.logger.With(zap.String("request_id", requestID))

	logger.Info("try-on started",
		zap.String("jewelry_type", string(jewelryType)),
		zap.Int("jewelry_width", jewelry.Bounds().Dx()),
		zap.Int("jewelry_height", jewelry.Bounds().Dy()),
		zap.Int("body_width", body.Bounds().Dx()),
		zap.Int("body_height", body.Bounds().Dy()))

	seg, err := p.segmenter.Segment(ctx, jewelry, jewelryType)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	logger.Info("jewelry segmented",
		zap.String("strategy", seg.Strategy),
		zap.Float64("confidence", seg.Confidence),
		zap.Int("box_width", seg.BoundingBox.Width),
		zap.Int("box_height", seg.BoundingBox.Height))

	var warnings []string
	if p.checker != nil {
		check, err := p.checker.CheckJewelry(ctx, body)
		switch {
		case err != nil:
			logger.Debug("jewelry check unavailable", zap.Error(err))
		case check.HasJewelry:
			warning := "body photo already shows jewelry"
			if len(check.DetectedItems) > 0 {
				warning += ": " + strings.Join(check.DetectedItems, ", ")
			}
			warnings = append(warnings, warning)
			logger.Warn("body photo already shows jewelry",
				zap.Float64("confidence", check.Confidence),
				zap.Strings("items", check.DetectedItems))
		}
	}

	pl := p.estimator.Estimate(ctx, body, jewelryType)
	logger.Info("placement estimated",
		zap.Float64("x", pl.X),
		zap.Float64("y", pl.Y),
		zap.Float64("scale", pl.Scale),
		zap.Float64("rotation", pl.Rotation),
		zap.Float64("confidence", pl.Confidence))

	composeOpts := p.composeOpts
	composeOpts.Offset = opts.Offset
	composite := p.compositor.Compose(body, seg, jewelryType, pl, composeOpts)
	logger.Info("composite rendered",
		zap.Int("width", composite.Bounds().Dx()),
		zap.Int("height", composite.Bounds().Dy()))

	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = p.tolerance
	}
	reference := imaging.Crop(seg.Cleaned, seg.BoundingBox.Bounds())
	result := p.validator.Validate(reference, composite, tolerance)
	logger.Info("composite validated",
		zap.Float64("similarity", result.Similarity),
		zap.Bool("is_valid", result.IsValid),
		zap.Int("deviations", len(result.Deviations)))

	enhanced := false
	if opts.Enhance && p.generator != nil {
		composite, result, enhanced, warnings = p.enhance(ctx, logger, composite, reference, result, tolerance, warnings)
	} else if opts.Enhance {
		warnings = append(warnings, "enhancement requested but no generator configured")
	}

	logger.Info("try-on finished",
		zap.Bool("enhanced", enhanced),
		zap.Int("warnings", len(warnings)))

	return &TryOnResult{
		RequestID:    requestID,
		Segmentation: seg,
		Placement:    pl,
		Composite:    composite,
		Validation:   result,
		Enhanced:     enhanced,
		Warnings:     warnings,
	}, nil
}

// enhance sends the composite through the generative polish pass. The result
// replaces the composite only when re-validation passes; a failed or rejected
// pass keeps the deterministic composite and reports why.
func (p *Pipeline) enhance(ctx context.Context, logger *zap.Logger, composite *image.NRGBA, reference image.Image, result types.ValidationResult, tolerance float64, warnings []string) (*image.NRGBA, types.ValidationResult, bool, []string) {
	logger.Info("enhancement started")

	generated, err := p.generator.GenerateImage(ctx, client.GenerationRequest{
		Prompt:       enhancementPrompt,
		BaseImage:    composite,
		HighFidelity: true,
	})
	if err != nil {
		logger.Warn("enhancement failed, keeping deterministic composite", zap.Error(err))
		return composite, result, false, append(warnings, fmt.Sprintf("enhancement failed: %v", err))
	}

	enhancedResult := p.validator.Validate(reference, generated, tolerance)
	if !enhancedResult.IsValid {
		logger.Warn("enhancement rejected, keeping deterministic composite",
			zap.Float64("similarity", enhancedResult.Similarity),
			zap.Strings("deviations", enhancedResult.Deviations))
		warnings = append(warnings, "enhancement rejected: jewelry integrity not preserved")
		for _, deviation := range enhancedResult.Deviations {
			warnings = append(warnings, "enhancement: "+deviation)
		}
		return composite, result, false, warnings
	}

	logger.Info("enhancement accepted",
		zap.Float64("similarity", enhancedResult.Similarity))
	return p.processor.ToNRGBA(generated), enhancedResult, true, warnings
}

// TryOnFile loads both images, runs TryOn and saves the composite when an
// output path is given. Sources may be file paths or http(s) URLs.
func (p *Pipeline) TryOnFile(ctx context.Context, jewelryPath, bodyPath, outputPath string, jewelryType types.JewelryType, opts TryOnOptions) (*TryOnResult, error) {
	jewelry, err := p.processor.LoadImageSmart(jewelryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load jewelry image: %w", err)
	}

	body, err := p.processor.LoadImageSmart(bodyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load body image: %w", err)
	}

	result, err := p.TryOn(ctx, jewelry, body, jewelryType, opts)
	if err != nil {
		return nil, err
	}

	if outputPath != "" {
		if err := p.processor.SaveImage(result.Composite, outputPath, formatFromPath(outputPath), 90, false); err != nil {
			return nil, fmt.Errorf("failed to save composite: %w", err)
		}
	}
	return result, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// formatFromPath maps a file extension to an encoder format name
func formatFromPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "png", "webp", "jpeg":
		return ext
	default:
		return "jpg"
	}
}
