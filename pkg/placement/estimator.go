package placement

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/jewelry-tryon/pkg/client"
	"github.com/menta2k/jewelry-tryon/pkg/types"
)

// defaultCanvasSize stands in for the canvas dimensions when the body image
// is unusable, so fallback placements still have coordinates
const defaultCanvasSize = 1024

// Strategy computes a placement for one body image. Implementations may
// fail; the Estimator turns failures into the next strategy or a static
// fallback.
type Strategy interface {
	Name() string
	Estimate(ctx context.Context, body image.Image, jewelryType types.JewelryType) (types.Placement, error)
}

// Config holds placement tuning
type Config struct {
	EdgeMargin      float64
	MinScale        float64
	MaxScale        float64
	MaxRotation     float64
	NecklaceBandMin float64
	NecklaceBandMax float64
	MinConfidence   float64
}

// DefaultConfig returns the placement tuning used by the pipeline
func DefaultConfig() Config {
	return Config{
		EdgeMargin:      50,
		MinScale:        0.1,
		MaxScale:        2.0,
		MaxRotation:     45,
		NecklaceBandMin: 0.35,
		NecklaceBandMax: 0.75,
		MinConfidence:   0.1,
	}
}

// Estimator decides where jewelry sits on a body image. Strategies are tried
// in order; a vision-model strategy, when configured, runs before the
// anatomical heuristic.
type Estimator struct {
	config     Config
	strategies []Strategy
	logger     *zap.Logger
}

// New creates an Estimator with default configuration and the heuristic
// strategy only
func New() *Estimator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Estimator with custom configuration
func NewWithConfig(config Config) *Estimator {
	return &Estimator{
		config:     config,
		strategies: []Strategy{NewHeuristicStrategy(config)},
		logger:     zap.NewNop(),
	}
}

// SetVisionClient installs a vision-model strategy that is tried before the
// heuristic. Service failures fall through to the heuristic automatically.
func (e *Estimator) SetVisionClient(vc client.VisionClient, model string) {
	strategy := NewVisionStrategy(vc, model, e.config)
	e.strategies = append([]Strategy{strategy}, e.strategies...)
}

// SetLogger installs a logger for strategy fallthrough warnings
func (e *Estimator) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Estimate computes a placement for the given jewelry type. It never fails:
// strategy errors fall through to the next strategy, and if all strategies
// error the documented static default is returned with confidence 0.5. The
// returned coordinates always stay at least EdgeMargin pixels inside the
// canvas, scale within [MinScale, MaxScale] and rotation within
// ±MaxRotation degrees.
func (e *Estimator) Estimate(ctx context.Context, body image.Image, jewelryType types.JewelryType) types.Placement {
	width, height := canvasSize(body)

	for _, strategy := range e.strategies {
		placement, err := strategy.Estimate(ctx, body, jewelryType)
		if err != nil {
			e.logger.Warn("placement strategy failed, trying next",
				zap.String("strategy", strategy.Name()),
				zap.String("jewelry_type", string(jewelryType)),
				zap.Error(err))
			continue
		}
		return clampToCanvas(placement, e.config, width, height)
	}

	return clampToCanvas(staticDefault(jewelryType, width, height), e.config, width, height)
}

// canvasSize reads the body dimensions, substituting the default canvas for
// nil or degenerate images
func canvasSize(body image.Image) (int, int) {
	if body == nil {
		return defaultCanvasSize, defaultCanvasSize
	}
	bounds := body.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return defaultCanvasSize, defaultCanvasSize
	}
	return width, height
}

// defaultSpot is a placement expressed as canvas fractions
type defaultSpot struct {
	fx    float64
	fy    float64
	scale float64
}

// defaultSpots are the documented static fallback positions per jewelry type
var defaultSpots = map[types.JewelryType]defaultSpot{
	types.Necklace: {fx: 0.50, fy: 0.30, scale: 0.6},
	types.Ring:     {fx: 0.60, fy: 0.60, scale: 0.8},
	types.Earrings: {fx: 0.40, fy: 0.25, scale: 0.7},
	types.Bracelet: {fx: 0.60, fy: 0.70, scale: 0.75},
}

var genericSpot = defaultSpot{fx: 0.50, fy: 0.50, scale: 0.5}

// staticDefault is the deterministic placement used when no strategy can do
// better. Confidence is always 0.5.
func staticDefault(jewelryType types.JewelryType, width, height int) types.Placement {
	spot, ok := defaultSpots[jewelryType]
	if !ok {
		spot = genericSpot
	}
	return types.Placement{
		X:           spot.fx * float64(width),
		Y:           spot.fy * float64(height),
		Scale:       spot.scale,
		Rotation:    0,
		Confidence:  0.5,
		Perspective: types.PerspectiveFront,
	}
}

// clampToCanvas forces a placement into the allowed ranges: coordinates at
// least EdgeMargin inside the canvas, scale, rotation and confidence within
// their documented bounds
func clampToCanvas(p types.Placement, config Config, width, height int) types.Placement {
	p.X = clampAxis(p.X, config.EdgeMargin, float64(width))
	p.Y = clampAxis(p.Y, config.EdgeMargin, float64(height))
	p.Scale = clamp(p.Scale, config.MinScale, config.MaxScale)
	p.Rotation = clamp(p.Rotation, -config.MaxRotation, config.MaxRotation)
	p.Confidence = clamp(p.Confidence, 0, 1)
	return p
}

// clampAxis keeps a coordinate at least margin away from both canvas edges.
// Canvases narrower than twice the margin collapse to their center line.
func clampAxis(v, margin, size float64) float64 {
	if size <= 2*margin {
		return size / 2
	}
	return clamp(v, margin, size-margin)
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
