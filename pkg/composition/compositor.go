package composition

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/jewelry-tryon/pkg/segmentation"
	"github.com/menta2k/jewelry-tryon/pkg/types"
)

// ShadowConfig tunes the drop shadow drawn underneath the jewelry
type ShadowConfig struct {
	OffsetX    int
	OffsetY    int
	Blur       float64
	Opacity    float64
	Darken     float64
	Desaturate float64
}

// DefaultShadowConfig returns a soft shadow falling down and to the right
func DefaultShadowConfig() *ShadowConfig {
	return &ShadowConfig{
		OffsetX:    8,
		OffsetY:    12,
		Blur:       6,
		Opacity:    0.5,
		Darken:     -60,
		Desaturate: -80,
	}
}

// Options control one composite beyond the placement itself
type Options struct {
	// Offset is an extra pixel shift from manual dragging
	Offset image.Point
	// Shadow enables a drop shadow when non-nil
	Shadow *ShadowConfig
	// MatchLighting nudges the jewelry toward the body image's brightness,
	// contrast and color temperature, and aligns the shadow with the
	// dominant light direction
	MatchLighting bool
}

// typeFractions sizes and positions one jewelry type relative to the body
// image
type typeFractions struct {
	width    float64
	vertical float64
}

// compositionFractions dispatches jewelry types to their sizing rule
var compositionFractions = map[types.JewelryType]typeFractions{
	types.Necklace: {width: 0.40, vertical: 0.35},
	types.Ring:     {width: 0.15, vertical: 0.60},
	types.Earrings: {width: 0.08, vertical: 0.25},
	types.Bracelet: {width: 0.25, vertical: 0.70},
}

var genericFractions = typeFractions{width: 0.25, vertical: 0.50}

func fractionsFor(jewelryType types.JewelryType) typeFractions {
	if fr, ok := compositionFractions[jewelryType]; ok {
		return fr
	}
	return genericFractions
}

// Compositor draws segmented jewelry onto body images
type Compositor struct {
	logger *zap.Logger
}

// New creates a Compositor
func New() *Compositor {
	return &Compositor{logger: zap.NewNop()}
}

// SetLogger installs a logger for degradation warnings
func (c *Compositor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Compose draws the segmented jewelry onto the body image and returns a new
// buffer; neither input is ever mutated. The jewelry is scaled to a per-type
// fraction of the body width times the placement scale and centered on the
// placement coordinates, falling back to per-type default fractions when a
// coordinate is unset. A zero placement scale draws the cutout at its native
// size. Any internal failure returns a clone of the body unchanged, so a
// broken composite never takes down a preview. A nil body yields nil.
func (c *Compositor) Compose(body image.Image, seg *segmentation.Result, jewelryType types.JewelryType, placement types.Placement, opts Options) (out *image.NRGBA) {
	if body == nil {
		return nil
	}
	canvas := imaging.Clone(body)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("composite failed, returning body unchanged", zap.Any("panic", r))
			out = imaging.Clone(body)
		}
	}()

	bounds := canvas.Bounds()
	bodyW, bodyH := bounds.Dx(), bounds.Dy()
	if bodyW <= 0 || bodyH <= 0 {
		return canvas
	}
	if seg == nil || seg.Cleaned == nil {
		c.logger.Warn("no segmentation result, returning body unchanged")
		return canvas
	}

	cutout := extractCutout(seg)
	if cutout == nil || cutout.Bounds().Dx() == 0 || cutout.Bounds().Dy() == 0 {
		c.logger.Warn("empty jewelry cutout, returning body unchanged")
		return canvas
	}

	fr := fractionsFor(jewelryType)

	if placement.Scale > 0 {
		target := int(math.Round(fr.width * float64(bodyW) * placement.Scale))
		if target < 1 {
			target = 1
		}
		if target != cutout.Bounds().Dx() {
			cutout = imaging.Resize(cutout, target, 0, imaging.Lanczos)
		}
	}

	cx := placement.X
	if cx <= 0 {
		cx = float64(bodyW) / 2
	}
	cy := placement.Y
	if cy <= 0 {
		cy = fr.vertical * float64(bodyH)
	}
	cx += float64(opts.Offset.X)
	cy += float64(opts.Offset.Y)

	var stats lightingStats
	if opts.MatchLighting {
		stats = analyzeLighting(canvas)
		cutout = matchLighting(cutout, stats)
	}

	plan := renderPlan{
		cutout:   cutout,
		cx:       cx,
		cy:       cy,
		rotation: placement.Rotation,
		scaleX:   1,
		scaleY:   1,
		opacity:  1,
	}
	if adj := placement.Adjustments; adj != nil {
		if adj.ScaleX > 0 {
			plan.scaleX = adj.ScaleX
		}
		if adj.ScaleY > 0 {
			plan.scaleY = adj.ScaleY
		}
		plan.skew = adj.Skew
		if adj.Opacity > 0 {
			plan.opacity = adj.Opacity
		}
	}

	if opts.Shadow == nil {
		return renderInto(canvas, plan)
	}

	layer := renderInto(image.NewNRGBA(image.Rect(0, 0, bodyW, bodyH)), plan)

	shadowCfg := *opts.Shadow
	if opts.MatchLighting && stats.shadowDir != 0 {
		magnitude := shadowCfg.OffsetX
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if magnitude == 0 {
			magnitude = DefaultShadowConfig().OffsetX
		}
		shadowCfg.OffsetX = stats.shadowDir * magnitude
	}
	shadow := buildShadow(layer, &shadowCfg)
	multiplyOver(canvas, shadow, shadowCfg.Opacity)

	return imaging.Overlay(canvas, layer, image.Point{}, 1.0)
}

// extractCutout crops the cleaned image to the segmentation bounding box so
// transparent margins do not count toward the target width
func extractCutout(seg *segmentation.Result) *image.NRGBA {
	cleaned := seg.Cleaned
	bounds := cleaned.Bounds()
	box := seg.BoundingBox
	if box.Width <= 0 || box.Height <= 0 {
		return imaging.Clone(cleaned)
	}
	r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(bounds)
	if r.Empty() || r == bounds {
		return imaging.Clone(cleaned)
	}
	return imaging.Crop(cleaned, r)
}

// renderPlan carries one resolved draw: the prepared cutout, its center on
// the canvas and the fine-tune transform factors
type renderPlan struct {
	cutout   *image.NRGBA
	cx, cy   float64
	rotation float64
	scaleX   float64
	scaleY   float64
	skew     float64
	opacity  float64
}

func (p renderPlan) plain() bool {
	return p.rotation == 0 && p.skew == 0 && p.scaleX == 1 && p.scaleY == 1
}

// renderInto draws the plan into dst and returns the result. A plain draw is
// a centered alpha-over; anything with rotation, skew or per-axis scale goes
// through the affine transform stack.
func renderInto(dst *image.NRGBA, plan renderPlan) *image.NRGBA {
	w := plan.cutout.Bounds().Dx()
	h := plan.cutout.Bounds().Dy()

	if plan.plain() {
		pos := image.Pt(
			int(math.Round(plan.cx-float64(w)/2)),
			int(math.Round(plan.cy-float64(h)/2)),
		)
		// Keep the top-left corner on the canvas
		if pos.X < 0 {
			pos.X = 0
		}
		if pos.Y < 0 {
			pos.Y = 0
		}
		return imaging.Overlay(dst, plan.cutout, pos, plan.opacity)
	}

	src := plan.cutout
	if plan.opacity < 1 {
		src = fadeAlpha(src, plan.opacity)
	}
	m := affineMatrix(plan, float64(w), float64(h))
	xdraw.BiLinear.Transform(dst, m, src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// affineMatrix maps source pixels onto the canvas: center the source, apply
// the per-axis scale, shear, rotate and translate to the placement center
func affineMatrix(plan renderPlan, w, h float64) f64.Aff3 {
	rad := plan.rotation * math.Pi / 180
	cos := math.Cos(rad)
	sin := math.Sin(rad)
	k := math.Tan(plan.skew * math.Pi / 180)
	sx := plan.scaleX
	sy := plan.scaleY

	halfX := sx*w/2 + k*sy*h/2
	halfY := sy * h / 2

	return f64.Aff3{
		cos * sx, sy * (cos*k - sin), plan.cx - cos*halfX + sin*halfY,
		sin * sx, sy * (sin*k + cos), plan.cy - sin*halfX - cos*halfY,
	}
}

// fadeAlpha returns a copy with every alpha value scaled by opacity
func fadeAlpha(img *image.NRGBA, opacity float64) *image.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(math.Round(float64(out.Pix[i]) * opacity))
	}
	return out
}
