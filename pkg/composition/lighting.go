package composition

import (
	"image"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"
)

// lightingSampleStep controls how sparsely the body image is sampled when
// estimating lighting
const lightingSampleStep = 8

// lightingStats summarizes the body image's illumination
type lightingStats struct {
	meanLuma    float64
	stdevLuma   float64
	temperature float64 // red over blue channel ratio; >1 is warm light
	shadowDir   int     // +1 shadow falls right, -1 left, 0 even
}

// analyzeLighting samples the body image and derives brightness, contrast,
// color temperature and the dominant light direction. Direction comes from a
// three-band brightness comparison: the shadow falls away from the brighter
// side.
func analyzeLighting(body *image.NRGBA) lightingStats {
	bounds := body.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var lumas []float64
	var sumR, sumB float64
	bandLuma := [3]float64{}
	bandCount := [3]int{}

	for y := 0; y < height; y += lightingSampleStep {
		row := body.Pix[y*body.Stride:]
		for x := 0; x < width; x += lightingSampleStep {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			b := float64(row[x*4+2])
			luma := 0.299*r + 0.587*g + 0.114*b

			lumas = append(lumas, luma)
			sumR += r
			sumB += b

			band := 3 * x / width
			if band > 2 {
				band = 2
			}
			bandLuma[band] += luma
			bandCount[band]++
		}
	}

	if len(lumas) == 0 {
		return lightingStats{meanLuma: 128, stdevLuma: 50, temperature: 1}
	}

	stats := lightingStats{
		meanLuma:    stat.Mean(lumas, nil),
		stdevLuma:   stat.StdDev(lumas, nil),
		temperature: 1,
	}
	if sumB > 0 {
		stats.temperature = sumR / sumB
	}

	left := bandMean(bandLuma[0], bandCount[0])
	right := bandMean(bandLuma[2], bandCount[2])
	// A noticeable side-light pushes the shadow toward the darker side
	switch {
	case left > right*1.08:
		stats.shadowDir = 1
	case right > left*1.08:
		stats.shadowDir = -1
	}

	return stats
}

func bandMean(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Temperature tint references blended toward in Lab space
var (
	warmTint = colorful.Color{R: 1.00, G: 0.85, B: 0.60}
	coolTint = colorful.Color{R: 0.75, G: 0.85, B: 1.00}
)

// matchLighting nudges the jewelry toward the body image's estimated
// brightness, contrast and color temperature. Nudges are deliberately small;
// the jewelry must stay recognizably itself.
func matchLighting(jewelry *image.NRGBA, stats lightingStats) *image.NRGBA {
	brightness := clampRange((stats.meanLuma-128)/8, -20, 20)
	contrast := clampRange((stats.stdevLuma-50)/10, -10, 10)

	out := imaging.AdjustBrightness(jewelry, brightness)
	out = imaging.AdjustContrast(out, contrast)

	tintStrength := clampRange((stats.temperature-1)*0.4, -0.12, 0.12)
	if tintStrength != 0 {
		out = applyTint(out, tintStrength)
	}
	return out
}

// applyTint blends every opaque pixel toward the warm or cool reference in
// Lab space. Strength is signed: positive warms, negative cools.
func applyTint(img *image.NRGBA, strength float64) *image.NRGBA {
	tint := warmTint
	if strength < 0 {
		tint = coolTint
		strength = -strength
	}

	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i+3] == 0 {
			continue
		}
		c := colorful.Color{
			R: float64(out.Pix[i]) / 255,
			G: float64(out.Pix[i+1]) / 255,
			B: float64(out.Pix[i+2]) / 255,
		}
		blended := c.BlendLab(tint, strength).Clamped()
		out.Pix[i] = uint8(blended.R*255 + 0.5)
		out.Pix[i+1] = uint8(blended.G*255 + 0.5)
		out.Pix[i+2] = uint8(blended.B*255 + 0.5)
	}
	return out
}

// buildShadow derives the drop shadow from the rendered jewelry layer: a
// darkened, desaturated, blurred duplicate shifted by the configured offset
func buildShadow(layer *image.NRGBA, cfg *ShadowConfig) *image.NRGBA {
	shadow := imaging.AdjustBrightness(layer, cfg.Darken)
	shadow = imaging.AdjustSaturation(shadow, cfg.Desaturate)
	if cfg.Blur > 0 {
		shadow = imaging.Blur(shadow, cfg.Blur)
	}

	blank := image.NewNRGBA(layer.Bounds())
	return imaging.Paste(blank, shadow, image.Pt(cfg.OffsetX, cfg.OffsetY))
}

// multiplyOver blends the shadow into the canvas in place with a multiply
// blend weighted by the shadow alpha and the configured opacity
func multiplyOver(canvas, shadow *image.NRGBA, opacity float64) {
	opacity = clampRange(opacity, 0, 1)
	if opacity == 0 {
		return
	}

	bounds := canvas.Bounds().Intersect(shadow.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		canvasRow := canvas.Pix[y*canvas.Stride:]
		shadowRow := shadow.Pix[y*shadow.Stride:]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			idx := x * 4
			alpha := float64(shadowRow[idx+3]) / 255 * opacity
			if alpha == 0 {
				continue
			}
			for ch := 0; ch < 3; ch++ {
				base := float64(canvasRow[idx+ch])
				mult := base * float64(shadowRow[idx+ch]) / 255
				canvasRow[idx+ch] = uint8(base*(1-alpha) + mult*alpha + 0.5)
			}
		}
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
