package vision

import (
	"image"
)

// RegionAnalyzer provides pixel-block scanning utilities for locating jewelry
// evidence in images: metallic surfaces, strong edges and matching color
// bands. It is stateless apart from its configuration and safe for
// concurrent use.
type RegionAnalyzer struct {
	config DetectionConfig
}

// DetectionConfig holds thresholds and block sizes for the region detectors
type DetectionConfig struct {
	MetallicBlockSize int
	ContrastBlockSize int
	ColorBlockSize    int
	MetallicThreshold float64
	ContrastThreshold float64
	ColorThreshold    float64
}

// DefaultDetectionConfig returns the detector tuning used across the pipeline
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MetallicBlockSize: 32,
		ContrastBlockSize: 24,
		ColorBlockSize:    32,
		MetallicThreshold: 0.4,
		ContrastThreshold: 0.5,
		ColorThreshold:    0.3,
	}
}

// New creates a RegionAnalyzer with default configuration
func New() *RegionAnalyzer {
	return NewWithConfig(DefaultDetectionConfig())
}

// NewWithConfig creates a RegionAnalyzer with custom configuration
func NewWithConfig(config DetectionConfig) *RegionAnalyzer {
	return &RegionAnalyzer{config: config}
}

// blockScoreFunc scores one block of an image, returning a value in [0,1]
type blockScoreFunc func(img *image.NRGBA, x0, y0, x1, y1 int) float64

// scanBlocks slides a block-sized window across the image at half-block
// stride and emits a Region for every block whose score exceeds minScore.
// Blocks extending past the image boundary are skipped, not padded.
func (a *RegionAnalyzer) scanBlocks(img *image.NRGBA, block int, minScore float64, score blockScoreFunc) []Region {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	stride := block / 2
	if stride < 1 {
		stride = 1
	}

	var regions []Region
	for y := 0; y+block <= height; y += stride {
		for x := 0; x+block <= width; x += stride {
			s := clamp01(score(img, x, y, x+block, y+block))
			if s > minScore {
				regions = append(regions, Region{
					X:          x,
					Y:          y,
					Width:      block,
					Height:     block,
					Confidence: s,
				})
			}
		}
	}

	return regions
}

// DetectMetallicRegions finds blocks dominated by metal-looking pixels:
// warm gold channel ordering or bright low-saturation silver tones. Very
// bright near-white pixels are excluded so plain backgrounds do not read
// as metal.
func (a *RegionAnalyzer) DetectMetallicRegions(img *image.NRGBA) []Region {
	return a.scanBlocks(img, a.config.MetallicBlockSize, a.config.MetallicThreshold, metallicScore)
}

func metallicScore(img *image.NRGBA, x0, y0, x1, y1 int) float64 {
	metallic := 0
	total := 0

	for y := y0; y < y1; y++ {
		row := img.Pix[y*img.Stride:]
		for x := x0; x < x1; x++ {
			i := x * 4
			r := int(row[i])
			g := int(row[i+1])
			b := int(row[i+2])

			if isMetallicPixel(r, g, b) {
				metallic++
			}
			total++
		}
	}

	if total == 0 {
		return 0
	}
	return float64(metallic) / float64(total)
}

func isMetallicPixel(r, g, b int) bool {
	maxC := r
	if g > maxC {
		maxC = g
	}
	if b > maxC {
		maxC = b
	}
	minC := r
	if g < minC {
		minC = g
	}
	if b < minC {
		minC = b
	}
	brightness := (r + g + b) / 3

	// Gold: warm ordered channels
	if r > 180 && r > g && g > b && r-b > 40 {
		return true
	}
	// Silver/steel: bright, nearly colorless, but not background white
	if brightness > 150 && brightness <= 225 && maxC-minC < 50 {
		return true
	}
	// Darker polished metal: near-equal mid channels
	if brightness > 140 && brightness <= 225 && maxC-minC < 30 {
		return true
	}
	return false
}

// MetallicMask applies the per-pixel metallic rule across the whole image,
// returning a boolean mask indexed as mask[y][x]
func MetallicMask(img *image.NRGBA) [][]bool {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mask := make([][]bool, height)
	for y := 0; y < height; y++ {
		mask[y] = make([]bool, width)
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := x * 4
			mask[y][x] = isMetallicPixel(int(row[i]), int(row[i+1]), int(row[i+2]))
		}
	}
	return mask
}

// DetectHighContrastRegions finds blocks whose average Sobel edge strength
// exceeds the contrast threshold
func (a *RegionAnalyzer) DetectHighContrastRegions(img *image.NRGBA) []Region {
	gray := toGrayPlane(img)
	magnitude := SobelMagnitude(gray)

	return a.scanBlocks(img, a.config.ContrastBlockSize, a.config.ContrastThreshold,
		func(_ *image.NRGBA, x0, y0, x1, y1 int) float64 {
			var sum float64
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += magnitude[y][x]
					count++
				}
			}
			if count == 0 {
				return 0
			}
			return sum / float64(count) / 255.0
		})
}

// ColorRange is an inclusive per-channel RGB band
type ColorRange struct {
	Name string
	MinR uint8
	MaxR uint8
	MinG uint8
	MaxG uint8
	MinB uint8
	MaxB uint8
}

// Contains reports whether the color falls inside the band
func (c ColorRange) Contains(r, g, b uint8) bool {
	return r >= c.MinR && r <= c.MaxR &&
		g >= c.MinG && g <= c.MaxG &&
		b >= c.MinB && b <= c.MaxB
}

// DefaultJewelryColorRanges returns the material color bands the pipeline
// looks for when no custom ranges are supplied
func DefaultJewelryColorRanges() []ColorRange {
	return []ColorRange{
		{Name: "gold", MinR: 160, MaxR: 255, MinG: 110, MaxG: 215, MinB: 0, MaxB: 130},
		{Name: "silver", MinR: 150, MaxR: 230, MinG: 150, MaxG: 230, MinB: 150, MaxB: 235},
		{Name: "ruby", MinR: 120, MaxR: 255, MinG: 0, MaxG: 90, MinB: 20, MaxB: 110},
		{Name: "sapphire", MinR: 0, MaxR: 100, MinG: 0, MaxG: 110, MinB: 120, MaxB: 255},
		{Name: "emerald", MinR: 0, MaxR: 110, MinG: 110, MaxG: 230, MinB: 40, MaxB: 150},
	}
}

// DetectColorRegions finds blocks where the fraction of pixels falling inside
// any of the supplied color ranges exceeds the color threshold. A nil ranges
// slice uses DefaultJewelryColorRanges.
func (a *RegionAnalyzer) DetectColorRegions(img *image.NRGBA, ranges []ColorRange) []Region {
	if len(ranges) == 0 {
		ranges = DefaultJewelryColorRanges()
	}

	return a.scanBlocks(img, a.config.ColorBlockSize, a.config.ColorThreshold,
		func(img *image.NRGBA, x0, y0, x1, y1 int) float64 {
			matched := 0
			total := 0
			for y := y0; y < y1; y++ {
				row := img.Pix[y*img.Stride:]
				for x := x0; x < x1; x++ {
					i := x * 4
					r, g, b := row[i], row[i+1], row[i+2]
					for _, cr := range ranges {
						if cr.Contains(r, g, b) {
							matched++
							break
						}
					}
					total++
				}
			}
			if total == 0 {
				return 0
			}
			return float64(matched) / float64(total)
		})
}

// clamp01 clamps a score into the [0,1] range
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
