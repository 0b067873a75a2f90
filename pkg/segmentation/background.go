package segmentation

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// removeBackground produces the cleaned jewelry image. When an AI remover is
// configured it is tried first; any failure falls back to the deterministic
// pixel rules so segmentation always returns a usable cutout.
func (s *Segmenter) removeBackground(ctx context.Context, img *image.NRGBA, mask *image.Gray) *image.NRGBA {
	if s.remover != nil {
		cleaned, err := s.remover.RemoveBackground(ctx, img, mask)
		if err == nil && cleaned != nil {
			return cleaned
		}
		s.logger.Warn("background removal service failed, using pixel rules",
			zap.Error(err))
	}
	return s.removeBackgroundDeterministic(img, mask)
}

// removeBackgroundDeterministic clears background pixels by zeroing their
// alpha channel. Near-white pixels are cleared anywhere in the frame; a wider
// set of bright or low-saturation tones is cleared only inside the border
// band, where studio backdrops live. Pixels covered by the jewelry mask are
// never touched, and strong edges are preserved so the cutout keeps its
// silhouette.
func (s *Segmenter) removeBackgroundDeterministic(img *image.NRGBA, mask *image.Gray) *image.NRGBA {
	out := imaging.Clone(img)
	bounds := out.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	edges := vision.SobelMagnitude(vision.Grayscale(img))

	borderX := int(float64(width) * s.config.BorderFraction)
	borderY := int(float64(height) * s.config.BorderFraction)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask.GrayAt(x, y).Y >= s.config.MaskThreshold {
				continue
			}
			if edges[y][x]/255.0 > s.config.EdgeSuppression {
				continue
			}

			idx := y*out.Stride + x*4
			r := out.Pix[idx]
			g := out.Pix[idx+1]
			b := out.Pix[idx+2]

			brightness := (int(r) + int(g) + int(b)) / 3
			spread := int(maxChannel(r, g, b)) - int(minChannel(r, g, b))

			clear := brightness > 240 && spread < 20
			if !clear && (x < borderX || x >= width-borderX || y < borderY || y >= height-borderY) {
				clear = (brightness > 200 && spread < 30) ||
					(brightness > 160 && spread < 12)
			}
			if clear {
				out.Pix[idx+3] = 0
			}
		}
	}

	return out
}

func maxChannel(r, g, b uint8) uint8 {
	m := r
	if g > m {
		m = g
	}
	if b > m {
		m = b
	}
	return m
}

func minChannel(r, g, b uint8) uint8 {
	m := r
	if g < m {
		m = g
	}
	if b < m {
		m = b
	}
	return m
}
