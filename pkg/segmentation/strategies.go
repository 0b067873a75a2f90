package segmentation

import (
	"image"
	"math"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// maskStrategy produces a binary mask and a confidence for one jewelry type
type maskStrategy struct {
	name string
	run  func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error)
}

var genericStrategy = maskStrategy{
	name: "generic",
	run: func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error) {
		return s.simpleMask(img), 0.60, nil
	},
}

// maskStrategies dispatches jewelry types to their strategy. Unknown types
// fall back to the generic strategy.
var maskStrategies = map[types.JewelryType]maskStrategy{
	types.Ring: {
		name: "ring",
		run: func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error) {
			return s.ringMask(img)
		},
	},
	types.Necklace: {
		name: "necklace",
		run: func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error) {
			return s.necklaceMask(img), 0.88, nil
		},
	},
	types.Earrings: {
		name: "earrings",
		run: func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error) {
			return s.simpleMask(img), 0.75, nil
		},
	},
	types.Bracelet: {
		name: "bracelet",
		run: func(s *Segmenter, img *image.NRGBA) (*image.Gray, float64, error) {
			return s.simpleMask(img), 0.70, nil
		},
	},
}

func (s *Segmenter) strategyFor(jewelryType types.JewelryType) maskStrategy {
	if strategy, ok := maskStrategies[jewelryType]; ok {
		return strategy
	}
	return genericStrategy
}

// ringMask scores every pixel by metallic evidence (0.7) and Laplacian edge
// evidence (0.3), boosted where circular annulus evidence agrees, then closes
// the mask with a disk kernel
func (s *Segmenter) ringMask(img *image.NRGBA) (*image.Gray, float64, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := vision.Grayscale(img)
	metallic := vision.MetallicMask(img)
	laplacian := vision.LaplacianMagnitude(gray)
	annulus := s.circularEvidence(gray, width, height)

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		maskRow := mask.Pix[y*mask.Stride:]
		annulusRow := annulus.Pix[y*annulus.Stride:]
		for x := 0; x < width; x++ {
			score := 0.0
			if metallic[y][x] {
				score += 0.7
			}
			edge := laplacian[y][x] / 255
			if edge > 1 {
				edge = 1
			}
			score += 0.3 * edge
			if annulusRow[x] > 0 {
				score += 0.35
			}
			if score >= 0.5 {
				maskRow[x] = 255
			}
		}
	}

	mask = closeMask(mask, s.config.ClosingRadius)
	confidence := s.ringConfidence(mask, metallic, annulus)

	return mask, confidence, nil
}

// ringConfidence blends coverage fitness (ideal 2-30% of frame), metallic
// overlap, circular-evidence overlap and aspect closeness to 1, floored at 0.5
func (s *Segmenter) ringConfidence(mask *image.Gray, metallic [][]bool, annulus *image.Gray) float64 {
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	maskPixels := 0
	metallicOverlap := 0
	circularOverlap := 0
	for y := 0; y < height; y++ {
		maskRow := mask.Pix[y*mask.Stride:]
		annulusRow := annulus.Pix[y*annulus.Stride:]
		for x := 0; x < width; x++ {
			if maskRow[x] < s.config.MaskThreshold {
				continue
			}
			maskPixels++
			if metallic[y][x] {
				metallicOverlap++
			}
			if annulusRow[x] > 0 {
				circularOverlap++
			}
		}
	}

	if maskPixels == 0 {
		return 0.5
	}

	coverage := float64(maskPixels) / float64(width*height)
	coverageFitness := 1.0
	if coverage < 0.02 {
		coverageFitness = coverage / 0.02
	} else if coverage > 0.30 {
		coverageFitness = 1 - (coverage-0.30)/0.70
		if coverageFitness < 0 {
			coverageFitness = 0
		}
	}

	metallicRatio := float64(metallicOverlap) / float64(maskPixels)
	circularRatio := float64(circularOverlap) / float64(maskPixels)

	box := s.maskBoundingBox(mask)
	aspect := 0.0
	if box.Height > 0 {
		aspect = float64(box.Width) / float64(box.Height)
	}
	aspectCloseness := 1 - math.Abs(1-aspect)
	if aspectCloseness < 0 {
		aspectCloseness = 0
	}

	confidence := 0.35*coverageFitness + 0.25*metallicRatio + 0.25*circularRatio + 0.15*aspectCloseness
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}

// circularEvidence runs Hough circle voting on a decimated copy of the
// luminance plane and rasterizes the found circles as annulus bands at full
// resolution. Voting at full canonical size would be needlessly slow.
func (s *Segmenter) circularEvidence(gray *image.Gray, width, height int) *image.Gray {
	step := 1
	longest := width
	if height > longest {
		longest = height
	}
	for longest/step > 256 {
		step++
	}

	small := decimate(gray, step)
	edges := vision.ThresholdEdges(vision.SobelMagnitude(small), 100)

	sw := small.Bounds().Dx()
	sh := small.Bounds().Dy()
	shorter := sw
	if sh < shorter {
		shorter = sh
	}
	minRadius := shorter / 8
	if minRadius < 5 {
		minRadius = 5
	}
	maxRadius := shorter / 2

	circles := vision.DetectCircles(edges, minRadius, maxRadius)
	if len(circles) == 0 {
		return image.NewGray(image.Rect(0, 0, width, height))
	}

	scaled := make([]vision.Circle, len(circles))
	for i, c := range circles {
		scaled[i] = vision.Circle{
			X:      c.X * step,
			Y:      c.Y * step,
			Radius: c.Radius * step,
			Votes:  c.Votes,
		}
	}

	return vision.AnnulusMask(scaled, width, height, 3*step)
}

// necklaceMask combines a chain-texture score with a pendant-brightness mask,
// pendant weighted higher (0.9 vs 0.6), then closes gaps to connect links
func (s *Segmenter) necklaceMask(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := vision.Grayscale(img)
	chain := chainTextureMask(gray)

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		imgRow := img.Pix[y*img.Stride:]
		maskRow := mask.Pix[y*mask.Stride:]
		for x := 0; x < width; x++ {
			score := 0.0
			if chain[y][x] {
				score += 0.6
			}
			if isPendantPixel(imgRow[x*4], imgRow[x*4+1], imgRow[x*4+2]) {
				score += 0.9
			}
			if score >= 0.5 {
				maskRow[x] = 255
			}
		}
	}

	// Larger closing radius than rings: chain links leave many small gaps
	return closeMask(mask, s.config.ClosingRadius+2)
}

// chainTextureMask flags pixels whose 5x5 neighborhood shows frequent
// brightness alternation with moderate variance, the signature of chain links
func chainTextureMask(gray *image.Gray) [][]bool {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mask := make([][]bool, height)
	for i := range mask {
		mask[i] = make([]bool, width)
	}

	for y := 2; y < height-2; y++ {
		for x := 2; x < width-2; x++ {
			var sum, sumSq float64
			for dy := -2; dy <= 2; dy++ {
				row := gray.Pix[(y+dy)*gray.Stride:]
				for dx := -2; dx <= 2; dx++ {
					v := float64(row[x+dx])
					sum += v
					sumSq += v * v
				}
			}
			mean := sum / 25
			variance := sumSq/25 - mean*mean
			if variance < 0 {
				variance = 0
			}
			stddev := math.Sqrt(variance)
			if stddev < 10 || stddev > 90 {
				continue
			}

			// Count horizontal crossings of the window mean
			transitions := 0
			for dy := -2; dy <= 2; dy++ {
				row := gray.Pix[(y+dy)*gray.Stride:]
				for dx := -2; dx < 2; dx++ {
					a := float64(row[x+dx]) > mean
					b := float64(row[x+dx+1]) > mean
					if a != b {
						transitions++
					}
				}
			}
			mask[y][x] = transitions >= 6
		}
	}

	return mask
}

// isPendantPixel accepts bright, visibly colored pixels; near-white and
// near-gray backgrounds have too little channel spread to qualify
func isPendantPixel(r, g, b uint8) bool {
	brightness := (int(r) + int(g) + int(b)) / 3
	spread := int(maxChannel(r, g, b)) - int(minChannel(r, g, b))
	return brightness > 140 && spread > 25
}

// simpleMask is the earrings/bracelet/generic pipeline: luminance, contrast
// stretch, then flag pixels that differ enough from the border-band
// background estimate
func (s *Segmenter) simpleMask(img *image.NRGBA) *image.Gray {
	gray := vision.Grayscale(img)
	stretched := stretchContrast(gray)

	bounds := stretched.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	background := borderMeanLuma(stretched)

	mask := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		grayRow := stretched.Pix[y*stretched.Stride:]
		maskRow := mask.Pix[y*mask.Stride:]
		for x := 0; x < width; x++ {
			diff := float64(grayRow[x]) - background
			if diff < 0 {
				diff = -diff
			}
			if diff > 40 {
				maskRow[x] = 255
			}
		}
	}

	return mask
}

// stretchContrast maps the luminance range onto the full 0-255 span
func stretchContrast(gray *image.Gray) *image.Gray {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	minV, maxV := uint8(255), uint8(0)
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < width; x++ {
			if row[x] < minV {
				minV = row[x]
			}
			if row[x] > maxV {
				maxV = row[x]
			}
		}
	}

	if maxV <= minV {
		return gray
	}

	span := float64(maxV - minV)
	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < width; x++ {
			outRow[x] = uint8(float64(row[x]-minV) / span * 255)
		}
	}
	return out
}

// borderMeanLuma estimates the background luminance from a band along the
// image borders
func borderMeanLuma(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	band := width / 20
	if h := height / 20; h < band {
		band = h
	}
	if band < 1 {
		band = 1
	}

	var sum float64
	count := 0
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < width; x++ {
			if x >= band && x < width-band && y >= band && y < height-band {
				continue
			}
			sum += float64(row[x])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// decimate samples every step-th pixel of the luminance plane
func decimate(gray *image.Gray, step int) *image.Gray {
	if step <= 1 {
		return gray
	}
	bounds := gray.Bounds()
	width := bounds.Dx() / step
	height := bounds.Dy() / step

	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := gray.Pix[y*step*gray.Stride:]
		outRow := out.Pix[y*out.Stride:]
		for x := 0; x < width; x++ {
			outRow[x] = row[x*step]
		}
	}
	return out
}

// dilate grows set pixels by a disk-shaped kernel
func dilate(mask *image.Gray, radius int) *image.Gray {
	offsets := diskOffsets(radius)
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := mask.Pix[y*mask.Stride:]
		for x := 0; x < width; x++ {
			if row[x] == 0 {
				continue
			}
			for _, off := range offsets {
				nx, ny := x+off.X, y+off.Y
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}
				out.Pix[ny*out.Stride+nx] = 255
			}
		}
	}
	return out
}

// erode keeps only pixels whose whole disk neighborhood is set
func erode(mask *image.Gray, radius int) *image.Gray {
	offsets := diskOffsets(radius)
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			keep := true
			for _, off := range offsets {
				nx, ny := x+off.X, y+off.Y
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					keep = false
					break
				}
				if mask.Pix[ny*mask.Stride+nx] == 0 {
					keep = false
					break
				}
			}
			if keep {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// closeMask fills gaps: dilation followed by erosion with the same kernel
func closeMask(mask *image.Gray, radius int) *image.Gray {
	return erode(dilate(mask, radius), radius)
}

// meanThreshold re-binarizes a mask against the 3x3 neighborhood mean,
// filling pinholes and dropping isolated pixels in one pass
func meanThreshold(mask *image.Gray, threshold uint8) *image.Gray {
	bounds := mask.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum, count int
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				row := mask.Pix[ny*mask.Stride:]
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width {
						continue
					}
					sum += int(row[nx])
					count++
				}
			}
			if count > 0 && sum/count >= int(threshold) {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// diskOffsets returns the coordinate offsets of a disk-shaped kernel
func diskOffsets(radius int) []image.Point {
	if radius < 1 {
		radius = 1
	}
	var offsets []image.Point
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= r2 {
				offsets = append(offsets, image.Point{X: dx, Y: dy})
			}
		}
	}
	return offsets
}
