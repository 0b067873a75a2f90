package validation

import (
	"image"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// shapeThreshold binarizes luminance for the silhouette comparison
const shapeThreshold = 128

// histogramSimilarity compares per-channel mean and standard deviation and
// averages the inverted differences across the three color channels
func histogramSimilarity(a, b *image.NRGBA) float64 {
	var total float64
	for ch := 0; ch < 3; ch++ {
		meanA, stdevA := channelStats(a, ch)
		meanB, stdevB := channelStats(b, ch)

		diff := absFloat(meanA-meanB)/255 + absFloat(stdevA-stdevB)/255
		total += clamp01(1 - diff)
	}
	return total / 3
}

// channelStats returns mean and standard deviation of one color channel
func channelStats(img *image.NRGBA, channel int) (float64, float64) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0, 0
	}

	values := make([]float64, 0, width*height)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			values = append(values, float64(row[x*4+channel]))
		}
	}
	return stat.Mean(values, nil), stat.StdDev(values, nil)
}

// structuralSimilarity inverts the greyscale mean squared error, normalized
// against the largest possible MSE of 255 squared
func structuralSimilarity(a, b *image.Gray) float64 {
	width, height := commonSize(a, b)
	if width == 0 || height == 0 {
		return 0
	}

	var sum float64
	for y := 0; y < height; y++ {
		rowA := a.Pix[y*a.Stride:]
		rowB := b.Pix[y*b.Stride:]
		for x := 0; x < width; x++ {
			d := float64(rowA[x]) - float64(rowB[x])
			sum += d * d
		}
	}
	mse := sum / float64(width*height)
	return clamp01(1 - mse/(255*255))
}

// perceptualSimilarity inverts the mean absolute difference between the two
// Laplacian edge maps
func perceptualSimilarity(a, b *image.Gray) float64 {
	lapA := vision.LaplacianMagnitude(a)
	lapB := vision.LaplacianMagnitude(b)
	return clamp01(1 - meanMapDiff(lapA, lapB)/255)
}

// colorDeviation is the average per-channel mean difference as a [0,1] ratio
func colorDeviation(a, b *image.NRGBA) float64 {
	var total float64
	for ch := 0; ch < 3; ch++ {
		meanA, _ := channelStats(a, ch)
		meanB, _ := channelStats(b, ch)
		total += absFloat(meanA-meanB) / 255
	}
	return total / 3
}

// shapeMismatch binarizes both images and returns the fraction of pixels
// whose silhouette membership disagrees
func shapeMismatch(a, b *image.Gray) float64 {
	width, height := commonSize(a, b)
	if width == 0 || height == 0 {
		return 0
	}

	mismatched := 0
	for y := 0; y < height; y++ {
		rowA := a.Pix[y*a.Stride:]
		rowB := b.Pix[y*b.Stride:]
		for x := 0; x < width; x++ {
			if (rowA[x] >= shapeThreshold) != (rowB[x] >= shapeThreshold) {
				mismatched++
			}
		}
	}
	return float64(mismatched) / float64(width*height)
}

// textureDeviation is the mean absolute Sobel magnitude difference as a
// [0,1] ratio
func textureDeviation(a, b *image.Gray) float64 {
	sobelA := vision.SobelMagnitude(a)
	sobelB := vision.SobelMagnitude(b)
	return meanMapDiff(sobelA, sobelB) / 255
}

// sizeDeviation compares frame aspect ratios. Absolute pixel dimensions are
// scale-variant by design, the compositor resizes the jewelry to the body, so
// only the width-over-height shape of the frame is meaningful here.
func sizeDeviation(aWidth, aHeight, bWidth, bHeight int) float64 {
	if aHeight == 0 || bHeight == 0 {
		return 1
	}
	arA := float64(aWidth) / float64(aHeight)
	arB := float64(bWidth) / float64(bHeight)
	if arA == 0 && arB == 0 {
		return 0
	}
	maxAR := arA
	if arB > maxAR {
		maxAR = arB
	}
	if maxAR == 0 {
		return 1
	}
	return absFloat(arA-arB) / maxAR
}

// qualityIssues flags problems visible in the extract alone, independent of
// the original comparison
func qualityIssues(gray *image.Gray, regionWidth, regionHeight int) []string {
	var issues []string

	mean, stdev := grayStats(gray)
	if stdev < blurStdevFloor {
		issues = append(issues, "extracted region appears blurred")
	}
	if mean < darkMeanFloor {
		issues = append(issues, "extracted region too dark")
	}
	if mean > brightMeanCeil {
		issues = append(issues, "extracted region too bright")
	}
	if regionWidth < minRegionSize || regionHeight < minRegionSize {
		issues = append(issues, "extracted region too small")
	}
	return issues
}

// grayStats returns mean and standard deviation of a luminance plane
func grayStats(gray *image.Gray) (float64, float64) {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0, 0
	}

	values := make([]float64, 0, width*height)
	for y := 0; y < height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < width; x++ {
			values = append(values, float64(row[x]))
		}
	}
	return stat.Mean(values, nil), stat.StdDev(values, nil)
}

// meanMapDiff averages the absolute difference between two equally shaped
// magnitude maps
func meanMapDiff(a, b [][]float64) float64 {
	height := len(a)
	if len(b) < height {
		height = len(b)
	}
	if height == 0 {
		return 0
	}

	var sum float64
	count := 0
	for y := 0; y < height; y++ {
		width := len(a[y])
		if len(b[y]) < width {
			width = len(b[y])
		}
		for x := 0; x < width; x++ {
			sum += absFloat(a[y][x] - b[y][x])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// commonSize returns the overlapping dimensions of two luminance planes
func commonSize(a, b *image.Gray) (int, int) {
	width := a.Bounds().Dx()
	if w := b.Bounds().Dx(); w < width {
		width = w
	}
	height := a.Bounds().Dy()
	if h := b.Bounds().Dy(); h < height {
		height = h
	}
	return width, height
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
