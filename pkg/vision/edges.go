package vision

import (
	"image"
	"math"
)

var (
	sobelX = [3][3]int{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]int{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// Grayscale converts an RGBA buffer to a single luminance plane
func Grayscale(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := x * 4
			lum := 0.299*float64(row[i]) + 0.587*float64(row[i+1]) + 0.114*float64(row[i+2])
			gray.Pix[y*gray.Stride+x] = uint8(lum)
		}
	}
	return gray
}

func toGrayPlane(img *image.NRGBA) *image.Gray {
	return Grayscale(img)
}

// SobelMagnitude convolves the 3x3 Sobel kernels over the luminance plane and
// returns the raw gradient magnitude per pixel. Border pixels are zero.
func SobelMagnitude(gray *image.Gray) [][]float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	magnitude := make([][]float64, height)
	for i := range magnitude {
		magnitude[i] = make([]float64, width)
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			var sumX, sumY int
			for ky := -1; ky <= 1; ky++ {
				row := gray.Pix[(y+ky)*gray.Stride:]
				for kx := -1; kx <= 1; kx++ {
					v := int(row[x+kx])
					sumX += v * sobelX[ky+1][kx+1]
					sumY += v * sobelY[ky+1][kx+1]
				}
			}
			magnitude[y][x] = math.Sqrt(float64(sumX*sumX + sumY*sumY))
		}
	}

	return magnitude
}

// LaplacianMagnitude applies the 4-neighbor Laplacian kernel and returns the
// absolute response per pixel. Border pixels are zero.
func LaplacianMagnitude(gray *image.Gray) [][]float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	magnitude := make([][]float64, height)
	for i := range magnitude {
		magnitude[i] = make([]float64, width)
	}

	for y := 1; y < height-1; y++ {
		rowAbove := gray.Pix[(y-1)*gray.Stride:]
		row := gray.Pix[y*gray.Stride:]
		rowBelow := gray.Pix[(y+1)*gray.Stride:]
		for x := 1; x < width-1; x++ {
			v := 4*int(row[x]) - int(row[x-1]) - int(row[x+1]) - int(rowAbove[x]) - int(rowBelow[x])
			if v < 0 {
				v = -v
			}
			magnitude[y][x] = float64(v)
		}
	}

	return magnitude
}

// EdgeStrength returns the mean Sobel magnitude inside the rectangle,
// normalized to [0,1] by dividing by 255
func EdgeStrength(gray *image.Gray, r image.Rectangle) float64 {
	magnitude := SobelMagnitude(gray)

	bounds := gray.Bounds()
	r = r.Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if r.Empty() {
		return 0
	}

	var sum float64
	count := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += magnitude[y][x]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return clamp01(sum / float64(count) / 255.0)
}

// ThresholdEdges binarizes a magnitude map into an edge mask
func ThresholdEdges(magnitude [][]float64, threshold float64) [][]bool {
	mask := make([][]bool, len(magnitude))
	for y := range magnitude {
		mask[y] = make([]bool, len(magnitude[y]))
		for x := range magnitude[y] {
			mask[y][x] = magnitude[y][x] > threshold
		}
	}
	return mask
}
