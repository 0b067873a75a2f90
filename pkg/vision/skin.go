package vision

import (
	"image"
)

// SkinMask applies a per-pixel skin-tone rule and returns a boolean mask
// indexed as mask[y][x]. The rule accepts warm, moderately saturated tones:
// r>95, g>40, b>20, channel spread >15, r-g>15, with red dominant.
func SkinMask(img *image.NRGBA) [][]bool {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	mask := make([][]bool, height)
	for y := 0; y < height; y++ {
		mask[y] = make([]bool, width)
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := x * 4
			r := int(row[i])
			g := int(row[i+1])
			b := int(row[i+2])

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

			mask[y][x] = r > 95 && g > 40 && b > 20 &&
				maxC-minC > 15 && r-g > 15 && r > g && r > b
		}
	}

	return mask
}

// Component is a connected area of a boolean mask
type Component struct {
	Bounds   image.Rectangle
	Centroid image.Point
	Area     int
}

// LargestComponent flood-fills the mask with 4-connectivity and returns the
// largest connected component. The second return value is false when the
// mask has no set pixels.
func LargestComponent(mask [][]bool) (Component, bool) {
	height := len(mask)
	if height == 0 {
		return Component{}, false
	}
	width := len(mask[0])

	visited := make([][]bool, height)
	for i := range visited {
		visited[i] = make([]bool, width)
	}

	var best Component
	found := false

	for sy := 0; sy < height; sy++ {
		for sx := 0; sx < width; sx++ {
			if !mask[sy][sx] || visited[sy][sx] {
				continue
			}

			// Iterative flood fill, explicit stack
			minX, minY := sx, sy
			maxX, maxY := sx, sy
			var sumX, sumY, area int

			stack := []image.Point{{X: sx, Y: sy}}
			visited[sy][sx] = true

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				area++
				sumX += p.X
				sumY += p.Y
				if p.X < minX {
					minX = p.X
				}
				if p.X > maxX {
					maxX = p.X
				}
				if p.Y < minY {
					minY = p.Y
				}
				if p.Y > maxY {
					maxY = p.Y
				}

				neighbors := [4]image.Point{
					{X: p.X - 1, Y: p.Y},
					{X: p.X + 1, Y: p.Y},
					{X: p.X, Y: p.Y - 1},
					{X: p.X, Y: p.Y + 1},
				}
				for _, n := range neighbors {
					if n.X < 0 || n.X >= width || n.Y < 0 || n.Y >= height {
						continue
					}
					if !mask[n.Y][n.X] || visited[n.Y][n.X] {
						continue
					}
					visited[n.Y][n.X] = true
					stack = append(stack, n)
				}
			}

			if area > best.Area {
				best = Component{
					Bounds:   image.Rect(minX, minY, maxX+1, maxY+1),
					Centroid: image.Point{X: sumX / area, Y: sumY / area},
					Area:     area,
				}
				found = true
			}
		}
	}

	return best, found
}
