package vision

import (
	"image"
	"math"
)

// Circle is a circle candidate produced by Hough voting
type Circle struct {
	X      int
	Y      int
	Radius int
	Votes  int
}

const (
	houghRadiusStep   = 2
	houghAngleStep    = 15
	houghVoteMinimum  = 12
	houghMaxCandidate = 8
)

// DetectCircles runs a Hough-style voting pass over an edge mask. Every edge
// pixel votes for putative centers along each candidate radius at 15 degree
// steps; centers collecting at least 12 votes become candidates. The top
// candidates by vote count are kept after close-center deduplication.
func DetectCircles(edges [][]bool, minRadius, maxRadius int) []Circle {
	height := len(edges)
	if height == 0 || minRadius < 1 || maxRadius < minRadius {
		return nil
	}
	width := len(edges[0])

	var candidates []Circle

	for radius := minRadius; radius <= maxRadius; radius += houghRadiusStep {
		acc := make([][]int, height)
		for i := range acc {
			acc[i] = make([]int, width)
		}

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !edges[y][x] {
					continue
				}
				for angle := 0; angle < 360; angle += houghAngleStep {
					rad := float64(angle) * math.Pi / 180
					cx := x - int(float64(radius)*math.Cos(rad))
					cy := y - int(float64(radius)*math.Sin(rad))
					if cx < 0 || cx >= width || cy < 0 || cy >= height {
						continue
					}
					acc[cy][cx]++
				}
			}
		}

		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				votes := acc[y][x]
				if votes < houghVoteMinimum {
					continue
				}
				if !isLocalMaximum(acc, x, y, 2) {
					continue
				}
				candidates = append(candidates, Circle{X: x, Y: y, Radius: radius, Votes: votes})
			}
		}
	}

	// Sort by votes (descending)
	for i := 0; i < len(candidates)-1; i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].Votes < candidates[j].Votes {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	minSeparation := minRadius
	if minSeparation < 10 {
		minSeparation = 10
	}

	var circles []Circle
	for _, c := range candidates {
		duplicate := false
		for _, kept := range circles {
			dx := float64(c.X - kept.X)
			dy := float64(c.Y - kept.Y)
			if math.Sqrt(dx*dx+dy*dy) < float64(minSeparation) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			circles = append(circles, c)
		}
		if len(circles) >= houghMaxCandidate {
			break
		}
	}

	return circles
}

func isLocalMaximum(acc [][]int, x, y, window int) bool {
	height := len(acc)
	width := len(acc[0])
	v := acc[y][x]

	for dy := -window; dy <= window; dy++ {
		for dx := -window; dx <= window; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= width || ny < 0 || ny >= height {
				continue
			}
			if acc[ny][nx] > v {
				return false
			}
		}
	}
	return true
}

// AnnulusMask rasterizes ring-shaped bands around the detected circles into a
// single-channel mask. Pixels within thickness of a circle's radius are 255.
func AnnulusMask(circles []Circle, width, height, thickness int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, width, height))
	if thickness < 1 {
		thickness = 1
	}

	for _, c := range circles {
		outer := c.Radius + thickness
		x0 := c.X - outer
		if x0 < 0 {
			x0 = 0
		}
		y0 := c.Y - outer
		if y0 < 0 {
			y0 = 0
		}
		x1 := c.X + outer
		if x1 >= width {
			x1 = width - 1
		}
		y1 := c.Y + outer
		if y1 >= height {
			y1 = height - 1
		}

		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx := float64(x - c.X)
				dy := float64(y - c.Y)
				dist := math.Sqrt(dx*dx + dy*dy)
				if math.Abs(dist-float64(c.Radius)) <= float64(thickness) {
					mask.Pix[y*mask.Stride+x] = 255
				}
			}
		}
	}

	return mask
}
