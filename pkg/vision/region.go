package vision

import (
	"image"
	"math"
)

// Region represents a rectangular region of interest with a detector confidence
type Region struct {
	X          int
	Y          int
	Width      int
	Height     int
	Confidence float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region in pixels
func (r Region) Area() int {
	return r.Width * r.Height
}

// Bounds returns the region as an image.Rectangle
func (r Region) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Intersects reports whether two regions share any pixels
func (r Region) Intersects(o Region) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// union returns the smallest region containing both a and b
func union(a, b Region) Region {
	x1 := a.X
	if b.X < x1 {
		x1 = b.X
	}
	y1 := a.Y
	if b.Y < y1 {
		y1 = b.Y
	}
	x2 := a.X + a.Width
	if b.X+b.Width > x2 {
		x2 = b.X + b.Width
	}
	y2 := a.Y + a.Height
	if b.Y+b.Height > y2 {
		y2 = b.Y + b.Height
	}
	return Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// CombineRegions merges pairwise-overlapping regions into single bounding
// rectangles with averaged confidence. Merging is a closure operation, so
// running the result through CombineRegions again yields the same set.
func (a *RegionAnalyzer) CombineRegions(regions []Region) []Region {
	if len(regions) == 0 {
		return nil
	}

	used := make([]bool, len(regions))
	var merged []Region

	for i := range regions {
		if used[i] {
			continue
		}
		used[i] = true

		current := regions[i]
		confSum := regions[i].Confidence
		count := 1

		// Keep absorbing overlapping regions until the union stabilizes
		changed := true
		for changed {
			changed = false
			for j := range regions {
				if used[j] {
					continue
				}
				if current.Intersects(regions[j]) {
					current = union(current, regions[j])
					confSum += regions[j].Confidence
					count++
					used[j] = true
					changed = true
				}
			}
		}

		current.Confidence = clamp01(confSum / float64(count))
		merged = append(merged, current)
	}

	return merged
}

// SelectBestRegion scores each candidate by confidence, preferred area ratio
// and closeness to the image center, and returns the best one. With no
// candidates it falls back to a centered square covering 30% of the smaller
// image dimension with confidence 0.1.
func (a *RegionAnalyzer) SelectBestRegion(regions []Region, imageWidth, imageHeight int) Region {
	if len(regions) == 0 {
		side := imageWidth
		if imageHeight < side {
			side = imageHeight
		}
		side = int(float64(side) * 0.3)
		return Region{
			X:          (imageWidth - side) / 2,
			Y:          (imageHeight - side) / 2,
			Width:      side,
			Height:     side,
			Confidence: 0.1,
		}
	}

	imageArea := float64(imageWidth * imageHeight)
	centerX := float64(imageWidth) / 2
	centerY := float64(imageHeight) / 2
	maxDist := math.Sqrt(centerX*centerX + centerY*centerY)

	best := regions[0]
	bestScore := -1.0

	for _, r := range regions {
		score := r.Confidence

		areaRatio := float64(r.Area()) / imageArea
		if areaRatio > 0.05 && areaRatio < 0.4 {
			score += 0.2
		}

		cx, cy := r.Center()
		dx := float64(cx) - centerX
		dy := float64(cy) - centerY
		dist := math.Sqrt(dx*dx + dy*dy)
		score += 0.3 * (1 - dist/maxDist)

		if score > bestScore {
			bestScore = score
			best = r
		}
	}

	return best
}
