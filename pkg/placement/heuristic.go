package placement

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// Anatomical reference sizes in millimeters. Scale is derived as nominal
// jewelry size over its anatomical reference.
const (
	fingerWidthMM = 18.0
	neckWidthMM   = 120.0
	earHeightMM   = 17.0
	wristWidthMM  = 65.0
)

// Nominal real-world jewelry sizes in millimeters
const (
	ringWidthMM     = 20.0
	necklaceWidthMM = 80.0
	earringHeightMM = 15.0
	braceletWidthMM = 55.0
)

// minBlobFraction is the smallest skin blob, as a fraction of image area,
// treated as a usable anatomical landmark
const minBlobFraction = 0.005

// HeuristicStrategy estimates placement from skin-region anatomy without any
// external service. It never returns an error: when no usable skin blob is
// found it returns the static per-type default with confidence 0.5.
type HeuristicStrategy struct {
	config Config
}

// NewHeuristicStrategy creates the anatomical estimation strategy
func NewHeuristicStrategy(config Config) *HeuristicStrategy {
	return &HeuristicStrategy{config: config}
}

func (h *HeuristicStrategy) Name() string { return "heuristic" }

// anchorRule positions one jewelry type relative to the detected skin blob
type anchorRule func(h *HeuristicStrategy, mask [][]bool, blob vision.Component, width, height int) (types.Point, map[string]types.Point)

// anchorRules dispatches jewelry types to their anatomical anchor rule
var anchorRules = map[types.JewelryType]anchorRule{
	types.Necklace: (*HeuristicStrategy).neckAnchor,
	types.Ring:     (*HeuristicStrategy).ringAnchor,
	types.Earrings: (*HeuristicStrategy).earAnchor,
	types.Bracelet: (*HeuristicStrategy).wristAnchor,
}

// Estimate finds the largest connected skin blob as a proxy for the hand or
// face and applies the jewelry-type anchor rule to it
func (h *HeuristicStrategy) Estimate(ctx context.Context, body image.Image, jewelryType types.JewelryType) (types.Placement, error) {
	if body == nil {
		return staticDefault(jewelryType, defaultCanvasSize, defaultCanvasSize), nil
	}
	bounds := body.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return staticDefault(jewelryType, defaultCanvasSize, defaultCanvasSize), nil
	}

	img := imaging.Clone(body)
	mask := vision.SkinMask(img)
	blob, found := vision.LargestComponent(mask)
	if !found || blob.Area < int(minBlobFraction*float64(width*height)) {
		return staticDefault(jewelryType, width, height), nil
	}

	rule, known := anchorRules[jewelryType]
	if !known {
		return staticDefault(jewelryType, width, height), nil
	}

	anchor, landmarks := rule(h, mask, blob, width, height)
	rotation := h.limbTilt(mask, blob)

	placement := types.Placement{
		X:             anchor.X,
		Y:             anchor.Y,
		Scale:         heuristicScale(jewelryType),
		Rotation:      rotation,
		Confidence:    blobConfidence(blob, width, height),
		Perspective:   h.perspectiveClass(jewelryType, blob, rotation, width),
		AnatomyPoints: landmarks,
	}
	return clampToCanvas(placement, h.config, width, height), nil
}

// neckAnchor assumes the neck sits just below the face blob: the blob's
// bottom edge offset downward by 10% of the remaining image height
func (h *HeuristicStrategy) neckAnchor(mask [][]bool, blob vision.Component, width, height int) (types.Point, map[string]types.Point) {
	faceBottom := float64(blob.Bounds.Max.Y)
	anchor := types.Point{
		X: float64(blob.Centroid.X),
		Y: faceBottom + 0.10*(float64(height)-faceBottom),
	}
	return anchor, map[string]types.Point{"neck": anchor}
}

// ringAnchor finds the fingertip protrusion and drops the ring onto the
// first phalanx below it
func (h *HeuristicStrategy) ringAnchor(mask [][]bool, blob vision.Component, width, height int) (types.Point, map[string]types.Point) {
	tip, found := fingertip(mask, blob, width, height)
	if !found {
		spot := defaultSpots[types.Ring]
		return types.Point{X: spot.fx * float64(width), Y: spot.fy * float64(height)}, nil
	}
	anchor := types.Point{X: tip.X, Y: tip.Y + 0.15*float64(blob.Bounds.Dy())}
	return anchor, map[string]types.Point{"fingertip": tip}
}

// earAnchor places the drop just under the lobe, on the lateral edge of the
// upper third of the face blob. The edge nearer the canvas center line is
// preferred so the earring stays visible.
func (h *HeuristicStrategy) earAnchor(mask [][]bool, blob vision.Component, width, height int) (types.Point, map[string]types.Point) {
	earX := float64(blob.Bounds.Min.X)
	if float64(blob.Centroid.X) < float64(width)/2 {
		earX = float64(blob.Bounds.Max.X)
	}
	ear := types.Point{X: earX, Y: float64(blob.Bounds.Min.Y) + 0.35*float64(blob.Bounds.Dy())}
	anchor := types.Point{X: ear.X, Y: ear.Y + 0.10*float64(blob.Bounds.Dy())}
	return anchor, map[string]types.Point{"ear": ear}
}

// wristAnchor puts the bracelet on the blob edge opposite the fingertip,
// which is where the wrist sits when the blob is a hand
func (h *HeuristicStrategy) wristAnchor(mask [][]bool, blob vision.Component, width, height int) (types.Point, map[string]types.Point) {
	landmarks := map[string]types.Point{}
	wristY := float64(blob.Bounds.Max.Y)
	if tip, found := fingertip(mask, blob, width, height); found {
		landmarks["fingertip"] = tip
		if tip.Y > float64(blob.Centroid.Y) {
			wristY = float64(blob.Bounds.Min.Y)
		}
	}
	wrist := types.Point{X: float64(blob.Centroid.X), Y: wristY}
	landmarks["wrist"] = wrist
	return wrist, landmarks
}

// fingertip scans the columns of the blob's bounding box, expanded by 15% on
// every side, for the topmost skin pixel and returns the highest protrusion
func fingertip(mask [][]bool, blob vision.Component, width, height int) (types.Point, bool) {
	expandX := int(0.15 * float64(blob.Bounds.Dx()))
	expandY := int(0.15 * float64(blob.Bounds.Dy()))
	x0 := maxInt(blob.Bounds.Min.X-expandX, 0)
	x1 := minInt(blob.Bounds.Max.X+expandX, width)
	y0 := maxInt(blob.Bounds.Min.Y-expandY, 0)
	y1 := minInt(blob.Bounds.Max.Y+expandY, height)

	bestX := -1
	bestY := height
	for x := x0; x < x1; x++ {
		for y := y0; y < y1; y++ {
			if !mask[y][x] {
				continue
			}
			if y < bestY {
				bestY = y
				bestX = x
			}
			break
		}
	}
	if bestX < 0 {
		return types.Point{}, false
	}
	return types.Point{X: float64(bestX), Y: float64(bestY)}, true
}

// limbTilt fits a line through the blob's per-row horizontal centers and
// converts its slope to degrees. A straight vertical limb and a round face
// both yield near zero.
func (h *HeuristicStrategy) limbTilt(mask [][]bool, blob vision.Component) float64 {
	var ys, xs []float64
	for y := blob.Bounds.Min.Y; y < blob.Bounds.Max.Y; y++ {
		sum := 0
		count := 0
		for x := blob.Bounds.Min.X; x < blob.Bounds.Max.X; x++ {
			if mask[y][x] {
				sum += x
				count++
			}
		}
		if count > 0 {
			ys = append(ys, float64(y))
			xs = append(xs, float64(sum)/float64(count))
		}
	}
	if len(ys) < 2 {
		return 0
	}

	_, beta := stat.LinearRegression(ys, xs, nil, false)
	if math.IsNaN(beta) {
		return 0
	}
	return clamp(math.Atan(beta)*180/math.Pi, -h.config.MaxRotation, h.config.MaxRotation)
}

// perspectiveClass derives the pose class. Face-worn types read it off the
// blob shape, since profiles are markedly narrower than frontal faces;
// hand-worn types read it off the limb tilt magnitude.
func (h *HeuristicStrategy) perspectiveClass(jewelryType types.JewelryType, blob vision.Component, rotation float64, width int) types.Perspective {
	switch jewelryType {
	case types.Necklace, types.Earrings:
		aspect := 0.0
		if blob.Bounds.Dy() > 0 {
			aspect = float64(blob.Bounds.Dx()) / float64(blob.Bounds.Dy())
		}
		if aspect < 0.55 {
			return types.PerspectiveSide
		}
		offCenter := math.Abs(float64(blob.Centroid.X)-float64(width)/2) / float64(width)
		if aspect < 0.72 || offCenter > 0.20 {
			return types.PerspectiveAngled
		}
		return types.PerspectiveFront
	default:
		tilt := math.Abs(rotation)
		if tilt > 25 {
			return types.PerspectiveSide
		}
		if tilt > 10 {
			return types.PerspectiveAngled
		}
		return types.PerspectiveFront
	}
}

// heuristicScales maps each type to its nominal size over the anatomical
// reference
var heuristicScales = map[types.JewelryType]float64{
	types.Ring:     ringWidthMM / fingerWidthMM,
	types.Necklace: necklaceWidthMM / neckWidthMM,
	types.Earrings: earringHeightMM / earHeightMM,
	types.Bracelet: braceletWidthMM / wristWidthMM,
}

func heuristicScale(jewelryType types.JewelryType) float64 {
	if scale, ok := heuristicScales[jewelryType]; ok {
		return scale
	}
	return genericSpot.scale
}

// blobConfidence grows with the evidence: larger skin blobs anchor placement
// more reliably
func blobConfidence(blob vision.Component, width, height int) float64 {
	areaFraction := float64(blob.Area) / float64(width*height)
	return clamp(0.55+2*areaFraction, 0.55, 0.85)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
