package placement

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/jewelry-tryon/pkg/client"
	"github.com/menta2k/jewelry-tryon/pkg/processing"
	"github.com/menta2k/jewelry-tryon/pkg/types"
)

// DefaultVisionModel is the vision model used when none is configured
const DefaultVisionModel = "openbmb/minicpm-v4.5"

// placementPromptTemplate is completed with the jewelry type, canvas
// dimensions, coordinate bounds, per-type anatomy rules and the fallback
// position
const placementPromptTemplate = `You are a jewelry placement assistant for virtual try-on.
Decide where a %s should sit on the person in the image.

Return JSON only:
{
  "position": {"x": 0.0, "y": 0.0},
  "scale": 1.0,
  "rotation": 0.0,
  "confidence": 0.0,
  "perspective": "front",
  "anatomyPoints": {"name": {"x": 0.0, "y": 0.0}},
  "adjustments": {"scaleX": 1.0, "scaleY": 1.0, "skew": 0.0, "opacity": 1.0},
  "reasoning": "short factual sentence"
}

HARD RULES
- position is the jewelry center in pixels on the %dx%d canvas.
- x must satisfy 50 <= x <= %d and y must satisfy 50 <= y <= %d.
- scale must lie in [0.1, 2.0], rotation in [-45, 45] degrees, confidence in [0, 1].
- perspective must be exactly one of "front", "side", "angled".
%s- If you cannot see the person, return position {"x": %d, "y": %d} with confidence 0.1 and reasoning "fallback".
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// promptRules encodes the anatomical policy per jewelry type
var promptRules = map[types.JewelryType]string{
	types.Necklace: `- The necklace center MUST sit on the neck or upper chest: y between 35% and 75% of canvas height, measured from the top.
- Never place a necklace on the face, in the hair or below the chest.
`,
	types.Ring: `- The ring MUST sit on a finger at the base phalanx, never on a fingertip, nail or palm center.
- Prefer the ring finger of the most visible hand.
`,
	types.Earrings: `- The earring MUST hang from an earlobe, never in hair or on the cheek or neck.
- If both ears are visible, pick the better lit one.
`,
	types.Bracelet: `- The bracelet MUST wrap the wrist just below the hand, never mid-forearm or on the palm.
`,
}

// visionFallbacks are the documented default positions used when the service
// answer cannot be parsed. The necklace default differs from the static
// fallback: with a person known to be in frame, mid-neck height is the safer
// guess.
var visionFallbacks = map[types.JewelryType]defaultSpot{
	types.Necklace: {fx: 0.50, fy: 0.55, scale: 0.6},
	types.Ring:     {fx: 0.60, fy: 0.60, scale: 0.8},
	types.Earrings: {fx: 0.40, fy: 0.25, scale: 0.7},
	types.Bracelet: {fx: 0.60, fy: 0.70, scale: 0.75},
}

// fallbackIndicators mark canned answers produced by a client's parse chain
var fallbackIndicators = []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "generic"}

// VisionStrategy asks an external vision model where the jewelry should sit.
// Transport failures surface as errors so the estimator can fall through to
// the heuristic; unparseable answers degrade to the documented per-type
// default position instead.
type VisionStrategy struct {
	client    client.VisionClient
	model     string
	config    Config
	processor *processing.Processor
}

// NewVisionStrategy creates a vision-model placement strategy
func NewVisionStrategy(vc client.VisionClient, model string, config Config) *VisionStrategy {
	if model == "" {
		model = DefaultVisionModel
	}
	return &VisionStrategy{
		client:    vc,
		model:     model,
		config:    config,
		processor: processing.NewProcessor(),
	}
}

func (v *VisionStrategy) Name() string { return "vision" }

// Estimate sends the body image and jewelry type to the vision service and
// validates whatever comes back
func (v *VisionStrategy) Estimate(ctx context.Context, body image.Image, jewelryType types.JewelryType) (types.Placement, error) {
	if v.client == nil {
		return types.Placement{}, fmt.Errorf("no vision client configured")
	}
	if body == nil {
		return types.Placement{}, fmt.Errorf("nil body image")
	}
	bounds := body.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return types.Placement{}, fmt.Errorf("zero-dimension body image: %dx%d", width, height)
	}

	imgB64, err := v.processor.PrepareImageForModel(body, "jpg", 1536, 85)
	if err != nil {
		return types.Placement{}, fmt.Errorf("failed to encode body image: %w", err)
	}

	prompt := buildPlacementPrompt(jewelryType, width, height)
	response, err := v.client.AnalyzePlacement(ctx, v.model, prompt, imgB64)
	if err != nil {
		return types.Placement{}, fmt.Errorf("vision service: %w", err)
	}

	return v.toPlacement(response, jewelryType, width, height), nil
}

// buildPlacementPrompt renders the instruction set for one jewelry type and
// canvas
func buildPlacementPrompt(jewelryType types.JewelryType, width, height int) string {
	spot, ok := visionFallbacks[jewelryType]
	if !ok {
		spot = genericSpot
	}
	return fmt.Sprintf(placementPromptTemplate,
		jewelryType, width, height, width-50, height-50,
		promptRules[jewelryType],
		int(spot.fx*float64(width)), int(spot.fy*float64(height)))
}

// toPlacement validates a service response, applies the necklace band
// correction and clamps every field into range
func (v *VisionStrategy) toPlacement(response *types.PlacementResponse, jewelryType types.JewelryType, width, height int) types.Placement {
	if responseUnusable(response) {
		return clampToCanvas(v.fallbackPlacement(jewelryType, width, height), v.config, width, height)
	}

	placement := types.Placement{
		X:             response.Position.X,
		Y:             response.Position.Y,
		Scale:         response.Scale,
		Rotation:      response.Rotation,
		Confidence:    response.Confidence,
		Perspective:   types.ParsePerspective(response.Perspective),
		AnatomyPoints: response.AnatomyPoints,
		Adjustments:   response.Adjustments,
	}

	if jewelryType == types.Necklace {
		placement = v.correctNecklaceBand(placement, height)
	}

	return clampToCanvas(placement, v.config, width, height)
}

// correctNecklaceBand forces necklace placements into the anatomically
// plausible vertical band. Estimates above the band land on the mid-neck
// line at 55% of canvas height, estimates below it on the chest line at 60%,
// and the confidence pays a fixed 0.3 penalty for being corrected.
func (v *VisionStrategy) correctNecklaceBand(p types.Placement, height int) types.Placement {
	low := v.config.NecklaceBandMin * float64(height)
	high := v.config.NecklaceBandMax * float64(height)

	switch {
	case p.Y < low:
		p.Y = 0.55 * float64(height)
	case p.Y > high:
		p.Y = 0.60 * float64(height)
	default:
		return p
	}

	p.Confidence -= 0.3
	if p.Confidence < v.config.MinConfidence {
		p.Confidence = v.config.MinConfidence
	}
	return p
}

// responseUnusable detects canned parse-chain fallbacks and degenerate
// coordinates. The indicator scan mirrors what the clients write into the
// reasoning field when they could not extract real JSON.
func responseUnusable(response *types.PlacementResponse) bool {
	if response == nil {
		return true
	}
	reasoning := strings.ToLower(response.Reasoning)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(reasoning, indicator) {
			return true
		}
	}
	return response.Position.X == 0 && response.Position.Y == 0
}

// fallbackPlacement is the documented default position for an unparseable
// answer. Confidence is low so callers can decide to warn the user.
func (v *VisionStrategy) fallbackPlacement(jewelryType types.JewelryType, width, height int) types.Placement {
	spot, ok := visionFallbacks[jewelryType]
	if !ok {
		spot = genericSpot
	}
	return types.Placement{
		X:           spot.fx * float64(width),
		Y:           spot.fy * float64(height),
		Scale:       spot.scale,
		Rotation:    0,
		Confidence:  0.3,
		Perspective: types.PerspectiveFront,
	}
}
