package types

import (
	"fmt"
	"strings"
)

// JewelryType identifies the jewelry category a pipeline operation works on.
// The set is closed; every public operation takes it as an explicit argument.
type JewelryType string

const (
	Ring     JewelryType = "ring"
	Necklace JewelryType = "necklace"
	Earrings JewelryType = "earrings"
	Bracelet JewelryType = "bracelet"
)

// Valid reports whether t is one of the known jewelry types
func (t JewelryType) Valid() bool {
	switch t {
	case Ring, Necklace, Earrings, Bracelet:
		return true
	}
	return false
}

// ParseJewelryType converts a user-supplied string into a JewelryType
func ParseJewelryType(s string) (JewelryType, error) {
	t := JewelryType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown jewelry type %q (want ring, necklace, earrings or bracelet)", s)
	}
	return t, nil
}

// Perspective describes the body pose the jewelry is rendered against
type Perspective string

const (
	PerspectiveFront  Perspective = "front"
	PerspectiveSide   Perspective = "side"
	PerspectiveAngled Perspective = "angled"
)

// ParsePerspective converts a model-supplied string into a Perspective.
// Unknown values default to front rather than failing, since perspective only
// tunes rendering.
func ParsePerspective(s string) Perspective {
	switch Perspective(strings.ToLower(strings.TrimSpace(s))) {
	case PerspectiveSide:
		return PerspectiveSide
	case PerspectiveAngled:
		return PerspectiveAngled
	}
	return PerspectiveFront
}

// Point is a pixel coordinate on a body image
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Adjustments holds optional fine-tune transform parameters applied on top of
// the base placement when drawing interactively
type Adjustments struct {
	ScaleX  float64 `json:"scaleX"`
	ScaleY  float64 `json:"scaleY"`
	Skew    float64 `json:"skew"`
	Opacity float64 `json:"opacity"`
}

// Placement describes where and how a jewelry cutout is drawn on a body image.
// X and Y are the pixel coordinates of the jewelry center, Scale a relative
// size factor in [0.1, 2.0], Rotation degrees in [-45, 45]. Values are treated
// as immutable; adjusted placements are new values.
type Placement struct {
	X             float64          `json:"x"`
	Y             float64          `json:"y"`
	Scale         float64          `json:"scale"`
	Rotation      float64          `json:"rotation"`
	Confidence    float64          `json:"confidence"`
	Perspective   Perspective      `json:"perspective,omitempty"`
	AnatomyPoints map[string]Point `json:"anatomyPoints,omitempty"`
	Adjustments   *Adjustments     `json:"adjustments,omitempty"`
}

// PlacementResponse is the raw wire shape a vision model returns for a
// placement query, before any validation or clamping
type PlacementResponse struct {
	Position      Point            `json:"position"`
	Scale         float64          `json:"scale"`
	Rotation      float64          `json:"rotation"`
	Confidence    float64          `json:"confidence"`
	Perspective   string           `json:"perspective"`
	AnatomyPoints map[string]Point `json:"anatomyPoints"`
	Adjustments   *Adjustments     `json:"adjustments"`
	Reasoning     string           `json:"reasoning,omitempty"`
}

// CheckResult is what a jewelry-presence check on a model photo reports
type CheckResult struct {
	HasJewelry    bool     `json:"hasJewelry"`
	Confidence    float64  `json:"confidence"`
	DetectedItems []string `json:"detectedItems"`
}

// ValidationResult reports how faithfully a composite preserved the jewelry.
// Deviations are ordered by check: color, shape, texture, size, then quality
// flags. Recomputed on demand, never persisted.
type ValidationResult struct {
	IsValid    bool     `json:"isValid"`
	Similarity float64  `json:"similarity"`
	Deviations []string `json:"deviations,omitempty"`
}
