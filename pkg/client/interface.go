package client

import (
	"context"
	"image"

	"github.com/menta2k/jewelry-tryon/pkg/types"
)

// VisionClient answers queries about an image. Implementations wrap an
// external vision model and may fail; callers must treat every returned
// value as untrusted until validated.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzePlacement(ctx context.Context, model, prompt, imgB64 string) (*types.PlacementResponse, error)
}

// GenerationRequest describes one generative image-edit call
type GenerationRequest struct {
	Prompt       string
	BaseImage    image.Image // optional image to edit in place
	HighFidelity bool
}

// ImageGenerator produces or edits an image from a prompt
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req GenerationRequest) (image.Image, error)
}

// BackgroundRemover strips the background from a jewelry cutout. The mask
// hints at which pixels belong to the jewelry; implementations may ignore it.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, img *image.NRGBA, mask *image.Gray) (*image.NRGBA, error)
}

// JewelryChecker reports whether a model photo already shows jewelry
type JewelryChecker interface {
	CheckJewelry(ctx context.Context, img image.Image) (*types.CheckResult, error)
}
