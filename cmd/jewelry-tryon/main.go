package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	jewelrytryon "github.com/menta2k/jewelry-tryon"
	"github.com/menta2k/jewelry-tryon/internal/config"
	"github.com/menta2k/jewelry-tryon/internal/utils"
	"github.com/menta2k/jewelry-tryon/pkg/processing"
	"github.com/menta2k/jewelry-tryon/pkg/types"
	"github.com/menta2k/jewelry-tryon/pkg/vision"
)

// report is the JSON summary written next to each composite
type report struct {
	RequestID   string                 `json:"requestId"`
	JewelryType string                 `json:"jewelryType"`
	Jewelry     string                 `json:"jewelry"`
	Body        string                 `json:"body"`
	Output      string                 `json:"output"`
	Placement   types.Placement        `json:"placement"`
	Validation  types.ValidationResult `json:"validation"`
	Enhanced    bool                   `json:"enhanced"`
	Warnings    []string               `json:"warnings,omitempty"`
}

func main() {
	var jewelry, body, bodyDir, out, outDir, jewelryType string
	var configPath, backend, url, model string
	var initConfig, enhance, debug bool
	var tolerance float64
	var offsetX, offsetY int

	flag.StringVar(&jewelry, "jewelry", "", "jewelry product photo path or URL (jpg/png/webp)")
	flag.StringVar(&body, "body", "", "model photo path or URL")
	flag.StringVar(&bodyDir, "body-dir", "", "directory of model photos for batch mode")
	flag.StringVar(&out, "out", "", "output composite path (single mode; default derived from -body)")
	flag.StringVar(&outDir, "outdir", "", "output directory (default from config)")
	flag.StringVar(&jewelryType, "type", "", "jewelry type: ring|necklace|earrings|bracelet")
	flag.StringVar(&configPath, "config", "", "config file path (default ~/.config/jewelry-tryon/config.yaml)")
	flag.StringVar(&backend, "backend", "", "override vision backend: ollama|llamacpp|none")
	flag.StringVar(&url, "url", "", "override vision server URL")
	flag.StringVar(&model, "model", "", "override vision model name")
	flag.BoolVar(&initConfig, "init-config", false, "write the default config file and exit")
	flag.BoolVar(&enhance, "enhance", false, "run the generative enhancement pass")
	flag.BoolVar(&debug, "debug", false, "save placement and segmentation overlays")
	flag.Float64Var(&tolerance, "tolerance", 0, "override validation tolerance (0 = config value)")
	flag.IntVar(&offsetX, "offset-x", 0, "manual horizontal placement nudge in pixels")
	flag.IntVar(&offsetY, "offset-y", 0, "manual vertical placement nudge in pixels")
	flag.Parse()

	if initConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := config.WriteDefault(path); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("wrote %s", path)
		return
	}

	if jewelry == "" || jewelryType == "" || (body == "" && bodyDir == "") {
		log.Fatalf("usage: %s -jewelry ring.jpg -body hand.jpg|-body-dir photos/ -type ring|necklace|earrings|bracelet [-out result.jpg] [-backend ollama|llamacpp|none] [-enhance] [-debug]",
			filepath.Base(os.Args[0]))
	}

	jt, err := types.ParseJewelryType(jewelryType)
	if err != nil {
		log.Fatal(err)
	}

	cfg := loadConfig(configPath)
	applyOverrides(cfg, backend, url, model)

	pipeline, err := jewelrytryon.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	opts := jewelrytryon.TryOnOptions{
		Tolerance: tolerance,
		Offset:    image.Pt(offsetX, offsetY),
		Enhance:   enhance,
	}

	if outDir == "" {
		outDir = cfg.Output.OutputDir
	}

	ctx := context.Background()

	if bodyDir != "" {
		runBatch(ctx, pipeline, cfg, jewelry, bodyDir, outDir, jt, opts, debug)
		return
	}

	if out == "" {
		if err := utils.EnsureDir(outDir); err != nil {
			log.Fatal(err)
		}
		out = utils.OutputFilename(body, outDir, cfg.Output.Prefix, cfg.Output.Suffix, cfg.Output.DefaultFormat)
	}
	if err := runOne(ctx, pipeline, jewelry, body, out, jt, opts, debug); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the given config file, falling back to the default path
// and finally to the built-in defaults
func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		return cfg
	}
	return config.New()
}

// applyOverrides copies non-empty flag values over the loaded configuration
func applyOverrides(cfg *config.Config, backend, url, model string) {
	if backend != "" {
		cfg.Vision.Backend = backend
	}
	if url != "" {
		cfg.Vision.URL = url
	}
	if model != "" {
		cfg.Vision.Model = model
	}
}

// runOne processes one jewelry/body pair: composite, JSON report and optional
// debug overlays
func runOne(ctx context.Context, pipeline *jewelrytryon.Pipeline, jewelry, body, out string, jt types.JewelryType, opts jewelrytryon.TryOnOptions, debug bool) error {
	result, err := pipeline.TryOnFile(ctx, jewelry, body, out, jt, opts)
	if err != nil {
		return err
	}

	log.Printf("wrote %s", out)
	log.Printf("placement=%.0f,%.0f scale=%.2f rotation=%.1f conf=%.2f",
		result.Placement.X, result.Placement.Y, result.Placement.Scale,
		result.Placement.Rotation, result.Placement.Confidence)
	log.Printf("similarity=%.3f valid=%v enhanced=%v",
		result.Validation.Similarity, result.Validation.IsValid, result.Enhanced)
	for _, warning := range result.Warnings {
		log.Printf("warning: %s", warning)
	}

	if debug {
		writeOverlays(result, out)
	}

	return writeReport(result, jewelry, body, out, jt)
}

// runBatch tries the jewelry on every image under bodyDir, continuing past
// individual failures
func runBatch(ctx context.Context, pipeline *jewelrytryon.Pipeline, cfg *config.Config, jewelry, bodyDir, outDir string, jt types.JewelryType, opts jewelrytryon.TryOnOptions, debug bool) {
	bodies, err := utils.ListImageFiles(bodyDir)
	if err != nil {
		log.Fatalf("Failed to list %s: %v", bodyDir, err)
	}
	if len(bodies) == 0 {
		log.Fatalf("No images found in %s", bodyDir)
	}
	if err := utils.EnsureDir(outDir); err != nil {
		log.Fatal(err)
	}

	failures := 0
	for _, bodyPath := range bodies {
		out := utils.OutputFilename(bodyPath, outDir, cfg.Output.Prefix, cfg.Output.Suffix, cfg.Output.DefaultFormat)
		if err := runOne(ctx, pipeline, jewelry, bodyPath, out, jt, opts, debug); err != nil {
			log.Printf("try-on %s failed: %v", bodyPath, err)
			failures++
		}
	}

	log.Printf("batch finished: %d/%d succeeded", len(bodies)-failures, len(bodies))
	if failures > 0 {
		os.Exit(1)
	}
}

// writeOverlays saves a placement crosshair over the composite and the
// detected bounding box over the cleaned jewelry cutout
func writeOverlays(result *jewelrytryon.TryOnResult, out string) {
	processor := processing.NewProcessor()
	base := strings.TrimSuffix(out, filepath.Ext(out))

	overlay := processor.DrawPlacementOverlay(result.Composite, vision.Region{}, result.Placement)
	overlayPath := base + "_placement.png"
	if err := processor.SaveImage(overlay, overlayPath, "png", 92, false); err != nil {
		log.Printf("debug overlay save failed: %v", err)
	} else {
		log.Printf("wrote %s", overlayPath)
	}

	seg := result.Segmentation
	if seg == nil || seg.Cleaned == nil {
		return
	}
	cx, cy := seg.BoundingBox.Center()
	segOverlay := processor.DrawPlacementOverlay(seg.Cleaned, seg.BoundingBox,
		types.Placement{X: float64(cx), Y: float64(cy)})
	segPath := base + "_segmentation.png"
	if err := processor.SaveImage(segOverlay, segPath, "png", 92, false); err != nil {
		log.Printf("debug overlay save failed: %v", err)
	} else {
		log.Printf("wrote %s", segPath)
	}
}

// writeReport saves the JSON try-on summary next to the composite
func writeReport(result *jewelrytryon.TryOnResult, jewelry, body, out string, jt types.JewelryType) error {
	rep := report{
		RequestID:   result.RequestID,
		JewelryType: string(jt),
		Jewelry:     jewelry,
		Body:        body,
		Output:      out,
		Placement:   result.Placement,
		Validation:  result.Validation,
		Enhanced:    result.Enhanced,
		Warnings:    result.Warnings,
	}

	js, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	path := strings.TrimSuffix(out, filepath.Ext(out)) + "_report.json"
	if err := os.WriteFile(path, js, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	log.Printf("wrote %s", path)
	return nil
}
