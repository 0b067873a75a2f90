package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Placement    PlacementConfig    `mapstructure:"placement"`
	Composition  CompositionConfig  `mapstructure:"composition"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Vision       VisionConfig       `mapstructure:"vision"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Output       OutputConfig       `mapstructure:"output"`
}

// SegmentationConfig holds tuning for jewelry segmentation
type SegmentationConfig struct {
	CanonicalSize int `mapstructure:"canonical_size"`
	MaskThreshold int `mapstructure:"mask_threshold"`
}

// PlacementConfig holds tuning for placement estimation
type PlacementConfig struct {
	EdgeMargin      float64 `mapstructure:"edge_margin"`
	MinScale        float64 `mapstructure:"min_scale"`
	MaxScale        float64 `mapstructure:"max_scale"`
	MaxRotation     float64 `mapstructure:"max_rotation"`
	NecklaceBandMin float64 `mapstructure:"necklace_band_min"`
	NecklaceBandMax float64 `mapstructure:"necklace_band_max"`
}

// CompositionConfig holds rendering options for composites
type CompositionConfig struct {
	ShadowEnabled bool `mapstructure:"shadow_enabled"`
	MatchLighting bool `mapstructure:"match_lighting"`
}

// ValidationConfig holds tuning for composite validation
type ValidationConfig struct {
	Tolerance      float64 `mapstructure:"tolerance"`
	ComparisonSize int     `mapstructure:"comparison_size"`
	PaddingRatio   float64 `mapstructure:"padding_ratio"`
}

// VisionConfig holds the external vision backend settings
type VisionConfig struct {
	Backend        string        `mapstructure:"backend"`
	URL            string        `mapstructure:"url"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig selects the logger construction mode
type LoggingConfig struct {
	Mode string `mapstructure:"mode"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	DefaultFormat string `mapstructure:"default_format"`
	OutputDir     string `mapstructure:"output_dir"`
	Prefix        string `mapstructure:"prefix"`
	Suffix        string `mapstructure:"suffix"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Segmentation: SegmentationConfig{
			CanonicalSize: 1024,
			MaskThreshold: 128,
		},
		Placement: PlacementConfig{
			EdgeMargin:      50,
			MinScale:        0.1,
			MaxScale:        2.0,
			MaxRotation:     45,
			NecklaceBandMin: 0.35,
			NecklaceBandMax: 0.75,
		},
		Composition: CompositionConfig{
			ShadowEnabled: true,
			MatchLighting: true,
		},
		Validation: ValidationConfig{
			Tolerance:      0.02,
			ComparisonSize: 256,
			PaddingRatio:   0.10,
		},
		Vision: VisionConfig{
			Backend:        "ollama",
			URL:            "http://localhost:11434",
			Model:          "openbmb/minicpm-v4.5",
			RequestTimeout: 300 * time.Second,
		},
		Logging: LoggingConfig{
			Mode: "production",
		},
		Output: OutputConfig{
			DefaultFormat: "jpg",
			OutputDir:     "./output",
			Prefix:        "",
			Suffix:        "_tryon",
		},
	}
}

// Load loads configuration from a YAML file, filling unset keys with
// defaults and environment overrides (JEWELRY_TRYON_SECTION_KEY)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("JEWELRY_TRYON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// New loads the configuration from the default path, falling back to
// defaults when no file exists
func New() *Config {
	cfg, err := Load(GetConfigPath())
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("segmentation.canonical_size", d.Segmentation.CanonicalSize)
	v.SetDefault("segmentation.mask_threshold", d.Segmentation.MaskThreshold)

	v.SetDefault("placement.edge_margin", d.Placement.EdgeMargin)
	v.SetDefault("placement.min_scale", d.Placement.MinScale)
	v.SetDefault("placement.max_scale", d.Placement.MaxScale)
	v.SetDefault("placement.max_rotation", d.Placement.MaxRotation)
	v.SetDefault("placement.necklace_band_min", d.Placement.NecklaceBandMin)
	v.SetDefault("placement.necklace_band_max", d.Placement.NecklaceBandMax)

	v.SetDefault("composition.shadow_enabled", d.Composition.ShadowEnabled)
	v.SetDefault("composition.match_lighting", d.Composition.MatchLighting)

	v.SetDefault("validation.tolerance", d.Validation.Tolerance)
	v.SetDefault("validation.comparison_size", d.Validation.ComparisonSize)
	v.SetDefault("validation.padding_ratio", d.Validation.PaddingRatio)

	v.SetDefault("vision.backend", d.Vision.Backend)
	v.SetDefault("vision.url", d.Vision.URL)
	v.SetDefault("vision.model", d.Vision.Model)
	v.SetDefault("vision.request_timeout", d.Vision.RequestTimeout)

	v.SetDefault("logging.mode", d.Logging.Mode)

	v.SetDefault("output.default_format", d.Output.DefaultFormat)
	v.SetDefault("output.output_dir", d.Output.OutputDir)
	v.SetDefault("output.prefix", d.Output.Prefix)
	v.SetDefault("output.suffix", d.Output.Suffix)
}

// WriteDefault writes the default configuration as YAML to the given path,
// creating parent directories as needed
func WriteDefault(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Segmentation.CanonicalSize < 64 {
		return fmt.Errorf("segmentation.canonical_size must be at least 64")
	}

	if c.Segmentation.MaskThreshold < 0 || c.Segmentation.MaskThreshold > 255 {
		return fmt.Errorf("segmentation.mask_threshold must be between 0 and 255")
	}

	if c.Placement.MinScale <= 0 || c.Placement.MinScale >= c.Placement.MaxScale {
		return fmt.Errorf("placement.min_scale must be positive and below placement.max_scale")
	}

	if c.Placement.MaxRotation < 0 || c.Placement.MaxRotation > 90 {
		return fmt.Errorf("placement.max_rotation must be between 0 and 90")
	}

	if c.Placement.NecklaceBandMin < 0 || c.Placement.NecklaceBandMax > 1 ||
		c.Placement.NecklaceBandMin >= c.Placement.NecklaceBandMax {
		return fmt.Errorf("placement.necklace_band_min and necklace_band_max must be an ascending pair within 0 and 1")
	}

	if c.Validation.Tolerance < 0 || c.Validation.Tolerance > 1 {
		return fmt.Errorf("validation.tolerance must be between 0 and 1")
	}

	if c.Validation.ComparisonSize < 16 {
		return fmt.Errorf("validation.comparison_size must be at least 16")
	}

	if c.Validation.PaddingRatio < 0 || c.Validation.PaddingRatio > 1 {
		return fmt.Errorf("validation.padding_ratio must be between 0 and 1")
	}

	switch c.Vision.Backend {
	case "ollama", "llamacpp", "none":
	default:
		return fmt.Errorf("vision.backend must be ollama, llamacpp or none")
	}

	if c.Vision.RequestTimeout <= 0 {
		return fmt.Errorf("vision.request_timeout must be positive")
	}

	switch c.Logging.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("logging.mode must be development or production")
	}

	switch c.Output.DefaultFormat {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.default_format must be jpg, jpeg, png or webp")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "jewelry-tryon", "config.yaml")
}
