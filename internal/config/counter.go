package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical counter defaults file.
// This is the single source of truth for all default counting values.
const DefaultConfigPath = "config/counter.defaults.json"

// CounterConfig represents the root configuration for a counting session.
// The schema matches the /api/config endpoint so the same document can be
// used for both startup configuration and inspection at runtime.
//
// Every field is optional. Nil fields fall back to the defaults returned by
// the Get* accessors, so partial configs are safe.
type CounterConfig struct {
	// Detection
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	DetectorEndpoint    *string  `json:"detector_endpoint,omitempty" yaml:"detector_endpoint,omitempty" validate:"omitempty,url"`
	DetectorTimeout     *string  `json:"detector_timeout,omitempty" yaml:"detector_timeout,omitempty"` // duration string like "15s"

	// Counting line. Nil means 50% of the first frame height.
	LineY *int `json:"line_y,omitempty" yaml:"line_y,omitempty" validate:"omitempty,gte=0"`

	// Frame skipping
	SkipFrames           *int     `json:"skip_frames,omitempty" yaml:"skip_frames,omitempty" validate:"omitempty,gte=0"`
	StaticSceneThreshold *float64 `json:"static_scene_threshold,omitempty" yaml:"static_scene_threshold,omitempty" validate:"omitempty,gte=0,lte=255"`

	// Overlays
	HeatmapEnabled *bool `json:"heatmap_enabled,omitempty" yaml:"heatmap_enabled,omitempty"`
	TrailsEnabled  *bool `json:"trails_enabled,omitempty" yaml:"trails_enabled,omitempty"`

	// Heatmap params
	HeatmapDecay          *float64 `json:"heatmap_decay,omitempty" yaml:"heatmap_decay,omitempty" validate:"omitempty,gt=0,lte=1"`
	HeatmapUpdateInterval *int     `json:"heatmap_update_interval,omitempty" yaml:"heatmap_update_interval,omitempty" validate:"omitempty,gte=1"`
	HeatmapSigma          *float64 `json:"heatmap_sigma,omitempty" yaml:"heatmap_sigma,omitempty" validate:"omitempty,gt=0"`
	HeatmapWeight         *float64 `json:"heatmap_weight,omitempty" yaml:"heatmap_weight,omitempty" validate:"omitempty,gt=0"`

	// History and statistics windows
	HistoryCapacity   *int `json:"history_capacity,omitempty" yaml:"history_capacity,omitempty" validate:"omitempty,gte=2"`
	TrackExpiryFrames *int `json:"track_expiry_frames,omitempty" yaml:"track_expiry_frames,omitempty" validate:"omitempty,gte=0"`
	FPSWindow         *int `json:"fps_window,omitempty" yaml:"fps_window,omitempty" validate:"omitempty,gte=1"`

	// Capture and batch reporting
	QueueCapacity    *int `json:"queue_capacity,omitempty" yaml:"queue_capacity,omitempty" validate:"omitempty,gte=1"`
	ProgressInterval *int `json:"progress_interval,omitempty" yaml:"progress_interval,omitempty" validate:"omitempty,gte=1"`

	// Tracker params
	HitsToConfirm  *int     `json:"hits_to_confirm,omitempty" yaml:"hits_to_confirm,omitempty" validate:"omitempty,gte=1"`
	MaxAge         *int     `json:"max_age,omitempty" yaml:"max_age,omitempty" validate:"omitempty,gte=1"`
	MaxIoUDistance *float64 `json:"max_iou_distance,omitempty" yaml:"max_iou_distance,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var validate = validator.New(validator.WithRequiredStructEnabled())

// EmptyCounterConfig returns a CounterConfig with all fields set to nil.
func EmptyCounterConfig() *CounterConfig {
	return &CounterConfig{}
}

// DefaultCounterConfig returns a config with every field populated from the
// built-in defaults. Useful when a binary runs without a config file.
func DefaultCounterConfig() *CounterConfig {
	c := EmptyCounterConfig()
	return &CounterConfig{
		ConfidenceThreshold:   ptrFloat64(c.GetConfidenceThreshold()),
		DetectorEndpoint:      ptrString(c.GetDetectorEndpoint()),
		DetectorTimeout:       ptrString(c.GetDetectorTimeout().String()),
		SkipFrames:            ptrInt(c.GetSkipFrames()),
		StaticSceneThreshold:  ptrFloat64(c.GetStaticSceneThreshold()),
		HeatmapEnabled:        ptrBool(c.GetHeatmapEnabled()),
		TrailsEnabled:         ptrBool(c.GetTrailsEnabled()),
		HeatmapDecay:          ptrFloat64(c.GetHeatmapDecay()),
		HeatmapUpdateInterval: ptrInt(c.GetHeatmapUpdateInterval()),
		HeatmapSigma:          ptrFloat64(c.GetHeatmapSigma()),
		HeatmapWeight:         ptrFloat64(c.GetHeatmapWeight()),
		HistoryCapacity:       ptrInt(c.GetHistoryCapacity()),
		TrackExpiryFrames:     ptrInt(c.GetTrackExpiryFrames()),
		FPSWindow:             ptrInt(c.GetFPSWindow()),
		QueueCapacity:         ptrInt(c.GetQueueCapacity()),
		ProgressInterval:      ptrInt(c.GetProgressInterval()),
		HitsToConfirm:         ptrInt(c.GetHitsToConfirm()),
		MaxAge:                ptrInt(c.GetMaxAge()),
		MaxIoUDistance:        ptrFloat64(c.GetMaxIoUDistance()),
	}
}

// LoadCounterConfig loads a CounterConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file retain their default values.
func LoadCounterConfig(path string) (*CounterConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCounterConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *CounterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/batch/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCounterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CounterConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// Validate DetectorTimeout can be parsed if set
	if c.DetectorTimeout != nil && *c.DetectorTimeout != "" {
		d, err := time.ParseDuration(*c.DetectorTimeout)
		if err != nil {
			return fmt.Errorf("invalid detector_timeout '%s': %w", *c.DetectorTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("detector_timeout must be positive, got %s", d)
		}
	}

	return nil
}

// GetConfidenceThreshold returns the detector confidence threshold or the default.
func (c *CounterConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetDetectorEndpoint returns the detection service base URL or the default.
func (c *CounterConfig) GetDetectorEndpoint() string {
	if c.DetectorEndpoint == nil || *c.DetectorEndpoint == "" {
		return "http://localhost:8000"
	}
	return *c.DetectorEndpoint
}

// GetDetectorTimeout parses and returns the DetectorTimeout as a time.Duration.
func (c *CounterConfig) GetDetectorTimeout() time.Duration {
	if c.DetectorTimeout == nil || *c.DetectorTimeout == "" {
		return 15 * time.Second // default
	}
	d, err := time.ParseDuration(*c.DetectorTimeout)
	if err != nil {
		return 15 * time.Second // default on parse error
	}
	return d
}

// GetLineY returns the configured counting line and whether one was set.
// When ok is false the line is derived from the first frame height.
func (c *CounterConfig) GetLineY() (y int, ok bool) {
	if c.LineY == nil {
		return 0, false
	}
	return *c.LineY, true
}

// GetSkipFrames returns the skip_frames value or the default.
func (c *CounterConfig) GetSkipFrames() int {
	if c.SkipFrames == nil {
		return 0
	}
	return *c.SkipFrames
}

// GetStaticSceneThreshold returns the static_scene_threshold value or the default (disabled).
func (c *CounterConfig) GetStaticSceneThreshold() float64 {
	if c.StaticSceneThreshold == nil {
		return 0
	}
	return *c.StaticSceneThreshold
}

// GetHeatmapEnabled returns the heatmap_enabled value or the default.
func (c *CounterConfig) GetHeatmapEnabled() bool {
	if c.HeatmapEnabled == nil {
		return true
	}
	return *c.HeatmapEnabled
}

// GetTrailsEnabled returns the trails_enabled value or the default.
func (c *CounterConfig) GetTrailsEnabled() bool {
	if c.TrailsEnabled == nil {
		return true
	}
	return *c.TrailsEnabled
}

// GetHeatmapDecay returns the heatmap_decay value or the default.
func (c *CounterConfig) GetHeatmapDecay() float64 {
	if c.HeatmapDecay == nil {
		return 0.95
	}
	return *c.HeatmapDecay
}

// GetHeatmapUpdateInterval returns the heatmap_update_interval value or the default.
func (c *CounterConfig) GetHeatmapUpdateInterval() int {
	if c.HeatmapUpdateInterval == nil {
		return 3
	}
	return *c.HeatmapUpdateInterval
}

// GetHeatmapSigma returns the heatmap_sigma value (pixels) or the default.
func (c *CounterConfig) GetHeatmapSigma() float64 {
	if c.HeatmapSigma == nil {
		return 30
	}
	return *c.HeatmapSigma
}

// GetHeatmapWeight returns the heatmap_weight value or the default.
func (c *CounterConfig) GetHeatmapWeight() float64 {
	if c.HeatmapWeight == nil {
		return 0.5
	}
	return *c.HeatmapWeight
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *CounterConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 60
	}
	return *c.HistoryCapacity
}

// GetTrackExpiryFrames returns the track_expiry_frames value or the default (never expire).
func (c *CounterConfig) GetTrackExpiryFrames() int {
	if c.TrackExpiryFrames == nil {
		return 0
	}
	return *c.TrackExpiryFrames
}

// GetFPSWindow returns the fps_window value or the default.
func (c *CounterConfig) GetFPSWindow() int {
	if c.FPSWindow == nil {
		return 30
	}
	return *c.FPSWindow
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *CounterConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 128
	}
	return *c.QueueCapacity
}

// GetProgressInterval returns the progress_interval value or the default.
func (c *CounterConfig) GetProgressInterval() int {
	if c.ProgressInterval == nil {
		return 10
	}
	return *c.ProgressInterval
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *CounterConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxAge returns the max_age value or the default.
func (c *CounterConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 60
	}
	return *c.MaxAge
}

// GetMaxIoUDistance returns the max_iou_distance value or the default.
func (c *CounterConfig) GetMaxIoUDistance() float64 {
	if c.MaxIoUDistance == nil {
		return 0.7
	}
	return *c.MaxIoUDistance
}
