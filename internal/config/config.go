// Package config loads landmarker settings from a YAML file. Every field is
// optional; omitted keys keep the defaults of the component they apply to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/landmarker/internal/landmarker"
	"github.com/andresmejia3/landmarker/internal/worker"
	"gopkg.in/yaml.v3"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// File is the on-disk configuration.
type File struct {
	Mode                               *string  `yaml:"mode,omitempty"` // image, video or live_stream
	ModelAssetPath                     *string  `yaml:"model_asset_path,omitempty"`
	NumFaces                           *int     `yaml:"num_faces,omitempty"`
	MinFaceDetectionConfidence         *float32 `yaml:"min_face_detection_confidence,omitempty"`
	MinFacePresenceConfidence          *float32 `yaml:"min_face_presence_confidence,omitempty"`
	MinTrackingConfidence              *float32 `yaml:"min_tracking_confidence,omitempty"`
	OutputFaceBlendshapes              *bool    `yaml:"output_face_blendshapes,omitempty"`
	OutputFacialTransformationMatrixes *bool    `yaml:"output_facial_transformation_matrixes,omitempty"`

	Engine      *Engine `yaml:"engine,omitempty"`
	Database    *string `yaml:"database,omitempty"`
	MetricsAddr *string `yaml:"metrics_addr,omitempty"`
	LogLevel    *string `yaml:"log_level,omitempty"`
}

// Engine configures the external landmark engine process.
type Engine struct {
	Command     []string `yaml:"command,omitempty"`
	ReadTimeout *string  `yaml:"read_timeout,omitempty"` // duration string like "5s"
	Debug       *bool    `yaml:"debug,omitempty"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*File, error) {
	cfg := &File{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that can be checked without a landmarker.
func (f *File) Validate() error {
	if f.Mode != nil {
		if _, err := landmarker.ParseRunningMode(*f.Mode); err != nil {
			return err
		}
	}
	if f.NumFaces != nil && *f.NumFaces < 1 {
		return fmt.Errorf("num_faces must be at least 1, got %d", *f.NumFaces)
	}
	for name, v := range map[string]*float32{
		"min_face_detection_confidence": f.MinFaceDetectionConfidence,
		"min_face_presence_confidence":  f.MinFacePresenceConfidence,
		"min_tracking_confidence":       f.MinTrackingConfidence,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if f.Engine != nil && f.Engine.ReadTimeout != nil && *f.Engine.ReadTimeout != "" {
		if _, err := time.ParseDuration(*f.Engine.ReadTimeout); err != nil {
			return fmt.Errorf("invalid engine.read_timeout '%s': %w", *f.Engine.ReadTimeout, err)
		}
	}
	return nil
}

// ApplyTo copies the set fields onto opts. The running mode is only applied
// when the caller has not chosen one.
func (f *File) ApplyTo(opts *landmarker.Options, applyMode bool) {
	if applyMode && f.Mode != nil {
		mode, _ := landmarker.ParseRunningMode(*f.Mode) // checked by Validate
		opts.RunningMode = mode
	}
	if f.ModelAssetPath != nil {
		opts.ModelAssetPath = *f.ModelAssetPath
	}
	if f.NumFaces != nil {
		opts.NumFaces = *f.NumFaces
	}
	if f.MinFaceDetectionConfidence != nil {
		opts.MinFaceDetectionConfidence = *f.MinFaceDetectionConfidence
	}
	if f.MinFacePresenceConfidence != nil {
		opts.MinFacePresenceConfidence = *f.MinFacePresenceConfidence
	}
	if f.MinTrackingConfidence != nil {
		opts.MinTrackingConfidence = *f.MinTrackingConfidence
	}
	if f.OutputFaceBlendshapes != nil {
		opts.OutputFaceBlendshapes = *f.OutputFaceBlendshapes
	}
	if f.OutputFacialTransformationMatrixes != nil {
		opts.OutputFacialTransformationMatrixes = *f.OutputFacialTransformationMatrixes
	}
}

// ApplyEngine copies the engine section onto cfg.
func (f *File) ApplyEngine(cfg *worker.Config) {
	if f.Engine == nil {
		return
	}
	if len(f.Engine.Command) > 0 {
		cfg.Command = f.Engine.Command
	}
	if f.Engine.ReadTimeout != nil && *f.Engine.ReadTimeout != "" {
		d, _ := time.ParseDuration(*f.Engine.ReadTimeout) // checked by Validate
		cfg.ReadTimeout = d
	}
	if f.Engine.Debug != nil {
		cfg.Debug = *f.Engine.Debug
	}
}
