// Package stream moves depth readings from a camera to point cloud
// subscribers, projecting each frame through a single engine.
package stream

import (
	"encoding/json"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

const (
	// DefaultQueueSize is how many readings a subscription buffers before
	// old ones are dropped.
	DefaultQueueSize = 1
	// DefaultFrameID labels clouds when the config does not name a frame.
	DefaultFrameID = "depth_camera"
)

// Config holds the stream settings.
type Config struct {
	// QueueSize bounds every queue between the camera and subscribers.
	// Zero means DefaultQueueSize.
	QueueSize int `json:"queue_size,omitempty"`
	// FrameID is the coordinate frame label stamped on every cloud.
	FrameID string `json:"frame_id,omitempty"`
	// KernelSourcePath overrides the embedded projection kernel.
	KernelSourcePath string `json:"kernel_source_path,omitempty"`
	// Backend selects a compute backend by name. Empty picks the default.
	Backend string `json:"backend,omitempty"`
	// MaxDepth is the far cutoff in meters. Zero disables it.
	MaxDepth float64 `json:"max_depth_m,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.QueueSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("queue_size cannot be negative, got %d", cfg.QueueSize))
	}
	if cfg.MaxDepth < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_depth_m cannot be negative, got %f", cfg.MaxDepth))
	}
	return nil
}

// WithDefaults returns a copy with empty fields set to their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.FrameID == "" {
		cfg.FrameID = DefaultFrameID
	}
	return cfg
}

// ReadConfigFromFile parses a JSON config file, substituting ${ENV}
// style references from the environment first.
func ReadConfigFromFile(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %s", path)
	}
	cfg := &Config{}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config file %s", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
