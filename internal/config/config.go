// Package config provides TOML configuration loading for FaceWatch.
//
// The configuration file supports the following structure:
//
//	[recognition]
//	base_url = "https://findface.example.com"
//
//	[cameras]
//	prefix = "LOBBY"
//	directory_url = "https://cam-directory.example.com/api/cameras"
//	reconnect_delay_seconds = 5
//	max_retries = 3
//
//	[detector]
//	model_path = "models/face-detector.onnx"
//	confidence_threshold = 0.5
//	iou_threshold = 0.5
//
//	[landmark]
//	model_path = "models/face-landmark.onnx"
//	confidence_threshold = 0.5
//	iou_threshold = 0.45
//
//	[tracking]
//	max_frames = 60
//	inactivity_seconds = 15
//	min_movement_pixels = 50
//	min_movement_percentage = 0.10
//	distance_percentage = 0.07
//
//	[filter]
//	min_bbox_width = 30
//	min_confidence = 0.5
//
//	[queues]
//	frame_queue_size = 100
//	event_queue_size = 1000
//	upload_queue_size = 100
//
//	[workers]
//	detection_workers = 0
//	track_workers = 0
//	dispatch_workers = 0
//	reclaim_every = 0
//	batch_size = 1
//	batch_timeout_millis = 5
//
//	[display]
//	enabled = false
//	window_width = 1280
//	window_height = 720
//
// Recognition-service credentials (user, password, tenant UUID) are never
// read from this file — see LoadCredentials.
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Camera prefix: %s\n", cfg.Cameras.Prefix)
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete configuration for FaceWatch.
type Config struct {
	Recognition RecognitionConfig `toml:"recognition"`
	Cameras     CamerasConfig     `toml:"cameras"`
	Detector    ModelConfig       `toml:"detector"`
	Landmark    ModelConfig       `toml:"landmark"`
	Tracking    TrackingConfig    `toml:"tracking"`
	Filter      FilterConfig      `toml:"filter"`
	Queues      QueuesConfig      `toml:"queues"`
	Workers     WorkersConfig     `toml:"workers"`
	Display     DisplayConfig     `toml:"display"`
}

// RecognitionConfig holds the recognition service's connection settings.
type RecognitionConfig struct {
	// BaseURL is the recognition service's HTTPS base URL.
	BaseURL string `toml:"base_url"`
	// RequestTimeoutSeconds bounds each add_face_event call (default: 30).
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	// MaxIdleConnsPerHost sizes the shared HTTP connection pool.
	MaxIdleConnsPerHost int `toml:"max_idle_conns_per_host"`
}

// Credentials holds recognition-service secrets sourced from environment.
type Credentials struct {
	User     string
	Password string
	Tenant   string
}

// RequestTimeout returns the configured request timeout as a Duration.
func (r RecognitionConfig) RequestTimeout() time.Duration {
	if r.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.RequestTimeoutSeconds) * time.Second
}

// CamerasConfig controls camera discovery and reconnect policy.
type CamerasConfig struct {
	// Prefix restricts discovery to cameras whose name starts with it.
	Prefix string `toml:"prefix"`
	// DirectoryURL is the camera directory service endpoint.
	DirectoryURL string `toml:"directory_url"`
	// ReconnectDelaySeconds is the base delay between reconnect attempts.
	ReconnectDelaySeconds int `toml:"reconnect_delay_seconds"`
	// MaxRetries caps reconnect attempts before a capture task gives up.
	MaxRetries int `toml:"max_retries"`
}

// ReconnectDelay returns the configured reconnect delay as a Duration.
func (c CamerasConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// ModelConfig holds a detector or landmark model's invocation parameters.
type ModelConfig struct {
	ModelPath           string  `toml:"model_path"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	IoUThreshold        float64 `toml:"iou_threshold"`
}

// TrackingConfig holds track lifecycle and association knobs.
type TrackingConfig struct {
	// MaxFrames caps the number of events a track accumulates before
	// finalizing.
	MaxFrames int `toml:"max_frames"`
	// InactivitySeconds is how long a track may go without a new event
	// before it is finalized (default: 15).
	InactivitySeconds float64 `toml:"inactivity_seconds"`
	// MinMovementPixels is the minimum centroid displacement, in pixels,
	// that counts as movement between consecutive events.
	MinMovementPixels float64 `toml:"min_movement_pixels"`
	// MinMovementPercentage is an alternate movement criterion expressed
	// as a fraction of the frame diagonal; either is sufficient.
	MinMovementPercentage float64 `toml:"min_movement_percentage"`
	// DistancePercentage is the fraction of the frame diagonal used as
	// the fallback centroid-distance matching threshold (default: 0.07).
	DistancePercentage float64 `toml:"distance_percentage"`
	// SweepIntervalSeconds controls how often the background inactivity
	// sweep runs independent of incoming events.
	SweepIntervalSeconds float64 `toml:"sweep_interval_seconds"`
}

// InactivityThreshold returns the configured inactivity window as a Duration.
func (t TrackingConfig) InactivityThreshold() time.Duration {
	if t.InactivitySeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(t.InactivitySeconds * float64(time.Second))
}

// SweepInterval returns the configured sweep cadence as a Duration.
func (t TrackingConfig) SweepInterval() time.Duration {
	if t.SweepIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.SweepIntervalSeconds * float64(time.Second))
}

// FilterConfig holds the minimum-quality detection filters.
type FilterConfig struct {
	MinBBoxWidth  int     `toml:"min_bbox_width"`
	MinConfidence float64 `toml:"min_confidence"`
}

// QueuesConfig sizes the three pipeline queues.
type QueuesConfig struct {
	FrameQueueSize  int `toml:"frame_queue_size"`
	EventQueueSize  int `toml:"event_queue_size"`
	UploadQueueSize int `toml:"upload_queue_size"`
}

// WorkersConfig sizes the worker pools. Zero means auto-size from CPU count.
type WorkersConfig struct {
	DetectionWorkers int `toml:"detection_workers"`
	TrackWorkers     int `toml:"track_workers"`
	DispatchWorkers  int `toml:"dispatch_workers"`
	// ReclaimEvery controls how often a detection worker invokes its
	// detector's reclamation hook, if any. Zero disables it.
	ReclaimEvery int `toml:"reclaim_every"`
	// BatchSize caps how many frames a detection worker pulls per batch
	// (CPU backends want 1; accelerator backends benefit from ~32).
	BatchSize int `toml:"batch_size"`
	// BatchTimeoutMillis bounds how long a batch waits for each
	// additional frame after the first (default: 5ms).
	BatchTimeoutMillis int `toml:"batch_timeout_millis"`
}

// BatchTimeout returns the configured per-item batch timeout as a Duration.
func (w WorkersConfig) BatchTimeout() time.Duration {
	if w.BatchTimeoutMillis <= 0 {
		return 5 * time.Millisecond
	}
	return time.Duration(w.BatchTimeoutMillis) * time.Millisecond
}

// resolve fills zero-valued worker counts from the host's CPU count.
func (w *WorkersConfig) resolve() {
	cpu := runtime.NumCPU()
	if w.DetectionWorkers == 0 {
		w.DetectionWorkers = max(4, cpu)
	}
	half := max(4, cpu/2)
	if w.TrackWorkers == 0 {
		w.TrackWorkers = half
	}
	if w.DispatchWorkers == 0 {
		w.DispatchWorkers = half
	}
}

// DisplayConfig controls the optional preview side-channel.
type DisplayConfig struct {
	Enabled      bool `toml:"enabled"`
	WindowWidth  int  `toml:"window_width"`
	WindowHeight int  `toml:"window_height"`
	// WebsocketAddr, if set, additionally serves annotated frames over
	// a websocket endpoint for headless deployments.
	WebsocketAddr string `toml:"websocket_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{
		Recognition: RecognitionConfig{
			RequestTimeoutSeconds: 30,
			MaxIdleConnsPerHost:   16,
		},
		Cameras: CamerasConfig{
			ReconnectDelaySeconds: 5,
			MaxRetries:            5,
		},
		Detector: ModelConfig{
			ConfidenceThreshold: 0.5,
			IoUThreshold:        0.5,
		},
		Landmark: ModelConfig{
			ConfidenceThreshold: 0.5,
			IoUThreshold:        0.45,
		},
		Tracking: TrackingConfig{
			MaxFrames:             60,
			InactivitySeconds:     15,
			MinMovementPixels:     50,
			MinMovementPercentage: 0.10,
			DistancePercentage:    0.07,
			SweepIntervalSeconds:  5,
		},
		Filter: FilterConfig{
			MinBBoxWidth:  30,
			MinConfidence: 0.5,
		},
		Queues: QueuesConfig{
			FrameQueueSize:  100,
			EventQueueSize:  1000,
			UploadQueueSize: 100,
		},
		Display: DisplayConfig{
			WindowWidth:  1280,
			WindowHeight: 720,
		},
	}
	cfg.Workers.resolve()
	return cfg
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Workers.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadCredentials reads recognition-service secrets from the environment.
// It is a config error (fatal at startup) if any of the three variables
// is missing.
func LoadCredentials() (Credentials, error) {
	user := os.Getenv("FACEWATCH_RECOGNITION_USER")
	password := os.Getenv("FACEWATCH_RECOGNITION_PASSWORD")
	tenant := os.Getenv("FACEWATCH_RECOGNITION_TENANT")

	var missing []string
	if user == "" {
		missing = append(missing, "FACEWATCH_RECOGNITION_USER")
	}
	if password == "" {
		missing = append(missing, "FACEWATCH_RECOGNITION_PASSWORD")
	}
	if tenant == "" {
		missing = append(missing, "FACEWATCH_RECOGNITION_TENANT")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return Credentials{User: user, Password: password, Tenant: tenant}, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Recognition.BaseURL == "" {
		return fmt.Errorf("recognition base_url is required")
	}
	if c.Cameras.DirectoryURL == "" {
		return fmt.Errorf("cameras directory_url is required")
	}
	if c.Tracking.MaxFrames <= 0 {
		return fmt.Errorf("tracking max_frames must be positive, got %d", c.Tracking.MaxFrames)
	}
	if c.Tracking.InactivitySeconds <= 0 {
		return fmt.Errorf("tracking inactivity_seconds must be positive, got %f", c.Tracking.InactivitySeconds)
	}
	if c.Tracking.MinMovementPixels < 0 {
		return fmt.Errorf("tracking min_movement_pixels must not be negative, got %f", c.Tracking.MinMovementPixels)
	}
	if c.Filter.MinBBoxWidth < 0 {
		return fmt.Errorf("filter min_bbox_width must not be negative, got %d", c.Filter.MinBBoxWidth)
	}
	if c.Queues.FrameQueueSize <= 0 || c.Queues.EventQueueSize <= 0 || c.Queues.UploadQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	return nil
}
