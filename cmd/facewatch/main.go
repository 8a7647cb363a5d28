// Package main provides the CLI entrypoint for FaceWatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/facewatch/sentry/internal/config"
	"github.com/facewatch/sentry/pkg/cameradir"
	"github.com/facewatch/sentry/pkg/facewatch"
	"github.com/facewatch/sentry/pkg/recognition"
)

// Input sizes the bundled detector/landmark ONNX models were exported
// for. These are a property of the model files, not the deployment, so
// they are not exposed as config knobs.
const (
	detectorInputSize = 640
	landmarkInputSize = 192
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	prefix := flag.String("prefix", "", "Camera name prefix (overrides config)")
	preview := flag.Bool("preview", false, "Show a local preview window per camera (requires a display)")
	verbose := flag.Bool("verbose", false, "Enable verbose startup logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "FaceWatch - multi-camera face detection and recognition dispatch\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                       # Run with default settings\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config config.toml   # Run with a custom config\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -prefix LOBBY         # Only watch cameras named LOBBY-*\n", os.Args[0])
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("facewatch version %s\n", version)
		os.Exit(0)
	}

	logFile, err := os.Create("application.log")
	if err != nil {
		log.Fatalf("failed to create application.log: %v", err)
	}
	defer logFile.Close()
	logger := log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if *prefix != "" {
		cfg.Cameras.Prefix = *prefix
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		logger.Fatalf("failed to load recognition credentials: %v", err)
	}

	if *verbose {
		logger.Printf("config: recognition_base_url=%s cameras_prefix=%q max_frames=%d inactivity=%s",
			cfg.Recognition.BaseURL, cfg.Cameras.Prefix, cfg.Tracking.MaxFrames, cfg.Tracking.InactivityThreshold())
		logger.Printf("config: workers detection=%d track=%d dispatch=%d",
			cfg.Workers.DetectionWorkers, cfg.Workers.TrackWorkers, cfg.Workers.DispatchWorkers)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dirClient := cameradir.New(cfg.Cameras.DirectoryURL)
	cameras, err := dirClient.ActiveCameras(ctx, cfg.Cameras.Prefix)
	if err != nil {
		logger.Fatalf("failed to discover cameras: %v", err)
	}
	logger.Printf("discovered %d active camera(s) with prefix %q", len(cameras), cfg.Cameras.Prefix)

	sink := recognition.New(recognition.Config{
		BaseURL:             cfg.Recognition.BaseURL,
		Token:               creds.Password,
		RequestTimeout:      cfg.Recognition.RequestTimeout(),
		MaxIdleConnsPerHost: cfg.Recognition.MaxIdleConnsPerHost,
		Logger:              logger,
	})
	logger.Printf("recognition service configured for user %s (tenant %s)", creds.User, creds.Tenant)

	display, err := buildDisplay(cfg, *preview, logger)
	if err != nil {
		logger.Fatalf("failed to configure display: %v", err)
	}

	detector, err := newDetector(cfg.Detector)
	if err != nil {
		logger.Fatalf("failed to load detector model: %v", err)
	}
	landmarks, err := newLandmarkModel(cfg.Landmark)
	if err != nil {
		logger.Fatalf("failed to load landmark model: %v", err)
	}

	orchestrator := &facewatch.Orchestrator{
		Cameras: cameras,
		NewCameraSource: func(d facewatch.CameraDescriptor) facewatch.CameraSource {
			return facewatch.NewGoCVCamera(d.URL, false)
		},
		ReconnectPolicy: facewatch.ReconnectPolicy{
			BaseDelay:  cfg.Cameras.ReconnectDelay(),
			MaxRetries: cfg.Cameras.MaxRetries,
		},
		Detector:         detector,
		Landmarks:        landmarks,
		Sink:             sink,
		Display:          display,
		FrameQueueSize:   cfg.Queues.FrameQueueSize,
		EventQueueSize:   cfg.Queues.EventQueueSize,
		UploadQueueSize:  cfg.Queues.UploadQueueSize,
		DetectionWorkers: cfg.Workers.DetectionWorkers,
		TrackWorkers:     cfg.Workers.TrackWorkers,
		DispatchWorkers:  cfg.Workers.DispatchWorkers,
		MinBBoxWidth:     cfg.Filter.MinBBoxWidth,
		MinConfidence:    cfg.Filter.MinConfidence,
		ReclaimEvery:     cfg.Workers.ReclaimEvery,
		BatchSize:        cfg.Workers.BatchSize,
		BatchTimeout:     cfg.Workers.BatchTimeout(),
		TrackManager: facewatch.TrackManagerConfig{
			MaxFrames:             cfg.Tracking.MaxFrames,
			InactivityThreshold:   cfg.Tracking.InactivityThreshold(),
			SweepInterval:         cfg.Tracking.SweepInterval(),
			MinMovementPixels:     cfg.Tracking.MinMovementPixels,
			MinMovementPercentage: cfg.Tracking.MinMovementPercentage,
			DistancePercentage:    cfg.Tracking.DistancePercentage,
		},
		Logger: logger,
	}

	logger.Println("facewatch starting. Press Ctrl+C to stop.")
	if err := orchestrator.Run(ctx); err != nil {
		logger.Fatalf("pipeline stopped with error: %v", err)
	}
	logger.Println("facewatch stopped cleanly.")
}

func newDetector(cfg config.ModelConfig) (facewatch.FaceDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("detector model_path is required")
	}
	return facewatch.NewONNXDetector(cfg.ModelPath, detectorInputSize, cfg.ConfidenceThreshold, cfg.IoUThreshold)
}

func newLandmarkModel(cfg config.ModelConfig) (facewatch.LandmarkModel, error) {
	if cfg.ModelPath == "" {
		return nil, nil
	}
	return facewatch.NewONNXLandmarkModel(cfg.ModelPath, landmarkInputSize, cfg.ConfidenceThreshold)
}

// previewWindows lazily opens one PreviewWindow per camera the first
// time a frame from that camera arrives, since GoCV windows must be
// created per named window rather than shared across streams.
type previewWindows struct {
	mu      sync.Mutex
	windows map[string]*facewatch.PreviewWindow
	width   int
	height  int
}

func newPreviewWindows(width, height int) *previewWindows {
	return &previewWindows{windows: make(map[string]*facewatch.PreviewWindow), width: width, height: height}
}

// Show serializes access across detection workers: GoCV's windows are
// not safe for concurrent use from multiple goroutines.
func (p *previewWindows) Show(frame facewatch.Frame, events []facewatch.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	win, ok := p.windows[frame.CameraID]
	if !ok {
		win = facewatch.NewPreviewWindow(frame.CameraID, p.width, p.height)
		p.windows[frame.CameraID] = win
	}
	return win.Show(frame, events)
}

func (p *previewWindows) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, win := range p.windows {
		if err := win.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildDisplay(cfg *config.Config, preview bool, logger *log.Logger) (facewatch.DisplaySink, error) {
	var sinks []facewatch.DisplaySink

	if preview || cfg.Display.Enabled {
		sinks = append(sinks, newPreviewWindows(cfg.Display.WindowWidth, cfg.Display.WindowHeight))
	}

	if cfg.Display.WebsocketAddr != "" {
		wsDisplay, handler := facewatch.NewWebSocketDisplay(logger)
		mux := http.NewServeMux()
		mux.Handle("/preview", handler)
		srv := &http.Server{Addr: cfg.Display.WebsocketAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("websocket display server error: %v", err)
			}
		}()
		logger.Printf("websocket preview available at ws://%s/preview", cfg.Display.WebsocketAddr)
		sinks = append(sinks, wsDisplay)
	}

	if len(sinks) == 0 {
		return facewatch.NullDisplay{}, nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return facewatch.MultiDisplay{Sinks: sinks}, nil
}
