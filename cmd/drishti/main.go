package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/orientation"
	"github.com/ayusman/drishti/internal/perf"
	"github.com/ayusman/drishti/internal/store"
)

func main() {
	cameraID := flag.Int("camera", 0, "camera device ID")
	synthetic := flag.Bool("synthetic", false, "use a synthetic camera instead of a device")
	targetFPS := flag.Int("fps", 15, "target analysis frame rate (1-60, clamped)")
	maxResults := flag.Int("max-results", 10, "maximum detections kept per frame")
	minConfidence := flag.Float64("min-confidence", 0.5, "minimum detection confidence")
	dbPath := flag.String("db", "", "path to the calibration database (default ~/.drishti/drishti.db)")
	flag.Parse()

	fmt.Println("Drishti - Frame/Sensor Fusion Pipeline")

	st, err := openStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	camera := buildCamera(*cameraID, *synthetic)

	// The real inference engine is an external collaborator; the demo
	// binary runs with the scripted engine.
	engine := detector.NewMockEngine()
	engine.SetDetections([]detector.Detection{
		{Label: "demo", Confidence: 0.9, Box: detector.Box{Left: 0.25, Top: 0.25, Right: 0.75, Bottom: 0.75}},
	})

	detCfg := detector.DefaultConfig()
	detCfg.MaxResults = *maxResults
	detCfg.MinConfidence = *minConfidence

	coordinator, err := app.New(app.Config{
		Camera:      camera,
		Sensors:     capture.NewMockSensorSource(),
		Engine:      engine,
		Store:       st,
		TargetFPS:   *targetFPS,
		Detector:    detCfg,
		Orientation: orientation.DefaultConfig(),
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	if err := coordinator.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}
	defer coordinator.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	status := time.NewTicker(time.Second)
	defer status.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down")
			return
		case <-status.C:
			printSnapshot(coordinator.Snapshot())
		}
	}
}

func printSnapshot(s app.Snapshot) {
	switch s.Performance.State {
	case perf.Running:
		fmt.Printf("fps=%.1f/%d frame=%.1fms detections=%d rotation=%.3f\n",
			s.Performance.CurrentFPS, s.Performance.TargetFPS,
			s.Performance.AvgFrameTimeMs, len(s.Detections), s.Orientation.Magnitude)
	default:
		fmt.Printf("idle detections=%d rotation=%.3f\n", len(s.Detections), s.Orientation.Magnitude)
	}
}

func buildCamera(deviceID int, synthetic bool) capture.Camera {
	if !synthetic {
		return capture.NewCamera(deviceID)
	}

	frame := gocv.NewMatWithSize(capture.DefaultHeight, capture.DefaultWidth, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(32, 32, 32, 0))
	return capture.NewMockCamera([]*gocv.Mat{&frame}, true)
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(homeDir, ".drishti")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "drishti.db")
	}
	return store.New(path)
}
