package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/framesource"
	"github.com/banshee-data/footfall.report/internal/monitor"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/sink"
	"github.com/banshee-data/footfall.report/internal/store"
	"github.com/banshee-data/footfall.report/internal/version"
)

var (
	configPath  = flag.String("config", "", "Counter config file (.json, .yaml); empty uses the built-in defaults")
	source      = flag.String("source", "/dev/video0", "Camera device, rtsp:// or http(s):// stream, video file or image directory")
	dbPath      = flag.String("db", store.DefaultPath, "SQLite database for sessions and crossings; empty disables persistence")
	listen      = flag.String("listen", ":8080", "HTTP status listen address")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC health listen address; empty disables")
	detectorURL = flag.String("detector", "", "Detection service URL (overrides the config file)")
	noPreview   = flag.Bool("no-preview", false, "Disable the MJPEG preview stream")
	debugLog    = flag.Bool("debug", false, "Enable diagnostic logging")
	traceLog    = flag.Bool("trace", false, "Enable per-frame trace logging (implies -debug)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *source == "" {
		log.Fatal("Source is required")
	}
	configureLogging(*debugLog || *traceLog, *traceLog)
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *detectorURL != "" {
		cfg.DetectorEndpoint = detectorURL
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector := detect.NewHTTPDetector(cfg.GetDetectorEndpoint(), cfg.GetDetectorTimeout())
	if err := checkDetector(ctx, detector, cfg.GetDetectorEndpoint()); err != nil {
		log.Printf("warning: %v", err)
	}

	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer st.Close()
	}

	src, err := framesource.Open(ctx, *source, framesource.FFmpegOptions{})
	if err != nil {
		log.Fatalf("failed to open source: %v", err)
	}
	threaded := framesource.NewThreaded(src, cfg.GetQueueCapacity())
	threaded.Start(ctx)

	var preview *sink.Broadcaster
	if !*noPreview {
		preview = sink.NewBroadcaster()
	}
	live, err := newLiveSession(ctx, liveOptions{
		Config:   cfg,
		Detector: detector,
		Tracker:  detect.NewIOUTracker(trackerConfig(cfg)),
		Store:    st,
		Source:   *source,
		Preview:  preview,
		Plotter:  monitor.NewCountPlotter(*source),
	})
	if err != nil {
		threaded.Close()
		log.Fatalf("failed to create pipeline: %v", err)
	}

	web, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   *listen,
		Counter:   live.pipeline,
		Preview:   preview,
		Store:     st,
		Plotter:   live.plotter,
		SessionID: live.sessionID(),
		Source:    *source,
	})
	if err != nil {
		threaded.Close()
		log.Fatalf("failed to create web server: %v", err)
	}

	// The status server outlives the counting loop so the final numbers stay
	// readable until shutdown.
	webCtx, stopWeb := context.WithCancel(context.Background())
	defer stopWeb()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Start(webCtx); err != nil {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	var health *monitor.HealthServer
	if *grpcListen != "" {
		health = monitor.NewHealthServer(*grpcListen)
		if err := health.Start(); err != nil {
			log.Printf("failed to start gRPC health server: %v", err)
			health = nil
		} else {
			health.SetServing(true)
		}
	}

	sum, runErr := live.pipeline.RunLive(ctx, threaded, live.onFrame)
	if health != nil {
		health.SetServing(false)
	}
	if runErr != nil {
		log.Printf("counting stopped: %v", runErr)
	}
	live.finish(sum, runErr)
	log.Printf("session summary: entries=%d exits=%d total=%d frames=%d",
		sum.EntryCount, sum.ExitCount, sum.TotalCount, sum.FramesProcessed)

	if ctx.Err() == nil && runErr == nil {
		log.Printf("source ended; status server stays up until interrupted")
		<-ctx.Done()
	}

	stopWeb()
	if preview != nil {
		preview.Close()
	}
	wg.Wait()
	if health != nil {
		health.Stop()
	}
	log.Printf("Graceful shutdown complete")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		if st != nil {
			st.Close()
		}
		os.Exit(1)
	}
}

// checkDetector probes the detection service once. It only warns because
// the service may still be starting, but RunLive ends on the first failed
// detection, so the message says so.
func checkDetector(ctx context.Context, d interface{ Ready(context.Context) bool }, endpoint string) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if d.Ready(probeCtx) {
		return nil
	}
	return fmt.Errorf("detector at %s is not ready; counting stops at the first failed detection", endpoint)
}

func loadConfig(path string) (*config.CounterConfig, error) {
	if path == "" {
		return config.DefaultCounterConfig(), nil
	}
	return config.LoadCounterConfig(path)
}

func trackerConfig(cfg *config.CounterConfig) detect.TrackerConfig {
	return detect.TrackerConfig{
		HitsToConfirm:  cfg.GetHitsToConfirm(),
		MaxAge:         cfg.GetMaxAge(),
		MaxIoUDistance: cfg.GetMaxIoUDistance(),
	}
}

// configureLogging routes the package log streams. Ops always goes to
// stderr; diag and trace only when requested.
func configureLogging(debug, trace bool) {
	var diag, tr io.Writer
	if debug {
		diag = os.Stderr
	}
	if trace {
		tr = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, tr)
	monitor.SetLogWriters(os.Stderr, diag, tr)
	framesource.SetDebugLogger(diag)
}
