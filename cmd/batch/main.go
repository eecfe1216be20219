// Command batch counts line crossings in a recorded video or image
// directory and writes an annotated copy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/framesource"
	"github.com/banshee-data/footfall.report/internal/monitor"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/sink"
	"github.com/banshee-data/footfall.report/internal/stats"
	"github.com/banshee-data/footfall.report/internal/store"
	"github.com/banshee-data/footfall.report/internal/version"
)

var (
	input       = flag.String("input", "", "Video file, image directory or stream URL to process (required)")
	output      = flag.String("output", "", "Annotated output: .mjpeg/.mjpg written directly, anything else encoded by ffmpeg (required)")
	configPath  = flag.String("config", "", "Counter config file (.json, .yaml); empty uses the built-in defaults")
	dbPath      = flag.String("db", "", "SQLite database to record the session in; empty disables")
	plotPath    = flag.String("plot", "", "Write a cumulative count plot to this path (.png, .svg, .pdf)")
	detectorURL = flag.String("detector", "", "Detection service URL (overrides the config file)")
	debugLog    = flag.Bool("debug", false, "Enable diagnostic logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *input == "" || *output == "" {
		flag.Usage()
		os.Exit(2)
	}
	var diag io.Writer
	if *debugLog {
		diag = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, nil)
	framesource.SetDebugLogger(diag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, batchOptions{
		Input:       *input,
		Output:      *output,
		ConfigPath:  *configPath,
		DBPath:      *dbPath,
		PlotPath:    *plotPath,
		DetectorURL: *detectorURL,
	}, os.Stdout)
	if err != nil {
		log.Fatalf("batch failed after %d frames: %v", sum.FramesProcessed, err)
	}
}

type batchOptions struct {
	Input       string
	Output      string
	ConfigPath  string
	DBPath      string
	PlotPath    string
	DetectorURL string

	// Detector and Sink replace the HTTP detector and file sink in tests.
	Detector detect.Detector
	Sink     sink.Sink
}

func loadConfig(path string) (*config.CounterConfig, error) {
	if path == "" {
		return config.DefaultCounterConfig(), nil
	}
	return config.LoadCounterConfig(path)
}

// run processes one input and prints the summary as JSON to out. Counts
// reached before a failure are returned with the error.
func run(ctx context.Context, opts batchOptions, out io.Writer) (pipeline.Summary, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("load config: %w", err)
	}
	if opts.DetectorURL != "" {
		cfg.DetectorEndpoint = &opts.DetectorURL
	}

	src, err := framesource.Open(ctx, opts.Input, framesource.FFmpegOptions{})
	if err != nil {
		return pipeline.Summary{}, err
	}
	info := src.Info()
	log.Printf("processing %s (%dx%d, %.2f fps, %d frames)", opts.Input, info.Width, info.Height, info.FPS, info.TotalFrames)

	threaded := framesource.NewThreaded(src, cfg.GetQueueCapacity())
	threaded.Start(ctx)

	dst := opts.Sink
	if dst == nil {
		dst, err = sink.Create(ctx, opts.Output, info.FPS)
		if err != nil {
			threaded.Close()
			return pipeline.Summary{}, fmt.Errorf("create output: %w", err)
		}
	}

	detector := opts.Detector
	if detector == nil {
		detector = detect.NewHTTPDetector(cfg.GetDetectorEndpoint(), cfg.GetDetectorTimeout())
	}
	pcfg := pipeline.ConfigFromCounter(cfg)
	pcfg.Detector = detector
	pcfg.Tracker = detect.NewIOUTracker(detect.TrackerConfig{
		HitsToConfirm:  cfg.GetHitsToConfirm(),
		MaxAge:         cfg.GetMaxAge(),
		MaxIoUDistance: cfg.GetMaxIoUDistance(),
	})

	var (
		st      *store.Store
		session *store.Session
	)
	if opts.DBPath != "" {
		st, err = store.Open(opts.DBPath)
		if err != nil {
			threaded.Close()
			dst.Close()
			return pipeline.Summary{}, err
		}
		defer st.Close()
		session, err = st.StartSession(ctx, opts.Input, store.ModeBatch, time.Now())
		if err != nil {
			threaded.Close()
			dst.Close()
			return pipeline.Summary{}, err
		}
		pcfg.Events = st.Recorder(session.ID)
		log.Printf("recording session %s", session.ID)
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		threaded.Close()
		dst.Close()
		return pipeline.Summary{}, err
	}

	plotter := monitor.NewCountPlotter(opts.Input)
	started := time.Now()
	sum, runErr := p.RunBatch(ctx, threaded, dst, pipeline.BatchOptions{
		ProgressInterval: cfg.GetProgressInterval(),
		TotalFrames:      info.TotalFrames,
		OnProgress: func(pr pipeline.Progress) {
			log.Printf("progress %5.1f%% frames=%d entries=%d exits=%d", pr.ProgressPercent, pr.Frames, pr.Entries, pr.Exits)
			plotter.Sample(pr.Frames, stats.Snapshot{Entries: pr.Entries, Exits: pr.Exits})
			if session != nil {
				prog := pipeline.Summary{EntryCount: pr.Entries, ExitCount: pr.Exits, TotalCount: pr.Entries + pr.Exits, FramesProcessed: pr.Frames}
				if err := st.UpdateProgress(ctx, session.ID, prog); err != nil {
					log.Printf("record progress: %v", err)
				}
			}
		},
	})
	elapsed := time.Since(started)
	plotter.Sample(sum.FramesProcessed, stats.Snapshot{Entries: sum.EntryCount, Exits: sum.ExitCount})

	if session != nil {
		if y, ok := p.LineY(); ok {
			if err := st.SetLineY(context.WithoutCancel(ctx), session.ID, y); err != nil {
				log.Printf("record line: %v", err)
			}
		}
		if err := st.FinishSession(context.WithoutCancel(ctx), session.ID, sum, runErr, time.Now()); err != nil {
			log.Printf("finish session: %v", err)
		}
	}
	if opts.PlotPath != "" {
		if err := plotter.Save(opts.PlotPath); err != nil {
			log.Printf("count plot: %v", err)
		} else {
			log.Printf("wrote count plot to %s", opts.PlotPath)
		}
	}

	log.Printf("done in %s: entries=%d exits=%d total=%d frames=%d",
		elapsed.Round(time.Millisecond), sum.EntryCount, sum.ExitCount, sum.TotalCount, sum.FramesProcessed)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		log.Printf("write summary: %v", err)
	}
	return sum, runErr
}
