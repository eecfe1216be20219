package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/monitor"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/sink"
	"github.com/banshee-data/footfall.report/internal/store"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// progressEvery is how often a live session's running totals are written
// to the store.
const progressEvery = 5 * time.Second

type liveOptions struct {
	Config   *config.CounterConfig
	Detector detect.Detector
	Tracker  detect.Tracker
	Store    *store.Store
	Source   string
	Preview  *sink.Broadcaster
	Plotter  *monitor.CountPlotter
	Clock    timeutil.Clock
}

// liveSession glues a pipeline to its preview, plot and store session.
// onFrame runs on the processing goroutine only.
type liveSession struct {
	ctx      context.Context
	pipeline *pipeline.Pipeline
	store    *store.Store
	session  *store.Session
	preview  *sink.Broadcaster
	plotter  *monitor.CountPlotter
	clock    timeutil.Clock

	frames       int
	lineRecorded bool
	lastProgress time.Time
}

func newLiveSession(ctx context.Context, opts liveOptions) (*liveSession, error) {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg := pipeline.ConfigFromCounter(opts.Config)
	cfg.Detector = opts.Detector
	cfg.Tracker = opts.Tracker
	cfg.Clock = clock

	ls := &liveSession{
		ctx:          context.WithoutCancel(ctx),
		store:        opts.Store,
		preview:      opts.Preview,
		plotter:      opts.Plotter,
		clock:        clock,
		lastProgress: clock.Now(),
	}
	if opts.Store != nil {
		sess, err := opts.Store.StartSession(ctx, opts.Source, store.ModeLive, clock.Now())
		if err != nil {
			return nil, err
		}
		ls.session = sess
		cfg.Events = opts.Store.Recorder(sess.ID)
		log.Printf("recording session %s", sess.ID)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	ls.pipeline = p
	return ls, nil
}

func (ls *liveSession) sessionID() string {
	if ls.session == nil {
		return ""
	}
	return ls.session.ID
}

func (ls *liveSession) summary(r *pipeline.Result) pipeline.Summary {
	return pipeline.Summary{
		EntryCount:      r.Snapshot.Entries,
		ExitCount:       r.Snapshot.Exits,
		TotalCount:      r.Snapshot.Total(),
		FramesProcessed: ls.frames,
	}
}

func (ls *liveSession) onFrame(r *pipeline.Result) {
	ls.frames++
	if ls.preview != nil {
		if err := ls.preview.Write(r.Frame); err != nil && !errors.Is(err, sink.ErrClosed) {
			log.Printf("preview: %v", err)
		}
	}
	if ls.plotter != nil && !r.Skipped {
		ls.plotter.Sample(r.Index, r.Snapshot)
	}
	if ls.session == nil {
		return
	}
	if !ls.lineRecorded {
		if err := ls.store.SetLineY(ls.ctx, ls.session.ID, r.LineY); err != nil {
			log.Printf("record line: %v", err)
		} else {
			ls.lineRecorded = true
		}
	}
	if now := ls.clock.Now(); now.Sub(ls.lastProgress) >= progressEvery {
		ls.lastProgress = now
		if err := ls.store.UpdateProgress(ls.ctx, ls.session.ID, ls.summary(r)); err != nil {
			log.Printf("record progress: %v", err)
		}
	}
}

// finish closes the store session. It uses a fresh context because the
// run context is usually already cancelled by then.
func (ls *liveSession) finish(sum pipeline.Summary, runErr error) {
	if ls.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ls.store.FinishSession(ctx, ls.session.ID, sum, runErr, ls.clock.Now()); err != nil {
		log.Printf("finish session: %v", err)
	}
}
