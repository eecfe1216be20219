package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/footfall.report/internal/framesource"
	"github.com/banshee-data/footfall.report/internal/sink"
)

// DefaultProgressInterval is how often RunBatch reports progress, in frames.
const DefaultProgressInterval = 10

// Summary is the result of a finished (or failed) session.
type Summary struct {
	EntryCount int `json:"entry_count"`
	ExitCount  int `json:"exit_count"`
	TotalCount int `json:"total_count"`
	// FramesProcessed counts every frame consumed, skipped ones included.
	FramesProcessed int `json:"frames_processed"`
}

// Progress is reported periodically during a batch run.
type Progress struct {
	ProgressPercent float64
	Frames          int
	Entries         int
	Exits           int
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// ProgressInterval is the number of frames between OnProgress calls.
	ProgressInterval int
	OnProgress       func(Progress)

	// TotalFrames overrides the source's frame count for progress.
	TotalFrames int
}

func (p *Pipeline) summary(frames int) Summary {
	snap := p.stats.Snapshot()
	return Summary{
		EntryCount:      snap.Entries,
		ExitCount:       snap.Exits,
		TotalCount:      snap.Total(),
		FramesProcessed: frames,
	}
}

// RunBatch runs every frame of src through the pipeline and writes the
// results to out. The skip policy applies, except that each progress frame
// is forced through so the reported counts are current. Both are closed
// before returning. On failure the frames already
// written are kept and the summary holds the counts reached so far.
func (p *Pipeline) RunBatch(ctx context.Context, src framesource.Source, out sink.Sink, opts BatchOptions) (sum Summary, err error) {
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	total := opts.TotalFrames
	if total <= 0 {
		total = src.Info().TotalFrames
	}

	frames := 0
	defer func() {
		sum = p.summary(frames)
		serr := src.Close()
		oerr := out.Close()
		if err == nil {
			err = errors.Join(serr, oerr)
		}
		if err != nil {
			opsf("batch stopped after %d frames: %v", frames, err)
		} else {
			diagf("batch done: frames=%d entries=%d exits=%d", frames, sum.EntryCount, sum.ExitCount)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		frame, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if errors.Is(err, framesource.ErrTransientRead) {
			tracef("batch: skipping unreadable frame: %v", err)
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("read frame: %w", err)
		}
		frames++

		res, err := p.ProcessFrame(ctx, frame, ProcessOptions{ForceProcess: frames%interval == 0})
		if err != nil {
			return sum, err
		}
		if err := out.Write(res.Frame); err != nil {
			return sum, fmt.Errorf("write frame %d: %w", res.Index, err)
		}

		if opts.OnProgress != nil && frames%interval == 0 {
			var pct float64
			if total > 0 {
				pct = float64(frames) / float64(total) * 100
				if pct > 100 {
					pct = 100
				}
			}
			opts.OnProgress(Progress{
				ProgressPercent: pct,
				Frames:          frames,
				Entries:         res.Snapshot.Entries,
				Exits:           res.Snapshot.Exits,
			})
		}
	}
}

// RunLive processes frames from a camera or stream until the source ends or
// ctx is cancelled. Cancellation is checked between frames; a frame already
// in flight finishes. Every result, skipped frames included, is handed to
// onFrame. src is closed before returning.
func (p *Pipeline) RunLive(ctx context.Context, src framesource.Source, onFrame func(*Result)) (sum Summary, err error) {
	frames := 0
	frameCtx := context.WithoutCancel(ctx)
	defer func() {
		sum = p.summary(frames)
		if cerr := src.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			opsf("live session stopped after %d frames: %v", frames, err)
		} else {
			diagf("live session ended: frames=%d entries=%d exits=%d", frames, sum.EntryCount, sum.ExitCount)
		}
	}()

	for {
		if ctx.Err() != nil {
			return sum, nil
		}
		frame, err := src.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return sum, nil
		case errors.Is(err, framesource.ErrTransientRead):
			tracef("live: skipping unreadable frame: %v", err)
			continue
		case err != nil && ctx.Err() != nil:
			return sum, nil
		case err != nil:
			return sum, fmt.Errorf("read frame: %w", err)
		}
		frames++

		res, err := p.ProcessFrame(frameCtx, frame, ProcessOptions{})
		if err != nil {
			return sum, err
		}
		if onFrame != nil {
			onFrame(res)
		}
	}
}
