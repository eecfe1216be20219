package stats

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/footfall.report/internal/crossing"
)

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

func TestRecordCrossingIsIdempotent(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)

	if !a.RecordCrossing(5, crossing.Entry) {
		t.Fatal("first crossing for id 5 was rejected")
	}
	if a.RecordCrossing(5, crossing.Entry) {
		t.Error("repeat entry for id 5 was counted")
	}
	if a.RecordCrossing(5, crossing.Exit) {
		t.Error("a counted id counted again as an exit")
	}

	s := a.Snapshot()
	if s.Entries != 1 || s.Exits != 0 {
		t.Errorf("counts = %d entries, %d exits; want 1, 0", s.Entries, s.Exits)
	}
	if !a.IsCounted(5) {
		t.Error("id 5 not marked counted")
	}
}

func TestRecordCrossingNone(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)
	if a.RecordCrossing(1, crossing.None) {
		t.Error("RecordCrossing(None) reported a change")
	}
	if a.IsCounted(1) {
		t.Error("None marked the id counted")
	}
}

func TestTotalIsDerived(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)
	a.RecordCrossing(1, crossing.Entry)
	a.RecordCrossing(2, crossing.Entry)
	a.RecordCrossing(3, crossing.Exit)

	s := a.Snapshot()
	if s.Total() != s.Entries+s.Exits || s.Total() != 3 {
		t.Errorf("Total() = %d with %d entries and %d exits, want 3", s.Total(), s.Entries, s.Exits)
	}
}

func TestForgetAllowsRecount(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)
	a.RecordCrossing(9, crossing.Exit)
	a.Forget(9)
	if a.IsCounted(9) {
		t.Fatal("id 9 still counted after Forget")
	}
	if !a.RecordCrossing(9, crossing.Entry) {
		t.Error("forgotten id could not count again")
	}

	// Forget keeps the counters.
	s := a.Snapshot()
	if s.Entries != 1 || s.Exits != 1 {
		t.Errorf("counts = %d entries, %d exits; want 1, 1", s.Entries, s.Exits)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)
	a.RecordCrossing(1, crossing.Entry)
	a.AddFrame()
	a.FPSSample(100 * time.Millisecond)
	a.Reset()

	s := a.Snapshot()
	if s.Total() != 0 {
		t.Errorf("Total() after Reset = %d, want 0", s.Total())
	}
	if a.IsCounted(1) {
		t.Error("Reset kept the counted set")
	}
	if s.FramesProcessed != 1 || !approx(s.FPS, 10) {
		t.Errorf("Reset touched frame bookkeeping: frames=%d fps=%v", s.FramesProcessed, s.FPS)
	}
}

func TestFPSWindowEviction(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)

	// One fast sample followed by a full window of 1 FPS samples.
	a.FPSSample(100 * time.Millisecond)
	for i := 0; i < 29; i++ {
		a.FPSSample(time.Second)
	}
	if got, want := a.Snapshot().FPS, (10.0+29.0)/30.0; !approx(got, want) {
		t.Errorf("FPS over a full window = %v, want %v", got, want)
	}

	// The 31st sample evicts the fast one.
	if got := a.FPSSample(time.Second); !approx(got, 1) {
		t.Errorf("FPS after eviction = %v, want 1", got)
	}
	if n := len(a.FPSSamples()); n != DefaultFPSWindow {
		t.Errorf("window holds %d samples, want %d", n, DefaultFPSWindow)
	}
}

func TestFPSSampleZeroDuration(t *testing.T) {
	t.Parallel()
	a := New(4)
	if got := a.FPSSample(0); got != 0 {
		t.Errorf("FPSSample(0) = %v, want 0", got)
	}
	if got := a.FPSSample(250 * time.Millisecond); !approx(got, 2) {
		t.Errorf("mean of 0 and 4 fps = %v, want 2", got)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New(DefaultFPSWindow)
	a.SetNowFunc(func() time.Time { return at })

	a.RecordCrossing(1, crossing.Exit)
	a.SetActiveTracks(4)
	a.AddFrame()
	a.AddFrame()

	want := Snapshot{Exits: 1, ActiveTracks: 4, FramesProcessed: 2, UpdatedAt: at}
	if diff := cmp.Diff(want, a.Snapshot(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	a := New(DefaultFPSWindow)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if s := a.Snapshot(); s.Total() < 0 {
					t.Error("negative total")
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		a.RecordCrossing(i, crossing.Entry)
		a.AddFrame()
	}
	wg.Wait()
	if got := a.Snapshot().Entries; got != 500 {
		t.Errorf("Entries = %d, want 500", got)
	}
}
