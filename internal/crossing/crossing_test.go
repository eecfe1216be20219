package crossing

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func pts(ys ...int) []image.Point {
	out := make([]image.Point, len(ys))
	for i, y := range ys {
		out[i] = image.Pt(100, y)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		history []image.Point
		lineY   int
		want    Direction
	}{
		{name: "downward is entry", history: pts(40, 60), lineY: 50, want: Entry},
		{name: "upward is exit", history: pts(60, 40), lineY: 50, want: Exit},
		{name: "single sample", history: pts(60), lineY: 50, want: None},
		{name: "empty", history: nil, lineY: 50, want: None},
		{name: "landing on line from above is entry", history: pts(49, 50), lineY: 50, want: Entry},
		{name: "landing on line from below is exit", history: pts(51, 50), lineY: 50, want: Exit},
		{name: "leaving line downward", history: pts(50, 60), lineY: 50, want: None},
		{name: "leaving line upward", history: pts(50, 40), lineY: 50, want: None},
		{name: "same side", history: pts(10, 20, 30), lineY: 50, want: None},
		{name: "uses second most recent", history: pts(10, 60, 70), lineY: 50, want: None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cur := -1
			if len(tt.history) > 0 {
				cur = tt.history[len(tt.history)-1].Y
			}
			if got := Evaluate(tt.history, cur, tt.lineY); got != tt.want {
				t.Errorf("Evaluate(%v, %d, %d) = %v, want %v", tt.history, cur, tt.lineY, got, tt.want)
			}
		})
	}
}

// A jittering track is evaluated step by step the way the pipeline does it:
// once a crossing is recorded the caller stops evaluating that id.
func TestEvaluateJitterCountsOnce(t *testing.T) {
	t.Parallel()

	counted := false
	var dirs []Direction
	var history []image.Point
	for _, y := range []int{49, 51, 49} {
		history = append(history, image.Pt(0, y))
		if counted {
			continue
		}
		if d := Evaluate(history, y, 50); d != None {
			dirs = append(dirs, d)
			counted = true
		}
	}
	if diff := cmp.Diff([]Direction{Entry}, dirs); diff != "" {
		t.Errorf("crossings mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectionString(t *testing.T) {
	t.Parallel()
	for _, d := range []Direction{None, Entry, Exit} {
		got, err := ParseDirection(d.String())
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", d.String(), err)
		}
		if got != d {
			t.Errorf("ParseDirection(%q) = %v, want %v", d.String(), got, d)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("ParseDirection(sideways) succeeded")
	}
}

func TestDirectionJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(map[string]Direction{"d": Exit})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(b), `{"d":"exit"}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}

	var got struct{ D Direction }
	if err := json.Unmarshal([]byte(`{"D":"entry"}`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.D != Entry {
		t.Errorf("Unmarshal direction = %v, want entry", got.D)
	}
	if err := json.Unmarshal([]byte(`{"D":"up"}`), &got); err == nil {
		t.Error("Unmarshal accepted an unknown direction")
	}
}

func TestLineResolve(t *testing.T) {
	t.Parallel()

	t.Run("auto fixes on first frame", func(t *testing.T) {
		l := NewLine(nil)
		if _, ok := l.Y(); ok {
			t.Error("auto line reports a y before the first frame")
		}
		if got := l.Resolve(720); got != 360 {
			t.Errorf("Resolve(720) = %d, want 360", got)
		}
		if got := l.Resolve(1080); got != 360 {
			t.Errorf("Resolve(1080) = %d, want 360: the line must not move after first use", got)
		}
	})

	t.Run("odd height truncates", func(t *testing.T) {
		if got := NewLine(nil).Resolve(101); got != 50 {
			t.Errorf("Resolve(101) = %d, want 50", got)
		}
	})

	t.Run("configured", func(t *testing.T) {
		y := 123
		l := NewLine(&y)
		if got := l.Resolve(720); got != 123 {
			t.Errorf("Resolve(720) = %d, want 123", got)
		}
		if got, ok := l.Y(); !ok || got != 123 {
			t.Errorf("Y() = %d, %v; want 123, true", got, ok)
		}
	})
}
