package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"parkstream/internal/vision"
)

type stubRecognizer struct {
	plates []vision.Plate
	err    error
	calls  int
}

func (s *stubRecognizer) RecognizePlates(_ context.Context, _ []byte) ([]vision.Plate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.plates, nil
}

func plate(number string) vision.Plate {
	return vision.Plate{Number: number, RawText: number, OCRConfidence: 0.9, DetectionConfidence: 0.95}
}

// fakeClock lets tests drive the dedup window deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestProcessor(cfg Config, rec vision.PlateRecognizer) (*Processor, *fakeClock) {
	p := New(cfg, rec)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	p.now = clock.now
	return p, clock
}

func TestDecimation(t *testing.T) {
	rec := &stubRecognizer{}
	p, _ := newTestProcessor(Config{SkipFrames: 5, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	var processed []int
	for i := 1; i <= 10; i++ {
		if r := p.ProcessFrame(context.Background(), []byte("frame")); r != nil {
			processed = append(processed, r.FrameNumber)
		}
	}

	if len(processed) != 2 || processed[0] != 5 || processed[1] != 10 {
		t.Errorf("processed frames %v, want [5 10]", processed)
	}
	if rec.calls != 2 {
		t.Errorf("recognizer called %d times, want 2 (skipped frames must not reach it)", rec.calls)
	}
}

func TestDedupWindow(t *testing.T) {
	rec := &stubRecognizer{plates: []vision.Plate{plate("ABC123")}}
	p, clock := newTestProcessor(Config{SkipFrames: 1, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	steps := []struct {
		advance time.Duration
		wantNew bool
	}{
		{0, true},                // t=0: first sighting
		{5 * time.Second, false}, // t=5: inside window
		{6 * time.Second, true},  // t=11: window expired
	}
	for i, step := range steps {
		clock.advance(step.advance)
		r := p.ProcessFrame(context.Background(), []byte("frame"))
		if r == nil || len(r.Plates) != 1 {
			t.Fatalf("step %d: unexpected result %+v", i, r)
		}
		if r.Plates[0].IsNew != step.wantNew {
			t.Errorf("step %d: IsNew = %v, want %v", i, r.Plates[0].IsNew, step.wantNew)
		}
	}
}

func TestDuplicateDoesNotExtendWindow(t *testing.T) {
	rec := &stubRecognizer{plates: []vision.Plate{plate("XYZ789")}}
	p, clock := newTestProcessor(Config{SkipFrames: 1, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	p.ProcessFrame(context.Background(), []byte("f")) // t=0, new
	clock.advance(9 * time.Second)
	r := p.ProcessFrame(context.Background(), []byte("f")) // t=9, dup
	if r.Plates[0].IsNew {
		t.Fatal("t=9 sighting should be a duplicate")
	}
	clock.advance(2 * time.Second)
	r = p.ProcessFrame(context.Background(), []byte("f")) // t=11, window from t=0 expired
	if !r.Plates[0].IsNew {
		t.Error("duplicate sighting at t=9 must not extend the window past t=10")
	}
}

func TestAdapterFailure(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("backend unreachable")}
	p, _ := newTestProcessor(Config{SkipFrames: 1, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	r := p.ProcessFrame(context.Background(), []byte("frame"))
	if r == nil || r.Success {
		t.Fatalf("want failure result, got %+v", r)
	}
	if p.Stats().ProcessedFrames != 0 {
		t.Error("failed frames must not count as processed")
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failure result: %v", err)
	}
	var wire map[string]any
	json.Unmarshal(data, &wire)
	if wire["success"] != false || wire["error"] == "" || wire["frame_number"] != float64(1) {
		t.Errorf("unexpected failure payload %v", wire)
	}
	if _, hasPlates := wire["plates"]; hasPlates {
		t.Error("failure payload must not carry a plates field")
	}
}

func TestZeroPlatesIsSuccess(t *testing.T) {
	rec := &stubRecognizer{plates: []vision.Plate{}}
	p, _ := newTestProcessor(Config{SkipFrames: 1, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	r := p.ProcessFrame(context.Background(), []byte("frame"))
	if r == nil || !r.Success {
		t.Fatalf("want success result, got %+v", r)
	}

	data, _ := json.Marshal(r)
	var wire map[string]any
	json.Unmarshal(data, &wire)
	if wire["type"] != "plate_detection" {
		t.Errorf("type = %v, want plate_detection", wire["type"])
	}
	plates, ok := wire["plates"].([]any)
	if !ok || len(plates) != 0 {
		t.Errorf("plates = %v, want empty array", wire["plates"])
	}
	if wire["plates_detected"] != float64(0) || wire["new_plates"] != float64(0) {
		t.Errorf("counts wrong in %v", wire)
	}
}

func TestEviction(t *testing.T) {
	t.Run("stale entries purged", func(t *testing.T) {
		rec := &stubRecognizer{}
		p, clock := newTestProcessor(Config{SkipFrames: 1, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 5}, rec)

		rec.plates = []vision.Plate{plate("OLD111")}
		p.ProcessFrame(context.Background(), []byte("f"))

		clock.advance(25 * time.Second) // past 2x window
		rec.plates = nil
		// Frames 2..4 keep the cleanup counter moving; frame 5 triggers eviction.
		for i := 0; i < 4; i++ {
			p.ProcessFrame(context.Background(), []byte("f"))
		}
		if got := p.Stats().TrackedPlates; got != 0 {
			t.Errorf("tracked plates = %d, want 0 after stale purge", got)
		}
	})

	t.Run("cap keeps most recent", func(t *testing.T) {
		rec := &stubRecognizer{}
		p, clock := newTestProcessor(Config{SkipFrames: 1, DedupWindow: time.Hour, MaxTrackedPlates: 3, CleanupInterval: 5}, rec)

		for i := 0; i < 5; i++ {
			rec.plates = []vision.Plate{plate(fmt.Sprintf("CAR%03d", i))}
			p.ProcessFrame(context.Background(), []byte("f"))
			clock.advance(time.Second)
		}
		// Frame 5 ran the cleanup; cap is 3, nothing is stale (1h window).
		if got := p.Stats().TrackedPlates; got != 3 {
			t.Fatalf("tracked plates = %d, want 3", got)
		}
		// Oldest two must be gone; CAR002..CAR004 survive. A re-sighting of a
		// surviving plate inside the window is still a duplicate.
		rec.plates = []vision.Plate{plate("CAR004")}
		r := p.ProcessFrame(context.Background(), []byte("f"))
		if r.Plates[0].IsNew {
			t.Error("CAR004 should have survived eviction")
		}
		rec.plates = []vision.Plate{plate("CAR000")}
		r = p.ProcessFrame(context.Background(), []byte("f"))
		if !r.Plates[0].IsNew {
			t.Error("CAR000 should have been evicted by the cap")
		}
	})
}

func TestReset(t *testing.T) {
	rec := &stubRecognizer{plates: []vision.Plate{plate("ABC123")}}
	p, _ := newTestProcessor(Config{SkipFrames: 2, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, rec)

	p.ProcessFrame(context.Background(), []byte("f"))
	p.ProcessFrame(context.Background(), []byte("f"))
	if s := p.Stats(); s.TotalFrames != 2 || s.ProcessedFrames != 1 || s.TrackedPlates != 1 {
		t.Fatalf("pre-reset stats %+v", s)
	}

	p.Reset()
	s := p.Stats()
	if s.TotalFrames != 0 || s.ProcessedFrames != 0 || s.TrackedPlates != 0 {
		t.Errorf("post-reset stats %+v, want all zero", s)
	}

	// The plate reads as new again after reset.
	p.ProcessFrame(context.Background(), []byte("f"))
	r := p.ProcessFrame(context.Background(), []byte("f"))
	if r == nil || !r.Plates[0].IsNew {
		t.Error("plate must classify as new after reset")
	}
}

func TestStatsSkipRate(t *testing.T) {
	p, _ := newTestProcessor(Config{SkipFrames: 5, DedupWindow: 10 * time.Second, MaxTrackedPlates: 100, CleanupInterval: 50}, &stubRecognizer{})
	if got := p.Stats().SkipRate; got != "1/5" {
		t.Errorf("skip rate = %q, want 1/5", got)
	}
}
