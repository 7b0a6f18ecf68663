// Package gate implements the license-plate stream processor behind the
// gate-monitor WebSocket endpoint: frame decimation, time-windowed plate
// dedup, and bounded tracking-table eviction.
package gate

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"parkstream/internal/logger"
	"parkstream/internal/vision"
)

// Config holds the processor knobs.
type Config struct {
	SkipFrames       int           // process every Nth frame
	DedupWindow      time.Duration // repeat sightings inside this window are duplicates
	MaxTrackedPlates int           // hard cap on the dedup table
	CleanupInterval  int           // evict stale entries every N processed frames
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SkipFrames:       5,
		DedupWindow:      10 * time.Second,
		MaxTrackedPlates: 100,
		CleanupInterval:  50,
	}
}

// Plate is one recognized plate with its dedup classification.
type Plate struct {
	vision.Plate
	IsNew bool `json:"is_new"`
}

// Result is the per-frame outcome sent back to the client. Skipped frames
// produce no Result at all.
type Result struct {
	Success              bool
	Error                string
	Timestamp            time.Time
	FrameNumber          int
	ProcessedFrameNumber int
	Plates               []Plate
	NewPlates            int
	ProcessingTime       time.Duration
}

// MarshalJSON emits the wire shape: a typed detection payload on success, a
// compact error payload on adapter failure.
func (r *Result) MarshalJSON() ([]byte, error) {
	ts := float64(r.Timestamp.UnixNano()) / float64(time.Second)
	if !r.Success {
		return json.Marshal(map[string]any{
			"success":      false,
			"error":        r.Error,
			"frame_number": r.FrameNumber,
			"timestamp":    ts,
		})
	}
	plates := r.Plates
	if plates == nil {
		plates = []Plate{}
	}
	return json.Marshal(map[string]any{
		"success":                true,
		"type":                   "plate_detection",
		"timestamp":              ts,
		"frame_number":           r.FrameNumber,
		"processed_frame_number": r.ProcessedFrameNumber,
		"plates":                 plates,
		"plates_detected":        len(plates),
		"new_plates":             r.NewPlates,
		"processing_time_ms":     int(r.ProcessingTime / time.Millisecond),
	})
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	TotalFrames     int    `json:"total_frames"`
	ProcessedFrames int    `json:"processed_frames"`
	SkipRate        string `json:"skip_rate"`
	TrackedPlates   int    `json:"tracked_plates"`
}

// Processor owns the per-connection plate stream state. It is written by a
// single session goroutine, so no locking is needed.
type Processor struct {
	cfg        Config
	recognizer vision.PlateRecognizer

	frameCount     int
	processedCount int
	seenPlates     map[string]time.Time

	now func() time.Time
}

// New creates a Processor. Invalid knobs are clamped to safe values.
func New(cfg Config, recognizer vision.PlateRecognizer) *Processor {
	if cfg.SkipFrames < 1 {
		cfg.SkipFrames = 1
	}
	if cfg.CleanupInterval < 1 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &Processor{
		cfg:        cfg,
		recognizer: recognizer,
		seenPlates: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Config returns the effective configuration.
func (p *Processor) Config() Config { return p.cfg }

// ProcessFrame counts the frame and, on every SkipFrames-th one, runs plate
// recognition. Skipped frames return nil without touching the adapter.
func (p *Processor) ProcessFrame(ctx context.Context, frame []byte) *Result {
	p.frameCount++
	if p.frameCount%p.cfg.SkipFrames != 0 {
		return nil
	}

	start := time.Now()
	ts := p.now()

	plates, err := p.recognizer.RecognizePlates(ctx, frame)
	if err != nil {
		logger.Warn("gate", "recognition failed on frame %d: %v", p.frameCount, err)
		return &Result{
			Success:     false,
			Error:       err.Error(),
			Timestamp:   ts,
			FrameNumber: p.frameCount,
		}
	}
	p.processedCount++

	out := make([]Plate, 0, len(plates))
	newCount := 0
	for _, pl := range plates {
		isNew := p.observe(pl.Number, ts)
		if isNew {
			newCount++
		}
		out = append(out, Plate{Plate: pl, IsNew: isNew})
	}

	if p.processedCount%p.cfg.CleanupInterval == 0 {
		p.evict(ts)
	}

	return &Result{
		Success:              true,
		Timestamp:            ts,
		FrameNumber:          p.frameCount,
		ProcessedFrameNumber: p.processedCount,
		Plates:               out,
		NewPlates:            newCount,
		ProcessingTime:       time.Since(start),
	}
}

// observe classifies one sighting. Only new sightings record a timestamp;
// duplicates inside the window do not extend it, so a plate parked in view
// re-reports once per window.
func (p *Processor) observe(plate string, now time.Time) bool {
	if last, ok := p.seenPlates[plate]; ok && now.Sub(last) < p.cfg.DedupWindow {
		return false
	}
	p.seenPlates[plate] = now
	return true
}

// evict drops entries older than twice the dedup window, then enforces the
// table cap by keeping the most recently seen plates.
func (p *Processor) evict(now time.Time) {
	stale := 2 * p.cfg.DedupWindow
	for plate, last := range p.seenPlates {
		if now.Sub(last) >= stale {
			delete(p.seenPlates, plate)
		}
	}

	if p.cfg.MaxTrackedPlates <= 0 || len(p.seenPlates) <= p.cfg.MaxTrackedPlates {
		return
	}

	type entry struct {
		plate string
		seen  time.Time
	}
	entries := make([]entry, 0, len(p.seenPlates))
	for plate, seen := range p.seenPlates {
		entries = append(entries, entry{plate, seen})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.After(entries[j].seen) })
	for _, e := range entries[p.cfg.MaxTrackedPlates:] {
		delete(p.seenPlates, e.plate)
	}
	logger.Debug("gate", "evicted %d plates, %d tracked", len(entries)-p.cfg.MaxTrackedPlates, len(p.seenPlates))
}

// Reset clears all counters and the dedup table.
func (p *Processor) Reset() {
	p.frameCount = 0
	p.processedCount = 0
	p.seenPlates = make(map[string]time.Time)
}

// Stats snapshots the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		TotalFrames:     p.frameCount,
		ProcessedFrames: p.processedCount,
		SkipRate:        skipRate(p.cfg.SkipFrames),
		TrackedPlates:   len(p.seenPlates),
	}
}

func skipRate(n int) string {
	return "1/" + strconv.Itoa(n)
}
