// Package lot implements the parking-lot stream processor behind the
// lot-monitor WebSocket endpoint: frame decimation, capacity alerts with a
// cooldown, and occupancy state-change detection.
package lot

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"parkstream/internal/logger"
	"parkstream/internal/vision"
)

// Config holds the processor knobs.
type Config struct {
	SkipFrames        int
	CapacityThreshold float64       // alert at this occupancy rate (0-1)
	MaxCapacity       int           // 0 disables the over-capacity flag
	AlertCooldown     time.Duration // minimum spacing between alerts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SkipFrames:        10,
		CapacityThreshold: 0.9,
		AlertCooldown:     30 * time.Second,
	}
}

// StateChange reports a shift in occupied-slot count between two processed
// frames.
type StateChange struct {
	Previous  int    `json:"previous"`
	Current   int    `json:"current"`
	Change    int    `json:"change"`
	Direction string `json:"direction"`
}

// Result is the per-frame outcome sent back to the client. Skipped frames
// produce no Result.
type Result struct {
	Success              bool
	Error                string
	Timestamp            time.Time
	FrameNumber          int
	ProcessedFrameNumber int
	Report               vision.SlotReport
	Alert                bool
	OverCapacity         bool
	StateChange          *StateChange
	ProcessingTime       time.Duration
}

// MarshalJSON emits the wire shape: a typed occupancy payload on success, a
// compact error payload on adapter failure. state_change is omitted when no
// change happened.
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
	slots := r.Report.Slots
	if slots == nil {
		slots = []vision.Slot{}
	}
	payload := map[string]any{
		"success":                true,
		"type":                   "capacity_update",
		"timestamp":              ts,
		"frame_number":           r.FrameNumber,
		"processed_frame_number": r.ProcessedFrameNumber,
		"total_slots":            r.Report.TotalSlots,
		"occupied":               r.Report.Occupied,
		"empty":                  r.Report.Empty,
		"occupancy_rate":         r.Report.OccupancyRate,
		"alert":                  r.Alert,
		"over_capacity":          r.OverCapacity,
		"slots":                  slots,
		"processing_time_ms":     int(r.ProcessingTime / time.Millisecond),
	}
	if r.StateChange != nil {
		payload["state_change"] = r.StateChange
	}
	return json.Marshal(payload)
}

// Stats is a point-in-time snapshot of processor counters. CurrentOccupancy
// is null until the first successful detection.
type Stats struct {
	TotalFrames      int    `json:"total_frames"`
	ProcessedFrames  int    `json:"processed_frames"`
	SkipRate         string `json:"skip_rate"`
	CurrentOccupancy *int   `json:"current_occupancy"`
}

// Processor owns the per-connection lot stream state. Single session
// goroutine per processor, so no locking.
type Processor struct {
	cfg      Config
	detector vision.SlotDetector

	frameCount     int
	processedCount int
	lastOccupied   *int
	lastAlert      time.Time

	now func() time.Time
}

// New creates a Processor. Invalid knobs are clamped to safe values.
func New(cfg Config, detector vision.SlotDetector) *Processor {
	if cfg.SkipFrames < 1 {
		cfg.SkipFrames = 1
	}
	return &Processor{
		cfg:      cfg,
		detector: detector,
		now:      time.Now,
	}
}

// Config returns the effective configuration.
func (p *Processor) Config() Config { return p.cfg }

// ProcessFrame counts the frame and, on every SkipFrames-th one, runs slot
// detection. Skipped frames return nil.
func (p *Processor) ProcessFrame(ctx context.Context, frame []byte) *Result {
	p.frameCount++
	if p.frameCount%p.cfg.SkipFrames != 0 {
		return nil
	}

	start := time.Now()
	ts := p.now()

	report, err := p.detector.DetectSlots(ctx, frame)
	if err != nil {
		logger.Warn("lot", "slot detection failed on frame %d: %v", p.frameCount, err)
		return &Result{
			Success:     false,
			Error:       err.Error(),
			Timestamp:   ts,
			FrameNumber: p.frameCount,
		}
	}
	p.processedCount++

	return &Result{
		Success:              true,
		Timestamp:            ts,
		FrameNumber:          p.frameCount,
		ProcessedFrameNumber: p.processedCount,
		Report:               report,
		Alert:                p.shouldAlert(report.OccupancyRate, ts),
		OverCapacity:         p.cfg.MaxCapacity > 0 && report.Occupied > p.cfg.MaxCapacity,
		StateChange:          p.detectStateChange(report.Occupied),
		ProcessingTime:       time.Since(start),
	}
}

// shouldAlert fires when the rate reaches the threshold and the cooldown
// has elapsed. Sub-threshold frames never touch the cooldown clock.
func (p *Processor) shouldAlert(rate float64, now time.Time) bool {
	if rate < p.cfg.CapacityThreshold {
		return false
	}
	if !p.lastAlert.IsZero() && now.Sub(p.lastAlert) < p.cfg.AlertCooldown {
		return false
	}
	p.lastAlert = now
	return true
}

// detectStateChange compares the occupied count against the previous
// processed frame. The first success only sets the baseline.
func (p *Processor) detectStateChange(occupied int) *StateChange {
	prev := p.lastOccupied
	cur := occupied
	p.lastOccupied = &cur

	if prev == nil || *prev == occupied {
		return nil
	}
	change := occupied - *prev
	direction := "increased"
	if change < 0 {
		direction = "decreased"
	}
	return &StateChange{
		Previous:  *prev,
		Current:   occupied,
		Change:    change,
		Direction: direction,
	}
}

// Reset clears all counters, the occupancy baseline, and the cooldown clock.
func (p *Processor) Reset() {
	p.frameCount = 0
	p.processedCount = 0
	p.lastOccupied = nil
	p.lastAlert = time.Time{}
}

// Stats snapshots the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		TotalFrames:      p.frameCount,
		ProcessedFrames:  p.processedCount,
		SkipRate:         "1/" + strconv.Itoa(p.cfg.SkipFrames),
		CurrentOccupancy: p.lastOccupied,
	}
}
