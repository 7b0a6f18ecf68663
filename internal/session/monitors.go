package session

import (
	"context"
	"time"

	"parkstream/internal/gate"
	"parkstream/internal/logger"
	"parkstream/internal/lot"
	"parkstream/internal/metrics"
	"parkstream/internal/vision"
)

// EventPublisher receives the events worth forwarding off-process: plates
// classified as new, and fired capacity alerts. A nil publisher disables
// forwarding.
type EventPublisher interface {
	PublishPlate(plate vision.Plate)
	PublishCapacityAlert(report vision.SlotReport)
}

// GateMonitor adapts a gate.Processor to the Monitor interface and feeds
// metrics and the publisher from its results.
type GateMonitor struct {
	proc      *gate.Processor
	publisher EventPublisher
	metrics   *metrics.Metrics
}

func NewGateMonitor(proc *gate.Processor, publisher EventPublisher, m *metrics.Metrics) *GateMonitor {
	return &GateMonitor{proc: proc, publisher: publisher, metrics: m}
}

func (g *GateMonitor) Kind() string { return "gate" }

func (g *GateMonitor) ConfigPayload() map[string]any {
	cfg := g.proc.Config()
	return map[string]any{
		"skip_frames":        cfg.SkipFrames,
		"dedup_window_sec":   int(cfg.DedupWindow / time.Second),
		"max_tracked_plates": cfg.MaxTrackedPlates,
	}
}

func (g *GateMonitor) ProcessFrame(ctx context.Context, data []byte) (any, bool) {
	r := g.proc.ProcessFrame(ctx, data)
	if r == nil {
		g.metrics.FramesSkipped.Add(1)
		return nil, false
	}
	if !r.Success {
		g.metrics.AdapterErrors.Add(1)
		return r, true
	}
	g.metrics.FramesProcessed.Add(1)
	g.metrics.PlatesDetected.Add(uint64(len(r.Plates)))
	g.metrics.NewPlates.Add(uint64(r.NewPlates))
	if g.publisher != nil {
		for _, pl := range r.Plates {
			if pl.IsNew {
				g.publisher.PublishPlate(pl.Plate)
			}
		}
	}
	return r, true
}

func (g *GateMonitor) Reset() {
	g.proc.Reset()
	logger.Debug("session", "gate monitor reset")
}

func (g *GateMonitor) Stats() any { return g.proc.Stats() }

// LotMonitor adapts a lot.Processor to the Monitor interface.
type LotMonitor struct {
	proc      *lot.Processor
	publisher EventPublisher
	metrics   *metrics.Metrics
}

func NewLotMonitor(proc *lot.Processor, publisher EventPublisher, m *metrics.Metrics) *LotMonitor {
	return &LotMonitor{proc: proc, publisher: publisher, metrics: m}
}

func (l *LotMonitor) Kind() string { return "lot" }

func (l *LotMonitor) ConfigPayload() map[string]any {
	cfg := l.proc.Config()
	payload := map[string]any{
		"skip_frames":        cfg.SkipFrames,
		"capacity_threshold": cfg.CapacityThreshold,
		"alert_cooldown_sec": int(cfg.AlertCooldown / time.Second),
	}
	if cfg.MaxCapacity > 0 {
		payload["max_capacity"] = cfg.MaxCapacity
	}
	return payload
}

func (l *LotMonitor) ProcessFrame(ctx context.Context, data []byte) (any, bool) {
	r := l.proc.ProcessFrame(ctx, data)
	if r == nil {
		l.metrics.FramesSkipped.Add(1)
		return nil, false
	}
	if !r.Success {
		l.metrics.AdapterErrors.Add(1)
		return r, true
	}
	l.metrics.FramesProcessed.Add(1)
	if r.Alert {
		l.metrics.AlertsFired.Add(1)
		if l.publisher != nil {
			l.publisher.PublishCapacityAlert(r.Report)
		}
	}
	return r, true
}

func (l *LotMonitor) Reset() {
	l.proc.Reset()
	logger.Debug("session", "lot monitor reset")
}

func (l *LotMonitor) Stats() any { return l.proc.Stats() }
