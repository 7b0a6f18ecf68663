// Package vision defines the inference adapter interfaces the stream
// processors consume and the result types they exchange. The actual
// detection and OCR engines live behind these interfaces; this package
// ships HTTP-backed adapters and the two-stage plate pipeline.
package vision

import (
	"context"
	"fmt"
	"strings"
)

// BBox is a pixel-space bounding box.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is a localized region with a confidence score.
type Detection struct {
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// PlateReadout is the OCR result for a single plate crop.
type PlateReadout struct {
	Text       string  `json:"text"`
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
}

// Plate is one fully recognized license plate.
type Plate struct {
	Number              string  `json:"plate_number"`
	RawText             string  `json:"raw_text"`
	OCRConfidence       float64 `json:"confidence"`
	DetectionConfidence float64 `json:"detection_confidence"`
	BBox                BBox    `json:"bbox"`
}

// Slot is one parking slot with its occupancy state.
type Slot struct {
	ID         int     `json:"id"`
	Occupied   bool    `json:"occupied"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// SlotReport summarizes one slot-detection pass over a frame.
type SlotReport struct {
	TotalSlots    int     `json:"total_slots"`
	Occupied      int     `json:"occupied"`
	Empty         int     `json:"empty"`
	OccupancyRate float64 `json:"occupancy_rate"`
	Slots         []Slot  `json:"slots"`
}

// PlateDetector localizes license plates in a frame.
type PlateDetector interface {
	DetectPlates(ctx context.Context, image []byte) ([]Detection, error)
}

// PlateReader runs OCR over a plate crop.
type PlateReader interface {
	ReadPlate(ctx context.Context, crop []byte) (PlateReadout, error)
}

// PlateRecognizer is the combined detect-then-read operation the gate
// monitor consumes.
type PlateRecognizer interface {
	RecognizePlates(ctx context.Context, image []byte) ([]Plate, error)
}

// SlotDetector reports slot occupancy for a frame.
type SlotDetector interface {
	DetectSlots(ctx context.Context, image []byte) (SlotReport, error)
}

// AdapterError wraps a failure from an inference backend. Sessions report
// it to the client and keep running.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s adapter: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NormalizePlate uppercases the text and strips everything outside [A-Z0-9].
// Readings shorter than 3 characters after cleaning are rejected.
func NormalizePlate(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) < 3 {
		return "", false
	}
	return s, true
}

// Report computes a SlotReport from raw slots, deriving counts and the
// occupancy rate (0 when no slots were found).
func Report(slots []Slot) SlotReport {
	r := SlotReport{TotalSlots: len(slots), Slots: slots}
	if r.Slots == nil {
		r.Slots = []Slot{}
	}
	for _, s := range slots {
		if s.Occupied {
			r.Occupied++
		}
	}
	r.Empty = r.TotalSlots - r.Occupied
	if r.TotalSlots > 0 {
		r.OccupancyRate = float64(r.Occupied) / float64(r.TotalSlots)
	}
	return r
}
