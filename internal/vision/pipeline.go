package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"parkstream/internal/logger"
)

// Minimum crop size handed to OCR. Smaller regions are upscaled first;
// tiny plate crops read noticeably worse.
const (
	minCropWidth  = 80
	minCropHeight = 30
)

// padRatio widens each detection box before cropping so tight boxes do not
// clip plate characters.
const padRatio = 0.1

// Pipeline is the two-stage plate recognizer: localize plates, crop each
// region, run OCR, keep readable results.
type Pipeline struct {
	detector PlateDetector
	reader   PlateReader
}

// NewPipeline builds a PlateRecognizer from a detector and a reader.
func NewPipeline(detector PlateDetector, reader PlateReader) *Pipeline {
	return &Pipeline{detector: detector, reader: reader}
}

// RecognizePlates runs the full pipeline over one frame. Zero detections is
// a success with an empty list. A detector failure fails the frame; an OCR
// failure on one crop drops that plate and keeps the rest.
func (p *Pipeline) RecognizePlates(ctx context.Context, frame []byte) ([]Plate, error) {
	detections, err := p.detector.DetectPlates(ctx, frame)
	if err != nil {
		return nil, &AdapterError{Adapter: "plate-detector", Err: err}
	}
	if len(detections) == 0 {
		return []Plate{}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, &AdapterError{Adapter: "plate-detector", Err: err}
	}

	plates := make([]Plate, 0, len(detections))
	for _, det := range detections {
		crop, err := cropRegion(img, det.BBox)
		if err != nil {
			logger.Warn("pipeline", "skipping plate crop %+v: %v", det.BBox, err)
			continue
		}
		readout, err := p.reader.ReadPlate(ctx, crop)
		if err != nil {
			logger.Warn("pipeline", "OCR failed for region %+v: %v", det.BBox, err)
			continue
		}
		text, ok := NormalizePlate(readout.Text)
		if !ok {
			continue
		}
		plates = append(plates, Plate{
			Number:              text,
			RawText:             readout.RawText,
			OCRConfidence:       readout.Confidence,
			DetectionConfidence: det.Confidence,
			BBox:                det.BBox,
		})
	}
	return plates, nil
}

// cropRegion cuts the padded bbox out of the frame and upscales small crops
// before re-encoding for the OCR backend.
func cropRegion(img image.Image, box BBox) ([]byte, error) {
	bounds := img.Bounds()

	padX := int(float64(box.X2-box.X1) * padRatio)
	padY := int(float64(box.Y2-box.Y1) * padRatio)
	r := image.Rect(box.X1-padX, box.Y1-padY, box.X2+padX, box.Y2+padY).Intersect(bounds)
	if r.Empty() {
		return nil, &AdapterError{Adapter: "plate-ocr", Err: errEmptyRegion}
	}

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)

	var out image.Image = crop
	if r.Dx() < minCropWidth || r.Dy() < minCropHeight {
		scale := float64(minCropWidth) / float64(r.Dx())
		if s := float64(minCropHeight) / float64(r.Dy()); s > scale {
			scale = s
		}
		up := image.NewRGBA(image.Rect(0, 0, int(float64(r.Dx())*scale), int(float64(r.Dy())*scale)))
		draw.CatmullRom.Scale(up, up.Bounds(), crop, crop.Bounds(), draw.Over, nil)
		out = up
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errEmptyRegion = errors.New("detection region outside frame")
