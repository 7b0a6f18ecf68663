package vision

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemotePlateDetector(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[{"confidence":0.88,"bbox":{"x1":10,"y1":20,"x2":110,"y2":60}}]}`))
	}))
	defer srv.Close()

	d := NewRemotePlateDetector(srv.URL)
	dets, err := d.DetectPlates(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("DetectPlates() error = %v", err)
	}
	if string(gotBody) != "frame" {
		t.Errorf("backend received %q, want frame bytes", gotBody)
	}
	if len(dets) != 1 || dets[0].Confidence != 0.88 || dets[0].BBox.X2 != 110 {
		t.Errorf("unexpected detections %+v", dets)
	}
}

func TestRemotePlateReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"AB123","raw_text":"ab-123","confidence":0.7}`))
	}))
	defer srv.Close()

	rd := NewRemotePlateReader(srv.URL)
	out, err := rd.ReadPlate(context.Background(), []byte("crop"))
	if err != nil {
		t.Fatalf("ReadPlate() error = %v", err)
	}
	if out.Text != "AB123" || out.Confidence != 0.7 {
		t.Errorf("unexpected readout %+v", out)
	}
}

func TestRemoteSlotDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slots":[{"id":1,"occupied":true},{"id":2,"occupied":false}]}`))
	}))
	defer srv.Close()

	d := NewRemoteSlotDetector(srv.URL)
	report, err := d.DetectSlots(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("DetectSlots() error = %v", err)
	}
	if report.TotalSlots != 2 || report.Occupied != 1 || report.OccupancyRate != 0.5 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRemoteErrors(t *testing.T) {
	t.Run("unconfigured URL", func(t *testing.T) {
		d := NewRemotePlateDetector("")
		_, err := d.DetectPlates(context.Background(), []byte("frame"))
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("want ErrNotConfigured, got %v", err)
		}
		var ae *AdapterError
		if !errors.As(err, &ae) {
			t.Errorf("want *AdapterError, got %T", err)
		}
	})

	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		d := NewRemoteSlotDetector(srv.URL)
		_, err := d.DetectSlots(context.Background(), []byte("frame"))
		var ae *AdapterError
		if !errors.As(err, &ae) {
			t.Fatalf("want *AdapterError, got %v", err)
		}
	})

	t.Run("garbage response body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		rd := NewRemotePlateReader(srv.URL)
		_, err := rd.ReadPlate(context.Background(), []byte("crop"))
		if err == nil {
			t.Fatal("want error on undecodable response")
		}
	})
}
