package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured marks an adapter whose backend URL was never set.
var ErrNotConfigured = errors.New("inference backend not configured")

const defaultTimeout = 15 * time.Second

// remoteClient POSTs a frame to an inference server and decodes the JSON
// response into out.
type remoteClient struct {
	name   string
	url    string
	client *http.Client
}

func newRemoteClient(name, url string) remoteClient {
	return remoteClient{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (c remoteClient) post(ctx context.Context, image []byte, out any) error {
	if c.url == "" {
		return &AdapterError{Adapter: c.name, Err: ErrNotConfigured}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(image))
	if err != nil {
		return &AdapterError{Adapter: c.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return &AdapterError{Adapter: c.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &AdapterError{
			Adapter: c.name,
			Err:     fmt.Errorf("backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &AdapterError{Adapter: c.name, Err: fmt.Errorf("bad response: %w", err)}
	}
	return nil
}

// RemotePlateDetector calls an HTTP plate-localization service.
type RemotePlateDetector struct {
	rc remoteClient
}

// NewRemotePlateDetector returns a detector backed by url. An empty url is
// allowed; calls fail with ErrNotConfigured.
func NewRemotePlateDetector(url string) *RemotePlateDetector {
	return &RemotePlateDetector{rc: newRemoteClient("plate-detector", url)}
}

func (d *RemotePlateDetector) DetectPlates(ctx context.Context, image []byte) ([]Detection, error) {
	var resp struct {
		Detections []Detection `json:"detections"`
	}
	if err := d.rc.post(ctx, image, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

// RemotePlateReader calls an HTTP OCR service with a plate crop.
type RemotePlateReader struct {
	rc remoteClient
}

func NewRemotePlateReader(url string) *RemotePlateReader {
	return &RemotePlateReader{rc: newRemoteClient("plate-ocr", url)}
}

func (r *RemotePlateReader) ReadPlate(ctx context.Context, crop []byte) (PlateReadout, error) {
	var resp PlateReadout
	if err := r.rc.post(ctx, crop, &resp); err != nil {
		return PlateReadout{}, err
	}
	return resp, nil
}

// RemoteSlotDetector calls an HTTP slot-occupancy service.
type RemoteSlotDetector struct {
	rc remoteClient
}

func NewRemoteSlotDetector(url string) *RemoteSlotDetector {
	return &RemoteSlotDetector{rc: newRemoteClient("slot-detector", url)}
}

func (d *RemoteSlotDetector) DetectSlots(ctx context.Context, image []byte) (SlotReport, error) {
	var resp struct {
		Slots []Slot `json:"slots"`
	}
	if err := d.rc.post(ctx, image, &resp); err != nil {
		return SlotReport{}, err
	}
	return Report(resp.Slots), nil
}
