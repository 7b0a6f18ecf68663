// Package frame decodes the frame payloads clients push over a monitor
// session: raw binary JPEG/PNG bytes, or a JSON envelope carrying a base64
// string (optionally with a data-URL prefix).
package frame

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeError reports a payload that could not be turned into image bytes.
// It is recoverable at the session layer; the connection stays open.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("frame decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrNoData marks a JSON envelope without a "data" key. The session layer
// treats such messages as control traffic, not frames.
var ErrNoData = errors.New("envelope has no data field")

// DecodeBase64 decodes a base64 frame string. A data-URL prefix
// ("data:image/jpeg;base64,...") is stripped at the first comma.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	return raw, nil
}

// DecodeEnvelope decodes a JSON text message into image bytes. Messages
// without a "data" key return ErrNoData so the caller can dispatch them as
// control messages instead.
func DecodeEnvelope(payload []byte) ([]byte, error) {
	var env struct {
		Data *string `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON envelope", Err: err}
	}
	if env.Data == nil {
		return nil, ErrNoData
	}
	return DecodeBase64(*env.Data)
}
