package fabric

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
)

// Kind classifies an envelope
type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindDirect    Kind = "direct"
	KindResponse  Kind = "response"
)

// Envelope is the unit exchanged between peers. It lives for one network
// round trip.
type Envelope struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	TargetID   string          `json:"targetId,omitempty"`
	Kind       Kind            `json:"kind"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ResponseID string          `json:"responseId,omitempty"`
	// Error is set on a response whose handler failed
	Error string `json:"error,omitempty"`
}

// Time returns the send time
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Frame header bytes
const (
	frameRaw    byte = 0
	frameSnappy byte = 1
)

// codec turns envelopes into frames. Frames larger than threshold are
// snappy-compressed; threshold <= 0 disables compression.
type codec struct {
	threshold int
}

func (c codec) encode(env *Envelope) ([]byte, bool, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode envelope: %w", err)
	}
	if c.threshold > 0 && len(body) > c.threshold {
		compressed := snappy.Encode(nil, body)
		frame := make([]byte, 0, len(compressed)+1)
		frame = append(frame, frameSnappy)
		return append(frame, compressed...), true, nil
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, frameRaw)
	return append(frame, body...), false, nil
}

func (c codec) decode(frame []byte) (*Envelope, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformed, len(frame))
	}
	body := frame[1:]
	switch frame[0] {
	case frameRaw:
	case frameSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrMalformed, err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("%w: unknown frame header %d", ErrMalformed, frame[0])
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == "" || env.SenderID == "" || env.Kind == "" {
		return nil, fmt.Errorf("%w: missing id, sender or kind", ErrMalformed)
	}
	return &env, nil
}
