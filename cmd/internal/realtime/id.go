package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"beacon/cmd/identity/ids"
	v1 "beacon/shared/contracts/realtime/v1"
)

// NewEnvelopeID returns a ULID so envelope ids sort by emit time in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newEnvelope encodes payload once; the result is shared by every recipient.
func newEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: raw,
	}, nil
}

// rawJSON encodes values that cannot fail to marshal.
func rawJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// jsonOf encodes an opaque emit payload. A json.RawMessage passes through
// unchanged once validated.
func jsonOf(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid raw JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
