// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the envelope every broker message travels in and the
// closed variant sets layered on top of it: call signals and chat events.
// The envelope's type tag alone routes a message; payloads are only decoded
// after the tag has selected a variant.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	SenderID  string          `json:"sender_id,omitempty"`
}

// Codec errors.
var (
	ErrEmptyType     = errors.New("envelope type is empty")
	ErrUnknownSignal = errors.New("unknown call signal type")
	ErrUnknownEvent  = errors.New("unknown chat event type")
	ErrMalformedData = errors.New("malformed envelope data")
)

// NewEnvelope wraps payload in an envelope stamped with the current time.
func NewEnvelope(typ, senderID string, payload any) (*Envelope, error) {
	if typ == "" {
		return nil, ErrEmptyType
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &Envelope{
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC(),
		SenderID:  senderID,
	}, nil
}

// Marshal encodes the envelope for publishing.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.Type == "" {
		return nil, ErrEmptyType
	}
	return json.Marshal(e)
}

// Unmarshal decodes an inbound payload into an envelope. The data field is
// left raw; variant decoding happens in DecodeSignal / DecodeChatEvent.
func Unmarshal(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if e.Type == "" {
		return nil, ErrEmptyType
	}
	return &e, nil
}

// decodeInto unmarshals the data payload, reporting the envelope type on error.
func (e *Envelope) decodeInto(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedData, e.Type, err)
	}
	return nil
}
