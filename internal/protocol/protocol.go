// Package protocol implements the {type, data} framing shared by the delivery
// channel, the browser bridge and the display receiver.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the value of the "type" field of a frame
type MessageType string

const (
	// TypePing is sent by the display side to check liveness
	TypePing MessageType = "Ping"
	// TypePong answers a Ping
	TypePong MessageType = "Pong"
	// TypeActive announces the current session
	TypeActive MessageType = "Active"
	// TypeInactive announces that no session is playing
	TypeInactive MessageType = "Inactive"
)

// Envelope is a raw frame
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeErrorKind classifies decode failures
type DecodeErrorKind int

const (
	// Malformed frames are not JSON objects with a string "type"
	Malformed DecodeErrorKind = iota
	// UnknownType frames carry a type outside the message set
	UnknownType
	// InvalidData frames have a known type but an unusable body
	InvalidData
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownType:
		return "unknown type"
	case InvalidData:
		return "invalid data"
	default:
		return "unknown"
	}
}

// DecodeError is returned for every frame that cannot be turned into a Message
type DecodeError struct {
	Kind DecodeErrorKind
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Type, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Type, e.Kind)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeKind reports whether err is a DecodeError of the given kind
func IsDecodeKind(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// ParseEnvelope validates that raw is a JSON object with a string "type" field
func ParseEnvelope(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("frame is null")
		}
		return Envelope{}, &DecodeError{Kind: Malformed, Err: err}
	}

	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, &DecodeError{Kind: Malformed, Err: errors.New("missing type")}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return Envelope{}, &DecodeError{Kind: Malformed, Err: fmt.Errorf("type is not a string: %w", err)}
	}

	env := Envelope{Type: typ}
	if data, ok := fields["data"]; ok && string(data) != "null" {
		env.Data = data
	}
	return env, nil
}

// MarshalEnvelope encodes a frame; nil data is omitted
func MarshalEnvelope(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", typ, err)
		}
		if string(raw) != "null" {
			env.Data = raw
		}
	}
	return json.Marshal(env)
}
