package protocol

import (
	"encoding/json"
	"errors"
)

// Message is one of Ping, Pong, Active or Inactive
type Message interface {
	Type() MessageType
	isMessage()
}

// Ping is the liveness probe
type Ping struct{}

// Pong answers a Ping
type Pong struct{}

// Inactive announces that nothing is playing
type Inactive struct{}

// Active announces a session. Exactly one of PlayInfo and Legacy is set.
type Active struct {
	PlayInfo *PlayInfo
	Legacy   *LegacyEvent
}

func (Ping) Type() MessageType     { return TypePing }
func (Pong) Type() MessageType     { return TypePong }
func (Inactive) Type() MessageType { return TypeInactive }
func (Active) Type() MessageType   { return TypeActive }

func (Ping) isMessage()     {}
func (Pong) isMessage()     {}
func (Inactive) isMessage() {}
func (Active) isMessage()   {}

// Body returns the payload carried by the message
func (a Active) Body() any {
	if a.Legacy != nil {
		return a.Legacy
	}
	return a.PlayInfo
}

// Encode serialises a message into a frame
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case Active:
		if m.PlayInfo == nil && m.Legacy == nil {
			return nil, errors.New("active message without body")
		}
		return MarshalEnvelope(string(TypeActive), m.Body())
	default:
		return MarshalEnvelope(string(m.Type()), nil)
	}
}

// Decode parses a frame into a Message.
// Every failure is a *DecodeError.
func Decode(raw []byte) (Message, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope turns an already parsed envelope into a Message
func DecodeEnvelope(env Envelope) (Message, error) {
	switch MessageType(env.Type) {
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeInactive:
		return Inactive{}, nil
	case TypeActive:
		return decodeActive(env)
	default:
		return nil, &DecodeError{Kind: UnknownType, Type: env.Type}
	}
}

func decodeActive(env Envelope) (Message, error) {
	if len(env.Data) == 0 {
		return nil, &DecodeError{Kind: InvalidData, Type: env.Type, Err: errors.New("missing data")}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return nil, &DecodeError{Kind: InvalidData, Type: env.Type, Err: err}
	}

	if _, legacy := probe["metadata"]; legacy {
		var body LegacyEvent
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, &DecodeError{Kind: InvalidData, Type: env.Type, Err: err}
		}
		return Active{Legacy: &body}, nil
	}

	var body PlayInfo
	if err := json.Unmarshal(env.Data, &body); err != nil {
		return nil, &DecodeError{Kind: InvalidData, Type: env.Type, Err: err}
	}
	return Active{PlayInfo: &body}, nil
}
