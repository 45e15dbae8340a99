package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind string

const (
	// DecodeMalformed marks invalid JSON or missing required fields.
	DecodeMalformed DecodeErrorKind = "malformed"
	// DecodeUnknownType marks a type tag outside the closed message set.
	DecodeUnknownType DecodeErrorKind = "unknown_type"
)

// DecodeError is returned when an inbound payload cannot be turned into a
// message. It is always recoverable: the offending message is dropped and
// the connection continues.
type DecodeError struct {
	Reason DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Reason, e.Detail)
}

func malformed(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: DecodeMalformed, Detail: fmt.Sprintf(format, args...)}
}

// Encode serializes a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind(), err)
	}
	return data, nil
}

// Decode parses a wire payload into a typed message. It fails with a
// *DecodeError of reason unknown_type for an unrecognized type tag and
// malformed for invalid JSON or missing required fields.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if envelope.Type == "" {
		return nil, malformed("missing type field")
	}

	switch envelope.Type {
	case MessageTypeFrame:
		var msg FrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("frame message: %v", err)
		}
		if msg.Image == "" {
			return nil, malformed("frame %d missing image payload", msg.FrameID)
		}
		if msg.Shape[0] <= 0 || msg.Shape[1] <= 0 {
			return nil, malformed("frame %d has invalid shape %v", msg.FrameID, msg.Shape)
		}
		return &msg, nil

	case MessageTypeDetection:
		var msg DetectionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("detection message: %v", err)
		}
		if msg.Boxes == nil {
			return nil, malformed("detection %d missing boxes field", msg.FrameID)
		}
		return &msg, nil

	case MessageTypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("error message: %v", err)
		}
		if msg.ErrorType == "" {
			return nil, malformed("error message missing error_type")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("ping message: %v", err)
		}
		return &msg, nil

	case MessageTypePong:
		var msg PongMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, malformed("pong message: %v", err)
		}
		return &msg, nil

	default:
		return nil, &DecodeError{
			Reason: DecodeUnknownType,
			Detail: fmt.Sprintf("unsupported message type: %s", envelope.Type),
		}
	}
}
