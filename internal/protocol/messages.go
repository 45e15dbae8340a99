package protocol

import (
	"encoding/base64"
	"fmt"
	"time"
)

// MessageType identifies a wire message kind.
type MessageType string

// Supported message types. The set is closed: Decode rejects anything else.
const (
	MessageTypeFrame     MessageType = "frame"
	MessageTypeDetection MessageType = "detection"
	MessageTypeError     MessageType = "error"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// Message is implemented by every wire message.
type Message interface {
	Kind() MessageType
}

// FrameMessage carries one captured camera frame from client to server.
// The image payload is an opaque compressed blob (JPEG or equivalent)
// transported base64-encoded; the protocol never inspects pixel content.
type FrameMessage struct {
	Type      MessageType `json:"type"`
	FrameID   uint64      `json:"frame_id"`
	Timestamp float64     `json:"timestamp"`
	Image     string      `json:"image"`
	Shape     [2]int      `json:"shape"` // [height, width]
}

// NewFrameMessage builds a frame message from raw compressed image bytes.
func NewFrameMessage(image []byte, frameID uint64, width, height int) (*FrameMessage, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image payload for frame %d", frameID)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame shape %dx%d", width, height)
	}
	return &FrameMessage{
		Type:      MessageTypeFrame,
		FrameID:   frameID,
		Timestamp: EpochSeconds(time.Now()),
		Image:     base64.StdEncoding.EncodeToString(image),
		Shape:     [2]int{height, width},
	}, nil
}

func (m *FrameMessage) Kind() MessageType { return MessageTypeFrame }

// ImageBytes decodes the base64 payload back to the original bytes.
func (m *FrameMessage) ImageBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Image)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d image: %w", m.FrameID, err)
	}
	return data, nil
}

func (m *FrameMessage) Height() int { return m.Shape[0] }
func (m *FrameMessage) Width() int  { return m.Shape[1] }

// Box is a single detection bounding box in pixel coordinates.
type Box struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// DetectionMessage carries the inference result for one frame back to the
// client. It is correlated to the originating frame solely by FrameID.
// Elevated is advisory and may be omitted; the client derives its own
// verdict from the boxes and its zone configuration.
type DetectionMessage struct {
	Type           MessageType `json:"type"`
	FrameID        uint64      `json:"frame_id"`
	Timestamp      float64     `json:"timestamp"`
	Elevated       *bool       `json:"elevated,omitempty"`
	Boxes          []Box       `json:"boxes"`
	ProcessingTime float64     `json:"processing_time"`
}

// NewDetectionMessage builds a detection message stamped with the current time.
func NewDetectionMessage(frameID uint64, boxes []Box, processing time.Duration) *DetectionMessage {
	if boxes == nil {
		boxes = []Box{}
	}
	return &DetectionMessage{
		Type:           MessageTypeDetection,
		FrameID:        frameID,
		Timestamp:      EpochSeconds(time.Now()),
		Boxes:          boxes,
		ProcessingTime: processing.Seconds(),
	}
}

func (m *DetectionMessage) Kind() MessageType { return MessageTypeDetection }

// ErrorMessage reports a per-message failure without tearing down the
// connection. FrameID is null when the error is not tied to a frame.
type ErrorMessage struct {
	Type      MessageType `json:"type"`
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	FrameID   *uint64     `json:"frame_id"`
	Timestamp float64     `json:"timestamp"`
}

// NewErrorMessage builds an error message. Pass nil frameID for errors not
// attributable to a specific frame.
func NewErrorMessage(errorType, detail string, frameID *uint64) *ErrorMessage {
	return &ErrorMessage{
		Type:      MessageTypeError,
		ErrorType: errorType,
		Message:   detail,
		FrameID:   frameID,
		Timestamp: EpochSeconds(time.Now()),
	}
}

func (m *ErrorMessage) Kind() MessageType { return MessageTypeError }

// PingMessage is a connection health probe.
type PingMessage struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}

// NewPingMessage builds a ping stamped with the current time.
func NewPingMessage() *PingMessage {
	return &PingMessage{Type: MessageTypePing, Timestamp: EpochSeconds(time.Now())}
}

func (m *PingMessage) Kind() MessageType { return MessageTypePing }

// PongMessage answers a ping, echoing the original ping timestamp so the
// sender can measure round-trip time.
type PongMessage struct {
	Type          MessageType `json:"type"`
	PingTimestamp float64     `json:"ping_timestamp"`
	PongTimestamp float64     `json:"pong_timestamp"`
}

// NewPongMessage builds a pong for the given ping timestamp.
func NewPongMessage(pingTimestamp float64) *PongMessage {
	return &PongMessage{
		Type:          MessageTypePong,
		PingTimestamp: pingTimestamp,
		PongTimestamp: EpochSeconds(time.Now()),
	}
}

func (m *PongMessage) Kind() MessageType { return MessageTypePong }

// EpochSeconds converts a time to fractional seconds since the Unix epoch,
// the wire representation for all timestamps.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds converts a wire timestamp back to a time.
func FromEpochSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
