// Package inference defines the server's boundary to the object-detection
// model. The model itself is an external collaborator: frame bytes in,
// bounding boxes out. Failures must surface as errors, never as a silently
// empty box list.
package inference

import (
	"context"
	"time"

	"github.com/counterwatch/counterwatch/internal/protocol"
)

// Detector runs object detection on one compressed frame.
type Detector interface {
	Detect(ctx context.Context, image []byte, width, height int) ([]protocol.Box, error)
}

// ClassFilter wraps a detector and keeps only boxes of the configured class
// above a minimum confidence, the way the deployment cares about a single
// species.
type ClassFilter struct {
	inner         Detector
	className     string
	minConfidence float64
}

// NewClassFilter builds the filter. An empty className keeps every class.
func NewClassFilter(inner Detector, className string, minConfidence float64) *ClassFilter {
	return &ClassFilter{inner: inner, className: className, minConfidence: minConfidence}
}

func (f *ClassFilter) Detect(ctx context.Context, image []byte, width, height int) ([]protocol.Box, error) {
	boxes, err := f.inner.Detect(ctx, image, width, height)
	if err != nil {
		return nil, err
	}
	filtered := make([]protocol.Box, 0, len(boxes))
	for _, box := range boxes {
		if box.Confidence < f.minConfidence {
			continue
		}
		if f.className != "" && box.ClassName != f.className {
			continue
		}
		filtered = append(filtered, box)
	}
	return filtered, nil
}

// StubDetector returns a fixed set of boxes after an optional simulated
// processing delay. Stands in for the external model runtime in tests and
// when running the server without one attached.
type StubDetector struct {
	Boxes []protocol.Box
	Delay time.Duration
	Err   error
}

func (s *StubDetector) Detect(ctx context.Context, _ []byte, _, _ int) ([]protocol.Box, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]protocol.Box, len(s.Boxes))
	copy(out, s.Boxes)
	return out, nil
}
