// Package capture defines the frame-source boundary. Camera acquisition
// itself is an external collaborator; the client session only depends on
// the Source interface and applies the same retry discipline to any
// implementation.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSourceClosed is returned by Read after the source has been closed.
// It is the only capture error a session treats as unrecoverable.
var ErrSourceClosed = errors.New("capture: source closed")

// Frame is one captured image. Data is an opaque compressed payload (JPEG
// or equivalent) ready for transport.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Time   time.Time
}

// Clone returns a deep copy so readers never observe a torn frame while
// the capture loop overwrites the current slot.
func (f Frame) Clone() Frame {
	out := f
	out.Data = make([]byte, len(f.Data))
	copy(out.Data, f.Data)
	return out
}

// Source produces frames. Read may block per the underlying device's pace.
type Source interface {
	Read() (Frame, error)
	Close() error
}

// SyntheticSource generates deterministic frames at a fixed pace. Used for
// tests and for running the pipeline without camera hardware.
type SyntheticSource struct {
	width    int
	height   int
	interval time.Duration

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewSyntheticSource creates a source emitting width x height frames. A
// zero interval disables pacing.
func NewSyntheticSource(width, height int, interval time.Duration) *SyntheticSource {
	return &SyntheticSource{width: width, height: height, interval: interval}
}

// Read returns the next synthetic frame. The payload is a small
// deterministic byte pattern standing in for compressed image data.
func (s *SyntheticSource) Read() (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrSourceClosed
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if s.interval > 0 {
		time.Sleep(s.interval)
	}

	payload := []byte(fmt.Sprintf("synthetic-frame-%06d-%dx%d", seq, s.width, s.height))
	return Frame{
		Data:   payload,
		Width:  s.width,
		Height: s.height,
		Time:   time.Now(),
	}, nil
}

// Close stops the source; subsequent reads return ErrSourceClosed.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FramesEmitted returns how many frames have been read so far.
func (s *SyntheticSource) FramesEmitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
