// Package client implements the edge-side session: a capture/send loop and
// a receive/react loop sharing one websocket connection, feeding detection
// results through zone classification, debouncing, and the alert gate.
package client

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/alerting"
	"github.com/counterwatch/counterwatch/internal/capture"
	"github.com/counterwatch/counterwatch/internal/config"
	"github.com/counterwatch/counterwatch/internal/debounce"
	"github.com/counterwatch/counterwatch/internal/protocol"
	"github.com/counterwatch/counterwatch/internal/zones"
)

const (
	writeWait = 10 * time.Second

	// captureRetryDelay is the initial backoff after a failed frame read;
	// it doubles up to captureRetryMax before resetting on success.
	captureRetryDelay = 100 * time.Millisecond
	captureRetryMax   = 2 * time.Second
)

// Dial connects to the detection server. Transport errors are terminal:
// reconnection is the caller's decision.
func Dial(ctx context.Context, cfg config.ClientConfig) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Session owns one connection to the detection server together with the
// capture source and all per-session detection state. The capture/send and
// receive/react loops run concurrently; each piece of shared state has a
// single logical owner or its own lock.
type Session struct {
	cfg        config.ClientConfig
	conn       *websocket.Conn
	source     capture.Source
	zoneSet    []zones.Zone
	zoneNames  map[string]string
	history    *debounce.Buffer
	gate       *alerting.Gate
	dispatcher *alerting.Dispatcher
	logger     *zap.Logger
	stats      *Stats

	// writeMu serializes websocket writes (frames and pings).
	writeMu sync.Mutex

	// Current-frame slot: single writer (capture loop), copy-on-read.
	frameMu sync.RWMutex
	current capture.Frame

	// In-flight frames awaiting a detection result: seq -> send time.
	inflightMu sync.Mutex
	inflight   map[uint64]time.Time

	// Outbound sequence id, strictly increasing, owned by the capture loop.
	seq uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession assembles a session over an established connection.
func NewSession(
	cfg config.ClientConfig,
	conn *websocket.Conn,
	source capture.Source,
	zoneSet []zones.Zone,
	dispatcher *alerting.Dispatcher,
	logger *zap.Logger,
) *Session {
	names := make(map[string]string, len(zoneSet))
	for _, z := range zoneSet {
		names[z.ID] = z.Name
	}
	return &Session{
		cfg:        cfg,
		conn:       conn,
		source:     source,
		zoneSet:    zoneSet,
		zoneNames:  names,
		history:    debounce.New(debounce.DefaultCapacity),
		gate:       alerting.NewGate(cfg.AlertCooldown),
		dispatcher: dispatcher,
		logger:     logger,
		stats:      NewStats(),
		inflight:   make(map[uint64]time.Time),
		done:       make(chan struct{}),
	}
}

// Stats returns the session's state object.
func (s *Session) Stats() *Stats { return s.stats }

// Gate returns the session's alert gate.
func (s *Session) Gate() *alerting.Gate { return s.gate }

// Run starts both loops and blocks until the session ends, either through
// context cancellation or transport closure. Shutdown releases the
// connection and the capture source deterministically.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.captureLoop()
	}()
	go func() {
		defer wg.Done()
		s.receiveLoop()
	}()

	select {
	case <-ctx.Done():
		s.shutdown()
	case <-s.done:
	}
	wg.Wait()

	s.logger.Info("session ended",
		zap.Uint64("frames_captured", s.stats.FramesCaptured.Load()),
		zap.Uint64("frames_sent", s.stats.FramesSent.Load()),
		zap.Uint64("detections_received", s.stats.DetectionsReceived.Load()),
		zap.Uint64("alerts_fired", s.stats.AlertsFired.Load()))
	return ctx.Err()
}

// shutdown stops both loops and releases the transport and capture source.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		s.conn.Close()
		s.source.Close()
	})
}

// captureLoop reads frames, maintains the current-frame slot, and sends
// every Kth frame to bound bandwidth. A failed read backs off and retries;
// a closed source or transport ends the session.
func (s *Session) captureLoop() {
	frameCount := 0
	retryDelay := captureRetryDelay
	lastPing := time.Now()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		frame, err := s.source.Read()
		if err != nil {
			if errors.Is(err, capture.ErrSourceClosed) {
				s.logger.Info("capture source closed")
				s.shutdown()
				return
			}
			s.stats.CaptureErrors.Add(1)
			s.logger.Warn("frame read failed, backing off",
				zap.Duration("retry_in", retryDelay),
				zap.Error(err))
			time.Sleep(retryDelay)
			if retryDelay < captureRetryMax {
				retryDelay *= 2
			}
			continue
		}
		retryDelay = captureRetryDelay

		s.stats.FramesCaptured.Add(1)
		s.setCurrentFrame(frame)

		frameCount++
		if frameCount%s.cfg.FrameSkip != 0 {
			continue
		}

		if !s.sendFrame(frame) {
			return
		}
		s.evictStaleInflight()

		if s.cfg.PingInterval > 0 && time.Since(lastPing) >= s.cfg.PingInterval {
			if err := s.Ping(); err != nil {
				s.logger.Warn("ping failed", zap.Error(err))
			}
			lastPing = time.Now()
		}
	}
}

// sendFrame assigns the next sequence id, records the in-flight entry, and
// writes the encoded frame. Returns false when the transport is gone.
func (s *Session) sendFrame(frame capture.Frame) bool {
	s.seq++
	seq := s.seq

	msg, err := protocol.NewFrameMessage(frame.Data, seq, frame.Width, frame.Height)
	if err != nil {
		s.logger.Warn("skipping unsendable frame", zap.Uint64("frame_id", seq), zap.Error(err))
		return true
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Warn("frame encode failed", zap.Uint64("frame_id", seq), zap.Error(err))
		return true
	}

	s.inflightMu.Lock()
	s.inflight[seq] = time.Now()
	s.inflightMu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()

	if err != nil {
		s.inflightMu.Lock()
		delete(s.inflight, seq)
		s.inflightMu.Unlock()

		if isClosedConn(err) {
			s.logger.Info("transport closed during send", zap.Error(err))
			s.shutdown()
			return false
		}
		// Frames are never retried; the pipeline tolerates loss.
		s.logger.Warn("frame send failed", zap.Uint64("frame_id", seq), zap.Error(err))
		return true
	}

	s.stats.FramesSent.Add(1)
	return true
}

// Ping sends an application-level ping. The capture loop paces these per
// PingInterval; the matching pong is handled by the receive loop.
func (s *Session) Ping() error {
	payload, err := protocol.Encode(protocol.NewPingMessage())
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// receiveLoop drains the connection and reacts per message kind. Per-message
// failures are logged and skipped; only transport closure ends the loop.
func (s *Session) receiveLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error("websocket read error", zap.Error(err))
			} else {
				s.logger.Info("connection to server closed")
			}
			s.shutdown()
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.stats.DecodeErrors.Add(1)
			s.logger.Warn("dropping undecodable message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case *protocol.DetectionMessage:
			s.handleDetection(m)

		case *protocol.ErrorMessage:
			s.stats.ServerErrors.Add(1)
			s.logger.Warn("server reported error",
				zap.String("error_type", m.ErrorType),
				zap.String("detail", m.Message))

		case *protocol.PongMessage:
			s.stats.PongsReceived.Add(1)
			rtt := time.Since(protocol.FromEpochSeconds(m.PingTimestamp))
			s.logger.Debug("pong received", zap.Duration("rtt", rtt))

		default:
			s.logger.Warn("unexpected message kind", zap.String("kind", string(msg.Kind())))
		}
	}
}

// handleDetection is the react path: latency accounting, zone
// classification, debounce, cooldown gate, and finally sink dispatch.
func (s *Session) handleDetection(m *protocol.DetectionMessage) {
	s.stats.DetectionsReceived.Add(1)

	if sentAt, ok := s.takeInflight(m.FrameID); ok {
		s.stats.ObserveLatency(time.Since(sentAt))
	}

	verdict := s.analyze(m.Boxes)
	s.history.Record(m.FrameID, verdict.elevated)
	if verdict.elevated {
		s.stats.ElevatedCount.Add(1)
	}

	s.logger.Debug("detection",
		zap.Uint64("frame_id", m.FrameID),
		zap.Int("boxes", len(m.Boxes)),
		zap.Bool("elevated", verdict.elevated),
		zap.Strings("zones", verdict.zoneIDs),
		zap.Float64("processing_s", m.ProcessingTime))

	if !s.history.Consecutive() {
		return
	}
	if !s.gate.ShouldFire(verdict.zoneIDs) {
		s.logger.Debug("alert suppressed by cooldown", zap.Strings("zones", verdict.zoneIDs))
		return
	}

	frame := s.CurrentFrame()
	alert := alerting.Alert{
		FrameID:     m.FrameID,
		Time:        time.Now(),
		ZoneIDs:     verdict.zoneIDs,
		ZoneNames:   verdict.zoneNames,
		Boxes:       m.Boxes,
		FrameJPEG:   frame.Data,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
	}

	delivered := s.dispatcher.Dispatch(alert)
	s.stats.AlertsFired.Add(1)
	s.logger.Info("alert fired",
		zap.Uint64("frame_id", m.FrameID),
		zap.Strings("zones", verdict.zoneNames),
		zap.Int("sinks_delivered", delivered))
}

// verdict is the outcome of analyzing one detection message.
type verdict struct {
	elevated  bool
	zoneIDs   []string
	zoneNames []string
}

// analyze classifies every box against the zone set and derives the
// elevated flag. Canonical rule: a box counts as elevated when it hits an
// enabled zone and its height ratio exceeds the configured minimum; the
// size_only variant drops the zone condition.
func (s *Session) analyze(boxes []protocol.Box) verdict {
	frameHeight := float64(s.frameHeight())
	if frameHeight <= 0 {
		return verdict{}
	}

	var v verdict
	hitSet := make(map[string]struct{})
	for _, b := range boxes {
		rect := zones.Rect{
			X1: float64(b.X1), Y1: float64(b.Y1),
			X2: float64(b.X2), Y2: float64(b.Y2),
		}
		hits := zones.Classify(rect, s.zoneSet)
		ratio := rect.Height() / frameHeight

		var elevated bool
		switch s.cfg.ElevatedRule {
		case config.ElevatedRuleSizeOnly:
			elevated = ratio > s.cfg.MinElevatedSizeRatio
		default:
			elevated = len(hits) > 0 && ratio > s.cfg.MinElevatedSizeRatio
		}
		if !elevated {
			continue
		}
		v.elevated = true
		for _, id := range hits {
			hitSet[id] = struct{}{}
		}
	}

	v.zoneIDs = make([]string, 0, len(hitSet))
	for id := range hitSet {
		v.zoneIDs = append(v.zoneIDs, id)
	}
	sort.Strings(v.zoneIDs)
	v.zoneNames = make([]string, 0, len(v.zoneIDs))
	for _, id := range v.zoneIDs {
		v.zoneNames = append(v.zoneNames, s.zoneNames[id])
	}
	return v
}

// setCurrentFrame stores the latest frame; readers copy on read.
func (s *Session) setCurrentFrame(frame capture.Frame) {
	s.frameMu.Lock()
	s.current = frame
	s.frameMu.Unlock()
}

// CurrentFrame returns a copy of the latest captured frame.
func (s *Session) CurrentFrame() capture.Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.current.Clone()
}

// frameHeight prefers the live frame's height, falling back to the
// configured camera resolution before the first capture.
func (s *Session) frameHeight() int {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	if s.current.Height > 0 {
		return s.current.Height
	}
	return s.cfg.CameraHeight
}

// takeInflight removes and returns the send timestamp for a sequence id.
func (s *Session) takeInflight(seq uint64) (time.Time, bool) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	t, ok := s.inflight[seq]
	if ok {
		delete(s.inflight, seq)
	}
	return t, ok
}

// InflightCount returns the number of frames awaiting a detection result.
func (s *Session) InflightCount() int {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return len(s.inflight)
}

// evictStaleInflight drops entries whose detection never arrived, capping
// the map's growth when the server silently loses frames.
func (s *Session) evictStaleInflight() {
	cutoff := time.Now().Add(-s.cfg.InflightTimeout)

	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	for seq, sentAt := range s.inflight {
		if sentAt.Before(cutoff) {
			delete(s.inflight, seq)
			s.stats.InflightEvicted.Add(1)
		}
	}
}

// isClosedConn reports whether a write error means the transport is gone.
func isClosedConn(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) ||
		websocket.IsUnexpectedCloseError(err) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && !netErr.Timeout()
}
