// Package server implements the detection server's per-connection
// request/response loop: decode inbound frames, dispatch to the inference
// collaborator, return detection results.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/inference"
	"github.com/counterwatch/counterwatch/internal/metrics"
	"github.com/counterwatch/counterwatch/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send transport-level pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Frames arrive base64-encoded,
	// so allow well above the raw JPEG budget.
	maxMessageSize = 8 * 1024 * 1024

	// inferenceTimeout bounds a single model call.
	inferenceTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Edge clients connect from arbitrary local networks.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Hub owns the detector and tracks active client sessions. Each accepted
// connection gets its own Session with independent read and write pumps, so
// one slow client never blocks another.
type Hub struct {
	detector inference.Detector
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates a hub around the given detector.
func NewHub(detector inference.Detector, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		detector: detector,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// ActiveSessions returns the number of currently connected clients.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleWebSocket upgrades the request and runs a session for it.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}

	session := &Session{
		id:     uuid.New().String(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		remote: conn.RemoteAddr().String(),
	}
	session.logger = h.logger.With(
		zap.String("session_id", session.id[:8]),
		zap.String("remote", session.remote),
	)

	h.register(session)

	go session.writePump()
	go session.readPump()

	return nil
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.metrics.ActiveSessions.Add(1)
	h.metrics.TotalSessions.Add(1)
	s.logger.Info("client connected")
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; ok {
		delete(h.sessions, s.id)
		close(s.send)
	}
	h.mu.Unlock()

	h.metrics.ActiveSessions.Add(-1)
	s.logger.Info("client disconnected",
		zap.Uint64("frames_processed", s.framesProcessed),
		zap.Uint64("errors", s.errorCount),
		zap.Duration("total_processing", s.totalProcessing))
}

// Session is one accepted client connection. The server is stateless across
// frames except for these per-connection diagnostics.
type Session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
	logger *zap.Logger

	// Running totals, touched only by the read pump.
	framesProcessed uint64
	errorCount      uint64
	totalProcessing time.Duration
}

// readPump drains the connection and answers each message. A malformed
// message never terminates the session; only transport closure does.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}
		s.handleMessage(data)
	}
}

// writePump serializes all outbound writes and keeps the transport-level
// ping/pong heartbeat alive.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Error("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes one inbound payload by message kind.
func (s *Session) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.errorCount++
		s.hub.metrics.DecodeErrors.Add(1)

		var decodeErr *protocol.DecodeError
		errorType := string(protocol.DecodeMalformed)
		if errors.As(err, &decodeErr) {
			errorType = string(decodeErr.Reason)
		}
		s.logger.Warn("rejected inbound message", zap.Error(err))
		s.reply(protocol.NewErrorMessage(errorType, err.Error(), nil))
		return
	}

	switch m := msg.(type) {
	case *protocol.FrameMessage:
		s.handleFrame(m)

	case *protocol.PingMessage:
		s.reply(protocol.NewPongMessage(m.Timestamp))

	case *protocol.ErrorMessage:
		s.logger.Warn("client reported error",
			zap.String("error_type", m.ErrorType),
			zap.String("detail", m.Message))

	default:
		s.errorCount++
		s.logger.Warn("unexpected message kind", zap.String("kind", string(msg.Kind())))
		s.reply(protocol.NewErrorMessage(string(protocol.DecodeUnknownType),
			"server does not accept "+string(msg.Kind())+" messages", nil))
	}
}

// handleFrame runs inference for one frame and returns the result. One
// frame in flight per connection: the model call is awaited here.
func (s *Session) handleFrame(frame *protocol.FrameMessage) {
	s.hub.metrics.FramesReceived.Add(1)

	image, err := frame.ImageBytes()
	if err != nil {
		s.errorCount++
		s.hub.metrics.DecodeErrors.Add(1)
		frameID := frame.FrameID
		s.reply(protocol.NewErrorMessage(string(protocol.DecodeMalformed), err.Error(), &frameID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inferenceTimeout)
	defer cancel()

	start := time.Now()
	boxes, err := s.hub.detector.Detect(ctx, image, frame.Width(), frame.Height())
	elapsed := time.Since(start)

	if err != nil {
		s.errorCount++
		s.hub.metrics.InferenceErrors.Add(1)
		s.logger.Error("inference failed",
			zap.Uint64("frame_id", frame.FrameID),
			zap.Error(err))
		frameID := frame.FrameID
		s.reply(protocol.NewErrorMessage("inference_error", err.Error(), &frameID))
		return
	}

	s.framesProcessed++
	s.totalProcessing += elapsed
	s.hub.metrics.DetectionsReturned.Add(1)
	s.hub.metrics.BoxesDetected.Add(uint64(len(boxes)))
	s.hub.metrics.ObserveProcessing(elapsed)

	s.logger.Debug("frame processed",
		zap.Uint64("frame_id", frame.FrameID),
		zap.Int("boxes", len(boxes)),
		zap.Duration("processing", elapsed))

	s.reply(protocol.NewDetectionMessage(frame.FrameID, boxes, elapsed))
}

// reply queues a message on the write pump, dropping it if the session's
// send buffer is full rather than blocking the read loop.
func (s *Session) reply(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("encode reply failed", zap.Error(err))
		return
	}
	select {
	case s.send <- payload:
	default:
		s.logger.Warn("send buffer full, dropping reply",
			zap.String("kind", string(msg.Kind())))
	}
}
