package server

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/counterwatch/counterwatch/internal/inference"
	"github.com/counterwatch/counterwatch/internal/metrics"
	"github.com/counterwatch/counterwatch/internal/protocol"
)

// dialTestHub spins up an echo server around a hub and dials it.
func dialTestHub(t *testing.T, detector inference.Detector) (*Hub, *metrics.Metrics, *websocket.Conn) {
	t.Helper()

	m := metrics.New()
	hub := NewHub(detector, m, zap.NewNop())

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing test hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return hub, m, conn
}

func readReply(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	return msg
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameID uint64) {
	t.Helper()
	frame, err := protocol.NewFrameMessage([]byte("fake-jpeg-bytes"), frameID, 640, 480)
	if err != nil {
		t.Fatalf("building frame: %v", err)
	}
	payload, err := protocol.Encode(frame)
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("sending frame: %v", err)
	}
}

func TestFrameProducesDetection(t *testing.T) {
	boxes := []protocol.Box{
		{X1: 100, Y1: 100, X2: 300, Y2: 300, Confidence: 0.9, ClassID: 16, ClassName: "dog"},
	}
	_, m, conn := dialTestHub(t, &inference.StubDetector{Boxes: boxes})

	sendFrame(t, conn, 42)

	det, ok := readReply(t, conn).(*protocol.DetectionMessage)
	if !ok {
		t.Fatal("expected a detection reply")
	}
	if det.FrameID != 42 {
		t.Errorf("detection carries frame_id %d, want 42", det.FrameID)
	}
	if len(det.Boxes) != 1 || det.Boxes[0].ClassName != "dog" {
		t.Errorf("unexpected boxes: %v", det.Boxes)
	}
	if det.ProcessingTime < 0 {
		t.Errorf("negative processing time %v", det.ProcessingTime)
	}
	if m.FramesReceived.Load() != 1 || m.DetectionsReturned.Load() != 1 {
		t.Errorf("metrics not updated: received=%d returned=%d",
			m.FramesReceived.Load(), m.DetectionsReturned.Load())
	}
}

func TestFrameCorrelationAcrossMultipleFrames(t *testing.T) {
	_, _, conn := dialTestHub(t, &inference.StubDetector{})

	for _, id := range []uint64{1, 2, 3} {
		sendFrame(t, conn, id)
	}
	for _, want := range []uint64{1, 2, 3} {
		det, ok := readReply(t, conn).(*protocol.DetectionMessage)
		if !ok {
			t.Fatal("expected a detection reply")
		}
		if det.FrameID != want {
			t.Errorf("expected frame_id %d, got %d", want, det.FrameID)
		}
	}
}

func TestPingGetsPong(t *testing.T) {
	_, _, conn := dialTestHub(t, &inference.StubDetector{})

	ping := protocol.NewPingMessage()
	payload, _ := protocol.Encode(ping)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("sending ping: %v", err)
	}

	pong, ok := readReply(t, conn).(*protocol.PongMessage)
	if !ok {
		t.Fatal("expected a pong reply")
	}
	if pong.PingTimestamp != ping.Timestamp {
		t.Errorf("pong must echo the ping timestamp: %v != %v", pong.PingTimestamp, ping.Timestamp)
	}
}

func TestMalformedMessageKeepsSessionAlive(t *testing.T) {
	_, m, conn := dialTestHub(t, &inference.StubDetector{})

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{garbage")); err != nil {
		t.Fatalf("sending garbage: %v", err)
	}
	em, ok := readReply(t, conn).(*protocol.ErrorMessage)
	if !ok {
		t.Fatal("expected an error reply")
	}
	if em.ErrorType != string(protocol.DecodeMalformed) {
		t.Errorf("expected malformed error type, got %s", em.ErrorType)
	}
	if m.DecodeErrors.Load() != 1 {
		t.Errorf("expected 1 decode error counted, got %d", m.DecodeErrors.Load())
	}

	// The connection must survive and keep serving frames.
	sendFrame(t, conn, 7)
	det, ok := readReply(t, conn).(*protocol.DetectionMessage)
	if !ok {
		t.Fatal("expected a detection after the malformed message")
	}
	if det.FrameID != 7 {
		t.Errorf("expected frame_id 7, got %d", det.FrameID)
	}
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	_, _, conn := dialTestHub(t, &inference.StubDetector{})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telemetry"}`)); err != nil {
		t.Fatalf("sending unknown type: %v", err)
	}
	em, ok := readReply(t, conn).(*protocol.ErrorMessage)
	if !ok {
		t.Fatal("expected an error reply")
	}
	if em.ErrorType != string(protocol.DecodeUnknownType) {
		t.Errorf("expected unknown_type, got %s", em.ErrorType)
	}
}

func TestInferenceErrorReportedWithFrameID(t *testing.T) {
	_, m, conn := dialTestHub(t, &inference.StubDetector{Err: errors.New("model crashed")})

	sendFrame(t, conn, 9)

	em, ok := readReply(t, conn).(*protocol.ErrorMessage)
	if !ok {
		t.Fatal("expected an error reply")
	}
	if em.ErrorType != "inference_error" {
		t.Errorf("expected inference_error, got %s", em.ErrorType)
	}
	if em.FrameID == nil || *em.FrameID != 9 {
		t.Errorf("error must name the failed frame, got %v", em.FrameID)
	}
	if m.InferenceErrors.Load() != 1 {
		t.Errorf("expected 1 inference error counted, got %d", m.InferenceErrors.Load())
	}

	// A failed frame is not fatal either.
	sendFrame(t, conn, 10)
	if _, ok := readReply(t, conn).(*protocol.ErrorMessage); !ok {
		t.Fatal("session should keep answering after an inference error")
	}
}

func TestSessionRegistration(t *testing.T) {
	hub, m, conn := dialTestHub(t, &inference.StubDetector{})

	waitFor(t, func() bool { return hub.ActiveSessions() == 1 })
	if m.TotalSessions.Load() != 1 {
		t.Errorf("expected 1 total session, got %d", m.TotalSessions.Load())
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ActiveSessions() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
