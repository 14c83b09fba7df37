package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// wsConn wraps one WebSocket connection with a buffered outbound queue.
// Send never blocks: when the queue is full the frame is dropped, keeping
// room fan-out free of per-client backpressure.
type wsConn struct {
	id   protocol.ConnectionID
	conn wsConnection

	send chan []byte

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

const sendQueueSize = 256

func newWSConn(id protocol.ConnectionID, conn wsConnection) *wsConn {
	return &wsConn{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
}

// Send encodes and queues a frame. Emissions to a closed connection are
// discarded silently.
func (w *wsConn) Send(frameType string, payload any) {
	data, err := protocol.EncodeFrame(frameType, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode frame",
			zap.Error(err), zap.String("frame", frameType), zap.String("connectionId", string(w.id)))
		return
	}

	// The read lock is held across the queue send so Close cannot close the
	// channel mid-send. The select never blocks, so the lock is short-lived.
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.send <- data:
	default:
		logging.Warn(context.Background(), "Client send queue full, dropping frame",
			zap.String("frame", frameType), zap.String("connectionId", string(w.id)))
	}
}

// Close marks the connection closed and lets writePump drain, send the
// close frame and tear down the socket. Safe to call more than once. The
// channel is closed under the write lock, after every in-flight Send has
// released its read lock.
func (w *wsConn) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.send)
		w.mu.Unlock()
	})
}

// writePump drains the outbound queue onto the socket.
func (w *wsConn) writePump() {
	defer w.conn.Close()
	writeWait := 10 * time.Second

	for message := range w.send {
		_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
	_ = w.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump decodes inbound frames and hands them to the dispatcher in
// arrival order. onClose runs exactly once when the read loop ends.
func (w *wsConn) readPump(handle func(protocol.Frame), onClose func()) {
	defer func() {
		onClose()
		w.Close()
		_ = w.conn.Close()
	}()

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			logging.Warn(context.Background(), "Dropping malformed frame",
				zap.Error(err), zap.String("connectionId", string(w.id)))
			continue
		}

		handle(frame)
	}
}
