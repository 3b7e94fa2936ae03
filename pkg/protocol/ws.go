package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pb "github.com/NicolasHaas/parley/pkg/protocol/pb"
)

const wsCloseWait = time.Second

// WSConn carries frames as JSON text messages over a WebSocket.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn wraps c and caps inbound messages at MaxFrameSize.
func NewWSConn(c *websocket.Conn) *WSConn {
	c.SetReadLimit(MaxFrameSize)
	return &WSConn{conn: c}
}

func (w *WSConn) ReadFrame() (*pb.Frame, error) {
	f := &pb.Frame{}
	if err := w.conn.ReadJSON(f); err != nil {
		return nil, fmt.Errorf("protocol: ws read: %w", err)
	}
	return f, nil
}

func (w *WSConn) WriteFrame(f *pb.Frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("protocol: ws write: %w", err)
	}
	return nil
}

// Close sends a close message and closes the underlying connection.
func (w *WSConn) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseWait))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WSConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
