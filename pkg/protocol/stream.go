package protocol

import (
	"net"
	"sync"

	pb "github.com/NicolasHaas/parley/pkg/protocol/pb"
)

// StreamConn carries frames over a TCP or TLS connection.
type StreamConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewStreamConn wraps c.
func NewStreamConn(c net.Conn) *StreamConn {
	return &StreamConn{conn: c}
}

func (s *StreamConn) ReadFrame() (*pb.Frame, error) {
	return ReadFrame(s.conn)
}

func (s *StreamConn) WriteFrame(f *pb.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.conn, f)
}

func (s *StreamConn) Close() error {
	return s.conn.Close()
}

func (s *StreamConn) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
