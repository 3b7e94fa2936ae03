// Package protocol defines the frame encoding shared by the stream and
// WebSocket transports.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"

	pb "github.com/NicolasHaas/parley/pkg/protocol/pb"
)

// MaxFrameSize is the maximum encoded frame size (64KB).
const MaxFrameSize = 65536

// ErrFrameTooLarge is returned for frames over MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// Conn is a bidirectional frame connection. ReadFrame must only be called from
// one goroutine; WriteFrame and Close are safe for concurrent use.
type Conn interface {
	ReadFrame() (*pb.Frame, error)
	WriteFrame(f *pb.Frame) error
	Close() error
	RemoteAddr() string
}

// WriteFrame writes a length-prefixed JSON frame to a writer.
// Format: [4-byte big-endian length][JSON payload]
func WriteFrame(w io.Writer, f *pb.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	// Prefix and payload go out in a single write.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data))) //nolint:gosec // length already bounds-checked above
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed JSON frame from a reader.
func ReadFrame(r io.Reader) (*pb.Frame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}

	f := &pb.Frame{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	return f, nil
}

// IsClosed reports whether err means the peer or the local side closed the
// connection, as opposed to a protocol error worth logging.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent)
}
