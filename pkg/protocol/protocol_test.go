package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/parley/pkg/model"
	pb "github.com/NicolasHaas/parley/pkg/protocol/pb"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []*pb.Frame{
		pb.NewCommand(pb.TagConnect, "alice"),
		pb.NewCommand(pb.TagCreateGroup, "team", "alice bob"),
		pb.NewMessageFrame(model.Message{Sender: "[team] alice", Receiver: "team", Content: "hi"}),
		pb.NewDisconnectFrame(),
	}

	var buf bytes.Buffer
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame(%s): %v", f.Tag, err)
		}
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame mismatch (-want +got):\n%s", diff)
		}
	}
	if _, err := ReadFrame(&buf); !IsClosed(err) {
		t.Errorf("ReadFrame on empty buffer error = %v, want closed", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	big := pb.NewCommand(pb.TagConnect, strings.Repeat("x", MaxFrameSize))
	if err := WriteFrame(io.Discard, big); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("WriteFrame error = %v, want %v", err, ErrFrameTooLarge)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1))
	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame error = %v, want %v", err, ErrFrameTooLarge)
	}
}

func TestFrameArg(t *testing.T) {
	f := pb.NewCommand(pb.TagPoll, "team", "yes")
	if v, ok := f.Arg(1); !ok || v != "yes" {
		t.Errorf("Arg(1) = %q, %v", v, ok)
	}
	if _, ok := f.Arg(2); ok {
		t.Error("Arg(2) present, want missing")
	}
}

func TestStreamConn(t *testing.T) {
	a, b := net.Pipe()
	ca, cb := NewStreamConn(a), NewStreamConn(b)
	defer ca.Close()

	want := pb.NewCommand(pb.TagMyGroups)
	go func() {
		_ = ca.WriteFrame(want)
	}()
	got, err := cb.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}

	cb.Close()
	if _, err := ca.ReadFrame(); !IsClosed(err) {
		t.Errorf("ReadFrame after peer close error = %v, want closed", err)
	}
}

func TestWSConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConn(c)
		defer conn.Close()
		for {
			f, err := conn.ReadFrame()
			if err != nil {
				return
			}
			if err := conn.WriteFrame(f); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewWSConn(c)
	defer conn.Close()

	want := pb.NewMessageFrame(model.Message{Sender: "a", Receiver: "b", Content: "echo"})
	if err := conn.WriteFrame(want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}
