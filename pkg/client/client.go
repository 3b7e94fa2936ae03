// Package client implements the Parley client networking.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/protocol/pb"
)

// EventHandler is a callback for incoming frames.
type EventHandler func(f *pb.Frame)

// Client is one connection to a Parley server.
type Client struct {
	conn protocol.Conn
	done chan struct{}
}

// New wraps an established connection.
func New(conn protocol.Conn) *Client {
	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Dial connects to the server's frame listener, over TLS when useTLS is set.
func Dial(ctx context.Context, addr string, useTLS bool) (*Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if useTLS {
		tlsCfg := &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // accept the server's self-signed cert (TOFU model)
			MinVersion:         tls.VersionTLS13,
		}
		dialer := &tls.Dialer{Config: tlsCfg}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	return New(protocol.NewStreamConn(conn)), nil
}

// DialWebSocket connects through the server's /ws endpoint, e.g.
// "ws://localhost:46201/ws".
func DialWebSocket(ctx context.Context, url string) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial websocket: %w", err)
	}
	return New(protocol.NewWSConn(ws)), nil
}

func (c *Client) command(tag string, args ...string) error {
	if err := c.conn.WriteFrame(pb.NewCommand(tag, args...)); err != nil {
		return fmt.Errorf("client: send %s: %w", tag, err)
	}
	return nil
}

// Connect asks to join under name. The outcome arrives as a SERVER message.
func (c *Client) Connect(name string) error {
	return c.command(pb.TagConnect, name)
}

// Send sends content to a user or group.
func (c *Client) Send(to, content string) error {
	f := pb.NewMessageFrame(model.Message{Receiver: to, Content: content})
	if err := c.conn.WriteFrame(f); err != nil {
		return fmt.Errorf("client: send message: %w", err)
	}
	return nil
}

// CreateGroup creates group with the caller and members in it.
func (c *Client) CreateGroup(group string, members ...string) error {
	return c.command(pb.TagCreateGroup, group, strings.Join(members, " "))
}

// AddToGroup adds member to group.
func (c *Client) AddToGroup(group, member string) error {
	return c.command(pb.TagAddToGroup, group, member)
}

// LeaveGroup removes the caller from group.
func (c *Client) LeaveGroup(group string) error {
	return c.command(pb.TagLeaveGroup, group)
}

// Poll starts a yes/no poll in group.
func (c *Client) Poll(group, question string) error {
	return c.command(pb.TagPoll, group, question)
}

// Vote answers the running poll in group.
func (c *Client) Vote(group string, yes bool) error {
	answer := "no"
	if yes {
		answer = "yes"
	}
	return c.command(pb.TagPoll, group, answer)
}

// ListMembers asks for the members of group.
func (c *Client) ListMembers(group string) error {
	return c.command(pb.TagListMembers, group)
}

// MyGroups asks for the groups the caller belongs to.
func (c *Client) MyGroups() error {
	return c.command(pb.TagMyGroups)
}

// Disconnect asks the server to end the session. The server echoes a
// disconnect frame before closing.
func (c *Client) Disconnect() error {
	return c.command(pb.TagDisconnect)
}

// Receive blocks for the next frame. Do not mix with StartReceiving.
func (c *Client) Receive() (*pb.Frame, error) {
	f, err := c.conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("client: receive: %w", err)
	}
	return f, nil
}

// StartReceiving starts a goroutine that reads incoming frames and
// dispatches them to handler. Done is closed when it stops, which happens on
// a disconnect frame or a read failure.
func (c *Client) StartReceiving(handler EventHandler) {
	go func() {
		defer close(c.done)
		for {
			f, err := c.conn.ReadFrame()
			if err != nil {
				if protocol.IsClosed(err) {
					slog.Debug("connection closed")
					return
				}
				slog.Error("read error", "err", err)
				return
			}
			if handler != nil {
				handler(f)
			}
			if f.Tag == pb.TagDisconnect {
				return
			}
		}
	}()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the receive loop stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
