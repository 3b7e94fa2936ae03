package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/protocol/pb"
	"github.com/NicolasHaas/parley/pkg/router"
)

// Session is one client connection, on either transport. The read loop
// dispatches commands to the router; once connected, a delivery loop drains
// the user's mailbox every DeliveryInterval.
type Session struct {
	ID   string
	conn protocol.Conn

	srv    *Server
	userID atomic.Int64 // 0 until connect succeeds
	name   string       // owned by the read loop

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(srv *Server, conn protocol.Conn) *Session {
	ctx, cancel := context.WithCancel(srv.ctx)
	return &Session{
		ID:     uuid.NewString(),
		conn:   conn,
		srv:    srv,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// UserID returns the connected user's id, or 0 before connect.
func (s *Session) UserID() model.UserID {
	return model.UserID(s.userID.Load())
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// serveConn registers conn as a new session and runs its read loop on the
// calling goroutine.
func (s *Server) serveConn(conn protocol.Conn) {
	sess := newSession(s, conn)
	s.metrics.ActiveConnections.Add(1)
	if !s.sessions.Add(sess) {
		s.metrics.ActiveConnections.Add(-1)
		_ = conn.Close()
		return
	}
	s.metrics.TotalConnections.Add(1)
	slog.Info("new connection", "session", sess.ID, "remote", conn.RemoteAddr())
	sess.serve()
}

func (s *Session) serve() {
	defer s.Close()
	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			if !protocol.IsClosed(err) && s.ctx.Err() == nil {
				slog.Warn("read frame failed", "session", s.ID, "err", err)
			}
			return
		}
		s.srv.metrics.FramesIn.Add(1)
		if !s.dispatch(f) {
			return
		}
	}
}

// dispatch handles one frame. It returns false when the session should end.
func (s *Session) dispatch(f *pb.Frame) bool {
	if f.Tag == pb.TagDisconnect {
		_ = s.write(pb.NewDisconnectFrame())
		return false
	}

	id := s.UserID()
	if f.Tag == pb.TagConnect {
		s.handleConnect(f, id)
		return true
	}
	if id == 0 {
		_ = s.writeSystem("please connect first")
		return true
	}

	var err error
	switch f.Tag {
	case pb.TagMessage:
		err = s.handleMessage(f)
	case pb.TagCreateGroup:
		err = s.handleCreateGroup(f)
	case pb.TagAddToGroup:
		err = s.handleAddToGroup(f, id)
	case pb.TagLeaveGroup:
		err = s.handleLeaveGroup(f, id)
	case pb.TagPoll:
		err = s.handlePoll(f, id)
	case pb.TagListMembers:
		err = s.handleListMembers(f, id)
	case pb.TagMyGroups:
		groups := s.srv.router.GroupsOf(s.name)
		s.srv.router.Notify(id, "your groups: "+strings.Join(groups, ", "))
	default:
		err = fmt.Errorf("%w: unknown command %q", router.ErrMalformed, f.Tag)
	}

	switch {
	case errors.Is(err, router.ErrMalformed):
		s.srv.metrics.MalformedFrames.Add(1)
		slog.Debug("malformed command ignored", "session", s.ID, "tag", f.Tag, "err", err)
	case err != nil:
		s.srv.router.Notify(id, err.Error())
	}
	return true
}

func (s *Session) handleConnect(f *pb.Frame, id model.UserID) {
	if id != 0 {
		s.srv.router.Notify(id, "already connected as "+s.name)
		return
	}
	name, ok := f.Arg(0)
	if !ok {
		s.srv.metrics.MalformedFrames.Add(1)
		slog.Debug("malformed command ignored", "session", s.ID, "tag", f.Tag)
		return
	}

	newID, err := s.srv.router.Connect(name)
	if err != nil {
		s.srv.metrics.FailedConnects.Add(1)
		slog.Info("connect refused", "session", s.ID, "name", name, "err", err)
		_ = s.writeSystem(err.Error())
		return
	}

	s.name = name
	s.userID.Store(int64(newID))
	if s.ctx.Err() != nil {
		// Closed while connecting; Close saw no user to disconnect.
		s.srv.router.Disconnect(newID)
		return
	}
	slog.Info("user connected", "session", s.ID, "user", name, "id", newID)
	go s.deliver()
}

func (s *Session) handleMessage(f *pb.Frame) error {
	if f.Message == nil {
		return fmt.Errorf("%w: message frame without a message", router.ErrMalformed)
	}
	msg := f.Message.ToModel()
	msg.Sender = s.name
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.srv.router.Route(msg); err != nil {
		// The router already told the sender.
		slog.Debug("message not routed", "session", s.ID, "to", msg.Receiver, "err", err)
	}
	return nil
}

func (s *Session) handleCreateGroup(f *pb.Frame) error {
	name, ok := f.Arg(0)
	if !ok {
		return fmt.Errorf("%w: creategroup needs a group name", router.ErrMalformed)
	}
	members, _ := f.Arg(1)
	return s.srv.router.CreateGroup(name, s.name, strings.Fields(members))
}

func (s *Session) handleAddToGroup(f *pb.Frame, id model.UserID) error {
	group, ok1 := f.Arg(0)
	member, ok2 := f.Arg(1)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: addtogroup needs a group and a member", router.ErrMalformed)
	}
	return s.srv.router.AddMember(group, id, member)
}

func (s *Session) handleLeaveGroup(f *pb.Frame, id model.UserID) error {
	group, ok := f.Arg(0)
	if !ok {
		return fmt.Errorf("%w: leavegroup needs a group name", router.ErrMalformed)
	}
	return s.srv.router.LeaveGroup(group, id)
}

// handlePoll votes when the argument is yes or no and starts a poll otherwise.
func (s *Session) handlePoll(f *pb.Frame, id model.UserID) error {
	group, ok1 := f.Arg(0)
	arg, ok2 := f.Arg(1)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: poll needs a group and a question or vote", router.ErrMalformed)
	}
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "yes":
		return s.srv.router.Vote(group, true, id)
	case "no":
		return s.srv.router.Vote(group, false, id)
	default:
		return s.srv.router.CreatePoll(group, arg, id)
	}
}

func (s *Session) handleListMembers(f *pb.Frame, id model.UserID) error {
	group, ok := f.Arg(0)
	if !ok {
		return fmt.Errorf("%w: listmembers needs a group name", router.ErrMalformed)
	}
	members, err := s.srv.router.ListMembers(group, id)
	if err != nil {
		return err
	}
	s.srv.router.Notify(id, fmt.Sprintf("members of %s: %s", group, strings.Join(members, ", ")))
	return nil
}

// deliver drains the mailbox on every tick until the session ends.
func (s *Session) deliver() {
	ticker := time.NewTicker(s.srv.cfg.DeliveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.flush() {
			s.Close()
			return
		}
	}
}

// flush writes every queued message. It returns false when the session must
// end, either on a write error or after relaying the shutdown sentinel.
func (s *Session) flush() bool {
	for _, msg := range s.srv.router.Drain(s.UserID()) {
		if msg.IsShutdown() {
			slog.Debug("shutdown sentinel delivered", "session", s.ID)
			_ = s.write(pb.NewDisconnectFrame())
			return false
		}
		if err := s.write(pb.NewMessageFrame(msg)); err != nil {
			if !protocol.IsClosed(err) {
				slog.Warn("write frame failed", "session", s.ID, "err", err)
			}
			return false
		}
	}
	return true
}

func (s *Session) write(f *pb.Frame) error {
	if err := s.conn.WriteFrame(f); err != nil {
		return err
	}
	s.srv.metrics.FramesOut.Add(1)
	return nil
}

// writeSystem bypasses the mailbox; used before the session has a user.
func (s *Session) writeSystem(text string) error {
	return s.write(pb.NewMessageFrame(model.NewSystemMessage(s.name, text)))
}

// Close tears the session down once: the connection is closed and the user,
// if any, is disconnected from the router.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
		if id := s.UserID(); id != 0 {
			s.srv.router.Disconnect(id)
		}
		s.srv.sessions.Remove(s.ID)
		s.srv.metrics.ActiveConnections.Add(-1)
		s.srv.metrics.TotalDisconnects.Add(1)
		slog.Info("session closed", "session", s.ID, "user", s.UserID())
		close(s.done)
	})
}
