package router

import (
	"sync"

	"github.com/NicolasHaas/parley/pkg/model"
)

// mailboxStore holds the pending outbound messages of every known user.
// Queues are unbounded; a user that never drains keeps accumulating.
type mailboxStore struct {
	mu    sync.Mutex
	boxes map[model.UserID][]model.Message
}

func newMailboxStore() *mailboxStore {
	return &mailboxStore{
		boxes: make(map[model.UserID][]model.Message),
	}
}

// ensure creates an empty mailbox for id if none exists.
func (s *mailboxStore) ensure(id model.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[id]; !ok {
		s.boxes[id] = nil
	}
}

// push appends msg to the mailbox of id.
func (s *mailboxStore) push(id model.UserID, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxes[id] = append(s.boxes[id], msg)
}

// drain removes and returns everything queued for id, oldest first.
func (s *mailboxStore) drain(id model.UserID) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.boxes[id]
	if len(msgs) == 0 {
		return nil
	}
	s.boxes[id] = nil
	return msgs
}

// pending returns the total number of queued messages across all mailboxes.
func (s *mailboxStore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.boxes {
		n += len(msgs)
	}
	return n
}

// depth returns the number of messages queued for id.
func (s *mailboxStore) depth(id model.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boxes[id])
}
