package datastore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("datastore: transaction already committed or rolled back")

// MemoryStore provides an in-memory archive for tests and runs without a
// database file. It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextGroupID int64
	nextPollID  int64

	users  map[string]*model.User
	groups []*memoryGroup // creation order
	polls  []model.PollResult
}

type memoryGroup struct {
	record  model.GroupRecord
	members []memoryMember
}

type memoryMember struct {
	name string
	left bool
}

// Compile-time check: *MemoryStore implements DataProviderFactory and DataStore.
var (
	_ DataProviderFactory = (*MemoryStore)(nil)
	_ DataStore           = (*MemoryStore)(nil)
)

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:         now,
		nextGroupID: 1,
		nextPollID:  1,
		users:       make(map[string]*model.User),
	}
}

func (s *MemoryStore) NonTx() DataStore {
	return s
}

// Tx queues writes and applies them in order on Commit. Reads inside the
// transaction see committed state only.
func (s *MemoryStore) Tx(_ context.Context) (DataStoreTx, error) {
	return &memoryTx{MemoryStore: s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) ZeroTime() time.Time {
	return time.Time{}
}

// ---- Users ----

func (s *MemoryStore) UpsertUser(id model.UserID, name string, connected bool, at time.Time) error {
	if err := model.ValidateName(name); err != nil {
		return fmt.Errorf("datastore: upsert user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertUserLocked(id, name, connected, at)
	return nil
}

func (s *MemoryStore) upsertUserLocked(id model.UserID, name string, connected bool, at time.Time) {
	at = at.UTC().Truncate(time.Second)
	u, ok := s.users[name]
	if !ok {
		u = &model.User{Name: name, FirstSeen: at, LastSeen: at}
		s.users[name] = u
	} else if connected {
		u.LastSeen = at
	}
	u.ID = id
	if connected {
		u.Connections++
	}
}

func (s *MemoryStore) GetUser(name string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[name]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ---- Groups ----

func (s *MemoryStore) CreateGroup(group *model.GroupRecord) error {
	if err := model.ValidateName(group.Name); err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createGroupLocked(group)
	return nil
}

func (s *MemoryStore) createGroupLocked(group *model.GroupRecord) {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = s.now()
	}
	group.ID = s.nextGroupID
	s.nextGroupID++

	g := &memoryGroup{record: *group}
	g.record.CreatedAt = group.CreatedAt.UTC().Truncate(time.Second)
	g.record.Members = nil
	for _, m := range group.Members {
		g.members = append(g.members, memoryMember{name: m})
	}
	s.groups = append(s.groups, g)
}

// latestGroupLocked returns the most recent group archived under name.
func (s *MemoryStore) latestGroupLocked(name string) (*memoryGroup, error) {
	for i := len(s.groups) - 1; i >= 0; i-- {
		if s.groups[i].record.Name == name {
			return s.groups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
}

func (s *MemoryStore) AddGroupMember(group, member string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addGroupMemberLocked(group, member)
}

func (s *MemoryStore) addGroupMemberLocked(group, member string) error {
	g, err := s.latestGroupLocked(group)
	if err != nil {
		return fmt.Errorf("datastore: add group member: %w", err)
	}
	g.members = append(g.members, memoryMember{name: member})
	return nil
}

func (s *MemoryStore) RemoveGroupMember(group, member string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeGroupMemberLocked(group, member)
}

func (s *MemoryStore) removeGroupMemberLocked(group, member string) error {
	g, err := s.latestGroupLocked(group)
	if err != nil {
		return fmt.Errorf("datastore: remove group member: %w", err)
	}
	for i := range g.members {
		if g.members[i].name == member {
			g.members[i].left = true
		}
	}
	return nil
}

func (s *MemoryStore) ListGroups() ([]model.GroupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.GroupRecord, 0, len(s.groups))
	for _, g := range s.groups {
		rec := g.record
		for _, m := range g.members {
			if !m.left {
				rec.Members = append(rec.Members, m.name)
			}
		}
		result = append(result, rec)
	}
	return result, nil
}

// ---- Poll results ----

func (s *MemoryStore) CreatePollResult(result *model.PollResult) error {
	if result.Group == "" {
		return ErrPollNoGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createPollResultLocked(result)
	return nil
}

func (s *MemoryStore) createPollResultLocked(result *model.PollResult) {
	result.ID = s.nextPollID
	s.nextPollID++
	cp := *result
	cp.StartedAt = cp.StartedAt.UTC().Truncate(time.Second)
	cp.ResolvedAt = cp.ResolvedAt.UTC().Truncate(time.Second)
	s.polls = append(s.polls, cp)
}

// ListPollResults returns poll outcomes, newest first. PageSize defaults to
// 100; a negative PageSize means no limit.
func (s *MemoryStore) ListPollResults(filters model.PollFilters) ([]model.PollResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.PollResult
	for i := len(s.polls) - 1; i >= 0; i-- {
		p := s.polls[i]
		if filters.LimitToGroup != nil && p.Group != *filters.LimitToGroup {
			continue
		}
		matched = append(matched, p)
	}

	offset := int64(0)
	if filters.Offset != nil {
		offset = *filters.Offset
	}
	if offset >= int64(len(matched)) {
		return nil, nil
	}
	matched = matched[offset:]

	limit := int64(100)
	if filters.PageSize != nil {
		limit = *filters.PageSize
	}
	if limit >= 0 && limit < int64(len(matched)) {
		matched = matched[:limit]
	}
	return matched, nil
}

// memoryTx queues writes until Commit. Reads go through the embedded store.
type memoryTx struct {
	*MemoryStore
	ops  []func(*MemoryStore) error
	done bool
}

func (tx *memoryTx) queue(op func(*MemoryStore) error) error {
	if tx.done {
		return ErrTxDone
	}
	tx.ops = append(tx.ops, op)
	return nil
}

func (tx *memoryTx) UpsertUser(id model.UserID, name string, connected bool, at time.Time) error {
	if err := model.ValidateName(name); err != nil {
		return fmt.Errorf("datastore: upsert user: %w", err)
	}
	return tx.queue(func(s *MemoryStore) error {
		s.upsertUserLocked(id, name, connected, at)
		return nil
	})
}

func (tx *memoryTx) CreateGroup(group *model.GroupRecord) error {
	if err := model.ValidateName(group.Name); err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	return tx.queue(func(s *MemoryStore) error {
		s.createGroupLocked(group)
		return nil
	})
}

func (tx *memoryTx) AddGroupMember(group, member string, _ time.Time) error {
	return tx.queue(func(s *MemoryStore) error {
		return s.addGroupMemberLocked(group, member)
	})
}

func (tx *memoryTx) RemoveGroupMember(group, member string, _ time.Time) error {
	return tx.queue(func(s *MemoryStore) error {
		return s.removeGroupMemberLocked(group, member)
	})
}

func (tx *memoryTx) CreatePollResult(result *model.PollResult) error {
	if result.Group == "" {
		return ErrPollNoGroup
	}
	return tx.queue(func(s *MemoryStore) error {
		s.createPollResultLocked(result)
		return nil
	})
}

// Commit applies the queued writes in order. A failing write stops the
// commit; writes before it stay applied.
func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, op := range tx.ops {
		if err := op(tx.MemoryStore); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.ops = nil
	return nil
}
