// Package router owns the shared chat state: the user and group directory,
// per-user mailboxes and group polls. Every session calls into a single Router,
// whose mutex makes each operation atomic with respect to all others.
//
// Delivery is pull-based. Operations only enqueue into mailboxes; sessions drain
// their own mailbox on a fixed interval. Lower latency would need a notification
// from enqueue to the owning session, with Drain keeping its take-all semantics.
package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

// Recorder receives facts worth archiving. Calls happen after the router lock
// is released, one at a time and in the order the facts occurred, so
// implementations may block on I/O.
type Recorder interface {
	RecordUser(id model.UserID, name string, connected bool) error
	RecordGroup(g model.GroupRecord) error
	RecordGroupMember(group, member string, joined bool) error
	RecordPollResult(res model.PollResult) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordUser(model.UserID, string, bool) error  { return nil }
func (NopRecorder) RecordGroup(model.GroupRecord) error          { return nil }
func (NopRecorder) RecordGroupMember(string, string, bool) error { return nil }
func (NopRecorder) RecordPollResult(model.PollResult) error      { return nil }

// Options configures a Router. Zero fields fall back to DefaultOptions.
type Options struct {
	PollTimeout time.Duration

	// AfterFunc schedules poll deadlines. It must run f on another goroutine.
	AfterFunc AfterFunc
	Now       func() time.Time
	Recorder  Recorder
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		PollTimeout: 60 * time.Second,
		AfterFunc:   realAfterFunc,
		Now:         time.Now,
		Recorder:    NopRecorder{},
	}
}

// Router is the synchronization boundary for all chat state.
type Router struct {
	opts    Options
	boxes   *mailboxStore
	records *recordQueue
	stats   counters

	mu          sync.Mutex // guards everything below; taken before boxes.mu and records.mu
	dir         *directory
	nextPollID  int64
	nextGroupID int64
	events      []func() error
	closed      bool
}

// New creates a Router with the built-in all group.
func New(opts Options) *Router {
	def := DefaultOptions()
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = def.AfterFunc
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Recorder == nil {
		opts.Recorder = def.Recorder
	}
	return &Router{
		opts:    opts,
		boxes:   newMailboxStore(),
		dir:     newDirectory(),
		records: newRecordQueue(),
	}
}

// unlock releases r.mu and then hands queued facts to the recorder. The facts
// join the record queue before r.mu is released, which keeps archive order
// equal to lock order.
func (r *Router) unlock() {
	events := r.events
	r.events = nil
	flush := r.records.push(events)
	r.mu.Unlock()

	if flush {
		r.records.flush()
	}
}

func (r *Router) record(ev func() error) {
	r.events = append(r.events, ev)
}

func (r *Router) enqueue(id model.UserID, msg model.Message) {
	r.boxes.push(id, msg)
}

// notifyLocked enqueues a SERVER message addressed to id.
func (r *Router) notifyLocked(id model.UserID, text string) {
	name, _ := r.dir.nameOf(id)
	r.enqueue(id, model.NewSystemMessage(name, text))
}

// provision returns the id for name, creating the user and an empty mailbox
// when the name has never been seen. Messages for users that are not connected
// queue up until they connect.
func (r *Router) provision(name string) model.UserID {
	id, created := r.dir.resolveOrCreate(name)
	if created {
		r.boxes.ensure(id)
		r.record(func() error { return r.opts.Recorder.RecordUser(id, name, false) })
		slog.Debug("user provisioned", "user", name, "id", id)
	}
	return id
}

// Connect binds name to a user id and marks it connected. On error nothing
// changes and the error wraps ErrNameConflict.
func (r *Router) Connect(name string) (model.UserID, error) {
	r.mu.Lock()
	defer r.unlock()

	if err := r.dir.nameAvailable(name); err != nil {
		return 0, err
	}

	id, created := r.dir.resolveOrCreate(name)
	if created {
		r.boxes.ensure(id)
	}
	all := r.dir.all()
	all.add(id, name)

	r.notifyLocked(id, fmt.Sprintf("welcome %s! connected users: %s", name, strings.Join(all.memberNames(), ", ")))
	r.routeLocked(model.NewSystemMessage(model.AllGroup, name+" has entered the chat"))

	r.stats.connects.Add(1)
	r.record(func() error { return r.opts.Recorder.RecordUser(id, name, true) })
	slog.Info("user connected", "user", name, "id", id)
	return id, nil
}

// Disconnect removes id from the all group. Calling it for a user that is not
// connected does nothing. The mailbox is kept.
func (r *Router) Disconnect(id model.UserID) {
	r.mu.Lock()
	defer r.unlock()

	all := r.dir.all()
	if !all.remove(id) {
		return
	}
	name, _ := r.dir.nameOf(id)
	r.routeLocked(model.NewSystemMessage(model.AllGroup, name+" has left the chat"))
	r.settleLocked(all, id)

	r.stats.disconnects.Add(1)
	slog.Info("user disconnected", "user", name, "id", id)
}

// CreateGroup creates a group owned by nobody, with creator listed first.
// Members that are not valid user names are skipped and reported to the
// creator; unknown valid names are provisioned.
func (r *Router) CreateGroup(name, creator string, members []string) error {
	r.mu.Lock()
	defer r.unlock()

	if err := model.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	}
	if r.dir.groupExists(name) {
		return fmt.Errorf("%w: group %s already exists", ErrNameConflict, name)
	}
	if _, ok := r.dir.lookup(name); ok {
		return fmt.Errorf("%w: %s is a user", ErrNameConflict, name)
	}
	if err := model.ValidateName(creator); err != nil || r.dir.groupExists(creator) {
		return fmt.Errorf("%w: invalid creator %q", ErrMalformed, creator)
	}

	g := newGroup(name)
	creatorID := r.provision(creator)
	g.add(creatorID, creator)

	var skipped []string
	for _, m := range members {
		if m == "" {
			continue
		}
		if model.ValidateName(m) != nil || m == name || r.dir.groupExists(m) {
			skipped = append(skipped, m)
			continue
		}
		g.add(r.provision(m), m)
	}
	r.dir.addGroup(g)
	r.nextGroupID++

	for _, id := range g.order {
		r.notifyLocked(id, fmt.Sprintf("you were added to the %s group by %s", name, creator))
	}
	if len(skipped) > 0 {
		r.notifyLocked(creatorID, fmt.Sprintf("skipped invalid members of %s: %s", name, strings.Join(skipped, ", ")))
	}

	rec := model.GroupRecord{
		ID:        r.nextGroupID,
		Name:      name,
		Creator:   creator,
		Members:   g.memberNames(),
		CreatedAt: r.opts.Now(),
	}
	r.record(func() error { return r.opts.Recorder.RecordGroup(rec) })
	r.stats.groupsCreated.Add(1)
	slog.Info("group created", "group", name, "creator", creator, "members", len(rec.Members), "skipped", len(skipped))
	return nil
}

// Route delivers msg. A group receiver requires the sender to be a member
// unless the sender is SERVER; the sender does not get its own copy. A user
// receiver that has never been seen is provisioned and the message waits in
// their mailbox. Refusals are also reported to the sender as SERVER messages.
func (r *Router) Route(msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	r.mu.Lock()
	defer r.unlock()
	return r.routeLocked(msg)
}

func (r *Router) routeLocked(msg model.Message) error {
	if g, ok := r.dir.group(msg.Receiver); ok {
		if !msg.IsSystem() {
			id, known := r.dir.lookup(msg.Sender)
			if !known || !g.has(id) {
				r.stats.denied.Add(1)
				if known {
					r.notifyLocked(id, fmt.Sprintf("you do not have permission to message the %s group.", g.name))
				}
				return fmt.Errorf("%w: %s is not a member of %s", ErrPermissionDenied, msg.Sender, g.name)
			}
		}

		out := msg.FromGroup(g.name)
		for _, mid := range g.order {
			if g.members[mid] == msg.Sender {
				continue
			}
			r.enqueue(mid, out)
		}
		r.stats.routed.Add(1)
		return nil
	}

	if err := model.ValidateName(msg.Receiver); err != nil {
		if id, ok := r.dir.lookup(msg.Sender); ok {
			r.notifyLocked(id, "unknown recipient "+msg.Receiver)
		}
		return fmt.Errorf("%w: unknown recipient %q", ErrMalformed, msg.Receiver)
	}
	r.enqueue(r.provision(msg.Receiver), msg)
	r.stats.routed.Add(1)
	return nil
}

// Broadcast sends a SERVER message to every connected user.
func (r *Router) Broadcast(content string) {
	r.mu.Lock()
	defer r.unlock()
	r.routeLocked(model.NewSystemMessage(model.AllGroup, content))
}

// Notify enqueues a SERVER message for id.
func (r *Router) Notify(id model.UserID, text string) {
	r.mu.Lock()
	defer r.unlock()
	r.notifyLocked(id, text)
}

// Drain removes and returns every message queued for id. It never blocks on
// the router lock.
func (r *Router) Drain(id model.UserID) []model.Message {
	msgs := r.boxes.drain(id)
	r.stats.delivered.Add(int64(len(msgs)))
	return msgs
}

// ListMembers returns the members of group in join order. Only members may list.
func (r *Router) ListMembers(group string, requester model.UserID) ([]string, error) {
	r.mu.Lock()
	defer r.unlock()

	g, ok := r.dir.group(group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if !g.has(requester) {
		return nil, fmt.Errorf("%w: you are not a member of %s", ErrPermissionDenied, group)
	}
	return g.memberNames(), nil
}

// GroupsOf returns the sorted names of groups that contain name.
func (r *Router) GroupsOf(name string) []string {
	r.mu.Lock()
	defer r.unlock()

	id, ok := r.dir.lookup(name)
	if !ok {
		return nil
	}
	var names []string
	for _, g := range r.dir.sortedGroups() {
		if g.has(id) {
			names = append(names, g.name)
		}
	}
	return names
}

// AddMember adds newMember to group on behalf of actor, who must be a member.
// The all group is managed by connect and disconnect only.
func (r *Router) AddMember(group string, actor model.UserID, newMember string) error {
	r.mu.Lock()
	defer r.unlock()

	g, ok := r.dir.group(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if g.name == model.AllGroup {
		return fmt.Errorf("%w: the %s group cannot be changed", ErrPermissionDenied, model.AllGroup)
	}
	if !g.has(actor) {
		return fmt.Errorf("%w: you are not a member of %s", ErrPermissionDenied, group)
	}
	if err := model.ValidateName(newMember); err != nil {
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	}
	if r.dir.groupExists(newMember) {
		return fmt.Errorf("%w: %s is a group", ErrNameConflict, newMember)
	}

	id := r.provision(newMember)
	if !g.add(id, newMember) {
		return fmt.Errorf("%w: %s is already in %s", ErrAlreadyMember, newMember, group)
	}
	actorName, _ := r.dir.nameOf(actor)
	r.notifyLocked(id, fmt.Sprintf("you were added to the %s group by %s", group, actorName))
	r.notifyLocked(actor, fmt.Sprintf("added %s to the %s group", newMember, group))

	r.record(func() error { return r.opts.Recorder.RecordGroupMember(group, newMember, true) })
	slog.Info("group member added", "group", group, "user", newMember, "by", actorName)
	return nil
}

// LeaveGroup removes actor from group. A vote the leaver cast on an active
// poll is withdrawn, and the poll resolves if everyone left has voted. A group
// left empty is deleted so its name can be used again.
func (r *Router) LeaveGroup(group string, actor model.UserID) error {
	r.mu.Lock()
	defer r.unlock()

	g, ok := r.dir.group(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if g.name == model.AllGroup {
		return fmt.Errorf("%w: disconnect to leave the %s group", ErrPermissionDenied, model.AllGroup)
	}
	if !g.remove(actor) {
		return fmt.Errorf("%w: you are not a member of %s", ErrNotMember, group)
	}

	name, _ := r.dir.nameOf(actor)
	r.notifyLocked(actor, fmt.Sprintf("you left the %s group", group))
	r.routeLocked(model.NewSystemMessage(group, name+" has left the group"))
	r.settleLocked(g, actor)

	r.record(func() error { return r.opts.Recorder.RecordGroupMember(group, name, false) })
	slog.Info("group member left", "group", group, "user", name)
	if g.size() == 0 {
		r.dir.removeGroup(group)
		slog.Info("group removed", "group", group)
	}
	return nil
}

// Close stops every poll deadline and waits until queued facts have reached
// the recorder. Polls still running stay unresolved and are not archived.
// Afterwards CreatePoll fails with ErrClosed and late deadlines do nothing.
func (r *Router) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, g := range r.dir.groups {
			if g.poll != nil && g.poll.timer != nil {
				g.poll.timer.Stop()
			}
		}
	}
	r.unlock()
	r.records.wait()
}

// Groups returns a snapshot of every group ordered by name.
func (r *Router) Groups() []GroupInfo {
	r.mu.Lock()
	defer r.unlock()

	groups := r.dir.sortedGroups()
	infos := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		infos = append(infos, g.info())
	}
	return infos
}

// Name returns the name bound to id.
func (r *Router) Name(id model.UserID) (string, bool) {
	r.mu.Lock()
	defer r.unlock()
	return r.dir.nameOf(id)
}

// Connected reports whether id is currently a member of the all group.
func (r *Router) Connected(id model.UserID) bool {
	r.mu.Lock()
	defer r.unlock()
	return r.dir.all().has(id)
}

// Pending returns the number of messages queued for id.
func (r *Router) Pending(id model.UserID) int {
	return r.boxes.depth(id)
}
