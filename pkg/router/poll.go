package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

// Timer is the subset of *time.Timer the router needs to cancel a poll deadline.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// poll is the active yes/no vote of a group. A group with no poll is idle.
type poll struct {
	id        int64
	question  string
	asker     string
	yes       int
	no        int
	voters    map[model.UserID]bool // true for yes
	startedAt time.Time
	deadline  time.Time
	timer     Timer

	// resolved flips exactly once, by whichever of tally or deadline gets there first.
	resolved atomic.Bool
}

func (p *poll) votes() int {
	return p.yes + p.no
}

func (p *poll) hasVoted(id model.UserID) bool {
	_, ok := p.voters[id]
	return ok
}

func (p *poll) record(id model.UserID, yes bool) {
	p.voters[id] = yes
	if yes {
		p.yes++
	} else {
		p.no++
	}
}

// retract withdraws the vote of a user who is no longer a member.
func (p *poll) retract(id model.UserID) {
	yes, ok := p.voters[id]
	if !ok {
		return
	}
	delete(p.voters, id)
	if yes {
		p.yes--
	} else {
		p.no--
	}
}

// PollInfo is a point-in-time copy of an active poll.
type PollInfo struct {
	Question string    `json:"question"`
	Asker    string    `json:"asker"`
	Yes      int       `json:"yes"`
	No       int       `json:"no"`
	Deadline time.Time `json:"deadline"`
}

func (p *poll) info() PollInfo {
	return PollInfo{
		Question: p.question,
		Asker:    p.asker,
		Yes:      p.yes,
		No:       p.no,
		Deadline: p.deadline,
	}
}

// CreatePoll starts a poll in group on behalf of asker, who must be a member.
// The poll closes when every member has voted or when the poll timeout
// elapses, whichever comes first.
func (r *Router) CreatePoll(group, question string, asker model.UserID) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}

	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	g, ok := r.dir.group(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if !g.has(asker) {
		return fmt.Errorf("%w: you are not a member of %s", ErrPermissionDenied, group)
	}
	if g.poll != nil {
		return fmt.Errorf("%w in %s: %q", ErrPollActive, group, g.poll.question)
	}

	askerName, _ := r.dir.nameOf(asker)
	now := r.opts.Now()
	r.nextPollID++
	p := &poll{
		id:        r.nextPollID,
		question:  question,
		asker:     askerName,
		voters:    make(map[model.UserID]bool),
		startedAt: now,
		deadline:  now.Add(r.opts.PollTimeout),
	}
	g.poll = p
	// The callback blocks on r.mu until this call returns, so p.timer is set by then.
	p.timer = r.opts.AfterFunc(r.opts.PollTimeout, func() { r.expire(g, p) })

	r.routeLocked(model.NewSystemMessage(group, fmt.Sprintf(
		"%s started a poll: %s (answer with: poll %s yes|no, closes in %s)",
		askerName, question, group, r.opts.PollTimeout)))

	r.stats.pollsCreated.Add(1)
	slog.Info("poll started", "group", group, "asker", askerName, "poll", p.id)
	return nil
}

// Vote records a yes or no vote from voter on the active poll of group.
// The vote that completes the tally resolves the poll before returning.
func (r *Router) Vote(group string, yes bool, voter model.UserID) error {
	r.mu.Lock()
	defer r.unlock()

	g, ok := r.dir.group(group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if !g.has(voter) {
		return fmt.Errorf("%w: you are not a member of %s", ErrPermissionDenied, group)
	}
	p := g.poll
	if p == nil {
		return fmt.Errorf("%w in %s", ErrNoActivePoll, group)
	}
	if p.hasVoted(voter) {
		return fmt.Errorf("%w on %q", ErrAlreadyVoted, p.question)
	}

	p.record(voter, yes)
	r.stats.votes.Add(1)
	r.notifyLocked(voter, fmt.Sprintf("your vote on %q was recorded", p.question))
	r.settleLocked(g, 0)
	return nil
}

// settleLocked withdraws the vote of a departed member (if any) and resolves
// the poll of g once the tally covers the membership.
func (r *Router) settleLocked(g *group, departed model.UserID) {
	p := g.poll
	if p == nil {
		return
	}
	if departed != 0 && !g.has(departed) {
		p.retract(departed)
	}
	if p.votes() >= g.size() {
		r.resolveLocked(g, p, model.ResolvedByTally)
	}
}

// expire is the deadline callback of p.
func (r *Router) expire(g *group, p *poll) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed || g.poll != p {
		return
	}
	r.resolveLocked(g, p, model.ResolvedByTimeout)
}

// resolveLocked closes p exactly once, frees the poll slot of g and announces
// the result to the group.
func (r *Router) resolveLocked(g *group, p *poll, reason model.ResolveReason) {
	if !p.resolved.CompareAndSwap(false, true) {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if g.poll == p {
		g.poll = nil
	}

	res := model.PollResult{
		ID:         p.id,
		Group:      g.name,
		Question:   p.question,
		Yes:        p.yes,
		No:         p.no,
		Reason:     reason,
		StartedAt:  p.startedAt,
		ResolvedAt: r.opts.Now(),
	}
	r.routeLocked(model.NewSystemMessage(g.name, fmt.Sprintf(`poll "%s" closed: %s`, p.question, res.Summary())))

	if reason == model.ResolvedByTimeout {
		r.stats.pollsTimedOut.Add(1)
	} else {
		r.stats.pollsByTally.Add(1)
	}
	r.record(func() error { return r.opts.Recorder.RecordPollResult(res) })
	slog.Info("poll closed", "group", g.name, "poll", p.id, "yes", p.yes, "no", p.no, "reason", reason)
}
