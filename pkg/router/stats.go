package router

import "sync/atomic"

// counters are bumped while Router.mu is held but read without it.
type counters struct {
	connects      atomic.Int64
	disconnects   atomic.Int64
	routed        atomic.Int64
	delivered     atomic.Int64
	denied        atomic.Int64
	groupsCreated atomic.Int64
	pollsCreated  atomic.Int64
	pollsByTally  atomic.Int64
	pollsTimedOut atomic.Int64
	votes         atomic.Int64
}

// Stats is a snapshot of router activity since start.
type Stats struct {
	Connected       int   `json:"connected"`
	KnownUsers      int   `json:"known_users"`
	Groups          int   `json:"groups"`
	ActivePolls     int   `json:"active_polls"`
	PendingMessages int   `json:"pending_messages"`
	Connects        int64 `json:"connects"`
	Disconnects     int64 `json:"disconnects"`
	Routed          int64 `json:"routed"`
	Delivered       int64 `json:"delivered"`
	Denied          int64 `json:"denied"`
	GroupsCreated   int64 `json:"groups_created"`
	PollsCreated    int64 `json:"polls_created"`
	PollsByTally    int64 `json:"polls_by_tally"`
	PollsTimedOut   int64 `json:"polls_timed_out"`
	Votes           int64 `json:"votes"`
}

// Stats returns current gauges and cumulative counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	s := Stats{
		Connected:  r.dir.all().size(),
		KnownUsers: len(r.dir.ids),
		Groups:     len(r.dir.groups),
	}
	for _, g := range r.dir.groups {
		if g.poll != nil {
			s.ActivePolls++
		}
	}
	r.mu.Unlock()

	s.PendingMessages = r.boxes.pending()
	s.Connects = r.stats.connects.Load()
	s.Disconnects = r.stats.disconnects.Load()
	s.Routed = r.stats.routed.Load()
	s.Delivered = r.stats.delivered.Load()
	s.Denied = r.stats.denied.Load()
	s.GroupsCreated = r.stats.groupsCreated.Load()
	s.PollsCreated = r.stats.pollsCreated.Load()
	s.PollsByTally = r.stats.pollsByTally.Load()
	s.PollsTimedOut = r.stats.pollsTimedOut.Load()
	s.Votes = r.stats.votes.Load()
	return s
}
