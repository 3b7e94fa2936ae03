package router

import (
	"github.com/NicolasHaas/parley/pkg/model"
)

// group is a named set of users sharing a message channel and at most one poll.
// All access happens with Router.mu held.
type group struct {
	name    string
	members map[model.UserID]string
	order   []model.UserID // insertion order, creator first
	poll    *poll
}

func newGroup(name string) *group {
	return &group{
		name:    name,
		members: make(map[model.UserID]string),
	}
}

// add inserts a member and reports whether it was new.
func (g *group) add(id model.UserID, name string) bool {
	if _, ok := g.members[id]; ok {
		return false
	}
	g.members[id] = name
	g.order = append(g.order, id)
	return true
}

// remove deletes a member and reports whether it was present.
func (g *group) remove(id model.UserID) bool {
	if _, ok := g.members[id]; !ok {
		return false
	}
	delete(g.members, id)
	for i, mid := range g.order {
		if mid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

func (g *group) has(id model.UserID) bool {
	_, ok := g.members[id]
	return ok
}

func (g *group) size() int {
	return len(g.members)
}

// memberNames returns member names in insertion order.
func (g *group) memberNames() []string {
	names := make([]string, 0, len(g.order))
	for _, id := range g.order {
		names = append(names, g.members[id])
	}
	return names
}

// GroupInfo is a point-in-time copy of a group.
type GroupInfo struct {
	Name    string    `json:"name"`
	Members []string  `json:"members"`
	Poll    *PollInfo `json:"poll,omitempty"`
}

func (g *group) info() GroupInfo {
	gi := GroupInfo{
		Name:    g.name,
		Members: g.memberNames(),
	}
	if g.poll != nil {
		pi := g.poll.info()
		gi.Poll = &pi
	}
	return gi
}
