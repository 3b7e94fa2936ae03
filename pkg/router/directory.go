package router

import (
	"fmt"
	"sort"

	"github.com/NicolasHaas/parley/pkg/model"
)

// directory maps user names to ids and group names to groups.
// All access happens with Router.mu held.
type directory struct {
	ids    map[string]model.UserID
	names  map[model.UserID]string
	groups map[string]*group
	nextID model.UserID
}

func newDirectory() *directory {
	d := &directory{
		ids:    make(map[string]model.UserID),
		names:  make(map[model.UserID]string),
		groups: make(map[string]*group),
		nextID: 1,
	}
	d.groups[model.AllGroup] = newGroup(model.AllGroup)
	return d
}

// resolveOrCreate returns the id bound to name, allocating the next id when
// the name has never been seen. created reports whether an id was allocated.
func (d *directory) resolveOrCreate(name string) (id model.UserID, created bool) {
	if id, ok := d.ids[name]; ok {
		return id, false
	}
	id = d.nextID
	d.nextID++
	d.ids[name] = id
	d.names[id] = name
	return id, true
}

func (d *directory) lookup(name string) (model.UserID, bool) {
	id, ok := d.ids[name]
	return id, ok
}

func (d *directory) nameOf(id model.UserID) (string, bool) {
	name, ok := d.names[id]
	return name, ok
}

func (d *directory) all() *group {
	return d.groups[model.AllGroup]
}

func (d *directory) group(name string) (*group, bool) {
	g, ok := d.groups[name]
	return g, ok
}

func (d *directory) groupExists(name string) bool {
	_, ok := d.groups[name]
	return ok
}

func (d *directory) addGroup(g *group) {
	d.groups[g.name] = g
}

func (d *directory) removeGroup(name string) {
	if name != model.AllGroup {
		delete(d.groups, name)
	}
}

// sortedGroups returns every group ordered by name.
func (d *directory) sortedGroups() []*group {
	groups := make([]*group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].name < groups[j].name
	})
	return groups
}

// nameAvailable returns a NameConflict error when name cannot be taken by a
// connecting user: malformed, reserved, a group, or already connected.
func (d *directory) nameAvailable(name string) error {
	if err := model.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrNameConflict, err)
	}
	if d.groupExists(name) {
		return fmt.Errorf("%w: %s is a group", ErrNameConflict, name)
	}
	if id, ok := d.ids[name]; ok && d.all().has(id) {
		return fmt.Errorf("%w: %s is already connected", ErrNameConflict, name)
	}
	return nil
}
