package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/router"
)

const yamlTimeLayout = "2006-01-02T15:04:05Z"

// GroupYAML represents a group in the groups file.
type GroupYAML struct {
	Name    string   `yaml:"name"`
	Creator string   `yaml:"creator,omitempty"` // defaults to the first member
	Members []string `yaml:"members,omitempty"`
}

// GroupsConfig is the top-level YAML config for groups.
type GroupsConfig struct {
	Groups []GroupYAML `yaml:"groups"`
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	Name        string `yaml:"name"`
	Connections int64  `yaml:"connections"`
	FirstSeen   string `yaml:"first_seen"`
	LastSeen    string `yaml:"last_seen,omitempty"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// PollYAML represents a poll result in YAML export.
type PollYAML struct {
	Group      string `yaml:"group"`
	Question   string `yaml:"question"`
	Yes        int    `yaml:"yes"`
	No         int    `yaml:"no"`
	Reason     string `yaml:"reason"`
	StartedAt  string `yaml:"started_at"`
	ResolvedAt string `yaml:"resolved_at"`
}

// PollsExport is the top-level YAML for poll result export.
type PollsExport struct {
	Polls []PollYAML `yaml:"polls"`
}

// LoadGroupsFromYAML reads a groups YAML file and creates its groups in r.
func LoadGroupsFromYAML(path string, r *router.Router) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read groups config: %w", err)
	}
	_, err = ImportGroupsFromYAML(data, r)
	return err
}

// ImportGroupsFromYAML parses YAML data and creates the groups it lists.
// Groups that already exist are left untouched. It returns how many groups
// were created.
func ImportGroupsFromYAML(data []byte, r *router.Router) (int, error) {
	var cfg GroupsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse groups config: %w", err)
	}

	created := 0
	for _, g := range cfg.Groups {
		creator := g.Creator
		members := g.Members
		if creator == "" && len(members) > 0 {
			creator, members = members[0], members[1:]
		}
		if creator == "" {
			slog.Error("group in config has no creator or members", "name", g.Name)
			continue
		}

		err := r.CreateGroup(g.Name, creator, members)
		switch {
		case err == nil:
			created++
			slog.Debug("created group from config", "name", g.Name, "creator", creator)
		case errors.Is(err, router.ErrNameConflict):
			slog.Debug("group from config not created", "name", g.Name, "err", err)
		default:
			slog.Error("failed to create group from config", "name", g.Name, "err", err)
		}
	}

	slog.Info("imported groups from YAML", "count", len(cfg.Groups), "created", created)
	return created, nil
}

// WatchGroupsFile re-imports path whenever it is written or replaced, until
// ctx is done. The parent directory is watched so editors that rename over
// the file are seen.
func WatchGroupsFile(ctx context.Context, path string, r *router.Router) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch groups config: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch groups config: %w", err)
	}
	slog.Info("watching groups file", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := LoadGroupsFromYAML(target, r); err != nil {
				slog.Warn("reload groups file", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("groups file watcher", "err", err)
		}
	}
}

// ExportUsersYAML exports all archived users as YAML.
func ExportUsersYAML(st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			Name:        u.Name,
			Connections: u.Connections,
			FirstSeen:   formatYAMLTime(u.FirstSeen),
			LastSeen:    formatYAMLTime(u.LastSeen),
		})
	}
	return yaml.Marshal(&export)
}

// ExportGroupsYAML exports all archived groups in the groups file format, so
// the output can be fed back through -groups.
func ExportGroupsYAML(st datastore.DataProviderFactory) ([]byte, error) {
	groups, err := st.NonTx().ListGroups()
	if err != nil {
		return nil, err
	}

	cfg := GroupsConfig{}
	for _, g := range groups {
		// A creator who has since left is dropped; the first remaining
		// member becomes the creator on re-import.
		entry := GroupYAML{Name: g.Name}
		for _, m := range g.Members {
			if m == g.Creator {
				entry.Creator = m
				continue
			}
			entry.Members = append(entry.Members, m)
		}
		cfg.Groups = append(cfg.Groups, entry)
	}
	return yaml.Marshal(&cfg)
}

// ExportPollsYAML exports archived poll results, newest first.
func ExportPollsYAML(st datastore.DataProviderFactory) ([]byte, error) {
	pageSize := int64(-1)
	results, err := st.NonTx().ListPollResults(model.PollFilters{PageSize: &pageSize})
	if err != nil {
		return nil, err
	}

	export := PollsExport{}
	for _, p := range results {
		export.Polls = append(export.Polls, PollYAML{
			Group:      p.Group,
			Question:   p.Question,
			Yes:        p.Yes,
			No:         p.No,
			Reason:     string(p.Reason),
			StartedAt:  formatYAMLTime(p.StartedAt),
			ResolvedAt: formatYAMLTime(p.ResolvedAt),
		})
	}
	return yaml.Marshal(&export)
}

func formatYAMLTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(yamlTimeLayout)
}
