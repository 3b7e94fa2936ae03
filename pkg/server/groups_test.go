package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/router"
)

func groupMembers(r *router.Router) map[string][]string {
	got := make(map[string][]string)
	for _, g := range r.Groups() {
		got[g.Name] = g.Members
	}
	return got
}

func TestImportGroupsFromYAML(t *testing.T) {
	type tcase struct {
		input       string
		wantCreated int
		wantGroups  map[string][]string
	}

	tests := map[string]tcase{
		"explicit creator": {
			input:       "groups:\n  - name: team\n    creator: alice\n    members: [bob, carol]\n",
			wantCreated: 1,
			wantGroups:  map[string][]string{"all": nil, "team": {"alice", "bob", "carol"}},
		},
		"first member creates": {
			input:       "groups:\n  - name: ops\n    members: [dave, erin]\n",
			wantCreated: 1,
			wantGroups:  map[string][]string{"all": nil, "ops": {"dave", "erin"}},
		},
		"duplicate group skipped": {
			input:       "groups:\n  - name: team\n    creator: alice\n  - name: team\n    creator: bob\n",
			wantCreated: 1,
			wantGroups:  map[string][]string{"all": nil, "team": {"alice"}},
		},
		"no creator skipped": {
			input:       "groups:\n  - name: empty\n",
			wantCreated: 0,
			wantGroups:  map[string][]string{"all": nil},
		},
		"reserved name skipped": {
			input:       "groups:\n  - name: all\n    creator: alice\n  - name: server\n    creator: alice\n",
			wantCreated: 0,
			wantGroups:  map[string][]string{"all": nil},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := router.New(router.DefaultOptions())
			created, err := ImportGroupsFromYAML([]byte(tc.input), r)
			if err != nil {
				t.Fatalf("ImportGroupsFromYAML: %v", err)
			}
			if created != tc.wantCreated {
				t.Errorf("created = %d, want %d", created, tc.wantCreated)
			}
			if diff := cmp.Diff(tc.wantGroups, groupMembers(r), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImportGroupsFromYAMLInvalid(t *testing.T) {
	r := router.New(router.DefaultOptions())
	if _, err := ImportGroupsFromYAML([]byte("groups: [unterminated"), r); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadGroupsFromYAMLMissingFile(t *testing.T) {
	r := router.New(router.DefaultOptions())
	if err := LoadGroupsFromYAML(filepath.Join(t.TempDir(), "nope.yaml"), r); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestExportFromArchive(t *testing.T) {
	st, err := datastore.NewProviderFactory(filepath.Join(t.TempDir(), "parley.db"))
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	r := router.New(router.Options{PollTimeout: time.Minute, Recorder: datastore.NewRecorder(st)})
	alice, err := r.Connect("alice")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	bob, err := r.Connect("bob")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := r.CreateGroup("team", "alice", []string{"bob", "carol"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := r.LeaveGroup("team", alice); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	if err := r.CreatePoll("all", "pizza?", bob); err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	for _, id := range []model.UserID{alice, bob} {
		if err := r.Vote("all", true, id); err != nil {
			t.Fatalf("Vote: %v", err)
		}
	}

	t.Run("groups round trip", func(t *testing.T) {
		data, err := ExportGroupsYAML(st)
		if err != nil {
			t.Fatalf("ExportGroupsYAML: %v", err)
		}
		var cfg GroupsConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			t.Fatalf("unmarshal export: %v", err)
		}
		want := GroupsConfig{Groups: []GroupYAML{{Name: "team", Members: []string{"bob", "carol"}}}}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("export mismatch (-want +got):\n%s", diff)
		}

		fresh := router.New(router.DefaultOptions())
		if _, err := ImportGroupsFromYAML(data, fresh); err != nil {
			t.Fatalf("re-import: %v", err)
		}
		if diff := cmp.Diff([]string{"bob", "carol"}, groupMembers(fresh)["team"]); diff != "" {
			t.Errorf("re-imported members mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("users", func(t *testing.T) {
		data, err := ExportUsersYAML(st)
		if err != nil {
			t.Fatalf("ExportUsersYAML: %v", err)
		}
		var export UsersExport
		if err := yaml.Unmarshal(data, &export); err != nil {
			t.Fatalf("unmarshal export: %v", err)
		}
		var names []string
		for _, u := range export.Users {
			names = append(names, u.Name)
		}
		if diff := cmp.Diff([]string{"alice", "bob", "carol"}, names); diff != "" {
			t.Errorf("users mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("polls", func(t *testing.T) {
		data, err := ExportPollsYAML(st)
		if err != nil {
			t.Fatalf("ExportPollsYAML: %v", err)
		}
		var export PollsExport
		if err := yaml.Unmarshal(data, &export); err != nil {
			t.Fatalf("unmarshal export: %v", err)
		}
		if len(export.Polls) != 1 {
			t.Fatalf("polls = %d, want 1", len(export.Polls))
		}
		got := export.Polls[0]
		got.StartedAt, got.ResolvedAt = "", ""
		want := PollYAML{Group: "all", Question: "pizza?", Yes: 2, No: 0, Reason: "tally"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("poll mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestWatchGroupsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	if err := os.WriteFile(path, []byte("groups: []\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := router.New(router.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchGroupsFile(ctx, path, r) }()

	content := []byte("groups:\n  - name: team\n    creator: alice\n")
	deadline := time.Now().Add(5 * time.Second)
	for {
		// Rewrite until the watcher, which may not be registered yet, sees it.
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if _, ok := groupMembers(r)["team"]; ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never imported the new group")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WatchGroupsFile: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestFormatYAMLTime(t *testing.T) {
	if got := formatYAMLTime(time.Time{}); got != "" {
		t.Errorf("zero time = %q, want empty", got)
	}
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	if got := formatYAMLTime(ts); !strings.HasPrefix(got, "2024-03-01T11:30:00") {
		t.Errorf("formatYAMLTime = %q", got)
	}
}
