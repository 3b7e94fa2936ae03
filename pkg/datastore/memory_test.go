package datastore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/model"
)

// backends returns every DataProviderFactory implementation, so behavior
// can be checked for parity.
func backends(t *testing.T) map[string]datastore.DataProviderFactory {
	t.Helper()
	sqlStore, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	return map[string]datastore.DataProviderFactory{
		"sqlite": sqlStore,
		"memory": datastore.NewMemoryWithClock(func() time.Time { return at(0) }),
	}
}

func TestBackendsUserParity(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ds := st.NonTx()
			mustNoErr(t, ds.UpsertUser(1, "alice", false, at(1)))
			mustNoErr(t, ds.UpsertUser(1, "alice", true, at(2)))
			mustNoErr(t, ds.UpsertUser(3, "alice", true, at(3)))
			mustNoErr(t, ds.UpsertUser(2, "bob", false, at(4)))

			if err := ds.UpsertUser(4, "$bad", true, at(5)); !errors.Is(err, model.ErrNameSigil) {
				t.Errorf("UpsertUser($bad) = %v, want ErrNameSigil", err)
			}

			got, err := ds.ListUsers()
			mustNoErr(t, err)
			want := []model.User{
				{ID: 3, Name: "alice", Connections: 2, FirstSeen: at(1), LastSeen: at(3)},
				{ID: 2, Name: "bob", Connections: 0, FirstSeen: at(4), LastSeen: at(4)},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ListUsers mismatch (-want +got):\n%s", diff)
			}

			missing, err := ds.GetUser("carol")
			mustNoErr(t, err)
			if missing != nil {
				t.Errorf("GetUser(carol) = %+v, want nil", missing)
			}
		})
	}
}

func TestBackendsGroupParity(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ds := st.NonTx()
			mustNoErr(t, ds.CreateGroup(&model.GroupRecord{Name: "team", Creator: "alice", Members: []string{"alice", "bob"}, CreatedAt: at(1)}))
			mustNoErr(t, ds.AddGroupMember("team", "carol", at(2)))
			mustNoErr(t, ds.RemoveGroupMember("team", "alice", at(3)))

			if err := ds.AddGroupMember("nope", "dave", at(4)); !errors.Is(err, datastore.ErrGroupNotFound) {
				t.Errorf("AddGroupMember(nope) = %v, want ErrGroupNotFound", err)
			}

			got, err := ds.ListGroups()
			mustNoErr(t, err)
			want := []model.GroupRecord{
				{Name: "team", Creator: "alice", Members: []string{"bob", "carol"}, CreatedAt: at(1)},
			}
			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.GroupRecord{}, "ID")); diff != "" {
				t.Errorf("ListGroups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackendsPollPaging(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ds := st.NonTx()
			for i, group := range []string{"team", "all", "team", "team"} {
				mustNoErr(t, ds.CreatePollResult(&model.PollResult{
					Group: group, Question: "q", Yes: i, Reason: model.ResolvedByTally,
					StartedAt: at(i), ResolvedAt: at(i + 1),
				}))
			}
			if err := ds.CreatePollResult(&model.PollResult{}); !errors.Is(err, datastore.ErrPollNoGroup) {
				t.Errorf("CreatePollResult without group = %v, want ErrPollNoGroup", err)
			}

			team := "team"
			one, two := int64(1), int64(2)
			tests := map[string]struct {
				filters model.PollFilters
				wantYes []int
			}{
				"all results newest first": {filters: model.PollFilters{}, wantYes: []int{3, 2, 1, 0}},
				"group filter":             {filters: model.PollFilters{LimitToGroup: &team}, wantYes: []int{3, 2, 0}},
				"page":                     {filters: model.PollFilters{LimitToGroup: &team, PageSize: &one, Offset: &one}, wantYes: []int{2}},
				"second page":              {filters: model.PollFilters{PageSize: &two, Offset: &two}, wantYes: []int{1, 0}},
			}
			for name, tc := range tests {
				t.Run(name, func(t *testing.T) {
					got, err := ds.ListPollResults(tc.filters)
					mustNoErr(t, err)
					var yes []int
					for _, r := range got {
						yes = append(yes, r.Yes)
					}
					if diff := cmp.Diff(tc.wantYes, yes); diff != "" {
						t.Errorf("results mismatch (-want +got):\n%s", diff)
					}
				})
			}
		})
	}
}

func TestBackendsTx(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rolled, err := st.Tx(context.Background())
			mustNoErr(t, err)
			mustNoErr(t, rolled.CreateGroup(&model.GroupRecord{Name: "gone", Creator: "alice", Members: []string{"alice"}, CreatedAt: at(1)}))
			mustNoErr(t, rolled.Rollback())

			tx, err := st.Tx(context.Background())
			mustNoErr(t, err)
			mustNoErr(t, tx.CreateGroup(&model.GroupRecord{Name: "kept", Creator: "alice", Members: []string{"alice"}, CreatedAt: at(2)}))
			mustNoErr(t, tx.AddGroupMember("kept", "bob", at(3)))
			mustNoErr(t, tx.Commit())

			groups, err := st.NonTx().ListGroups()
			mustNoErr(t, err)
			if len(groups) != 1 || groups[0].Name != "kept" {
				t.Fatalf("groups = %+v, want only kept", groups)
			}
			if diff := cmp.Diff([]string{"alice", "bob"}, groups[0].Members); diff != "" {
				t.Errorf("members mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
