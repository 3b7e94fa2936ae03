package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

// Recorder writes router facts into the archive.
type Recorder struct {
	factory DataProviderFactory
	now     func() time.Time
}

// NewRecorder returns a Recorder writing through factory.
func NewRecorder(factory DataProviderFactory) *Recorder {
	return &Recorder{factory: factory, now: time.Now}
}

func (r *Recorder) RecordUser(id model.UserID, name string, connected bool) error {
	return r.factory.NonTx().UpsertUser(id, name, connected, r.now())
}

// RecordGroup archives g and its members in one transaction.
func (r *Recorder) RecordGroup(g model.GroupRecord) error {
	tx, err := r.factory.Tx(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateGroup(&g); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: commit group: %w", err)
	}
	return nil
}

func (r *Recorder) RecordGroupMember(group, member string, joined bool) error {
	if joined {
		return r.factory.NonTx().AddGroupMember(group, member, r.now())
	}
	return r.factory.NonTx().RemoveGroupMember(group, member, r.now())
}

func (r *Recorder) RecordPollResult(res model.PollResult) error {
	return r.factory.NonTx().CreatePollResult(&res)
}
