package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/parley/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the archive of what happened on the chat: names seen, groups
// created and poll outcomes. The live router never reads it back.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	GroupReadProvider
	GroupWriteProvider

	PollResultReadProvider
	PollResultWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type UserReadProvider interface {
	GetUser(name string) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	UpsertUser(id model.UserID, name string, connected bool, at time.Time) error
}

type GroupReadProvider interface {
	ListGroups() ([]model.GroupRecord, error)
}

type GroupWriteProvider interface {
	CreateGroup(group *model.GroupRecord) error
	AddGroupMember(group, member string, at time.Time) error
	RemoveGroupMember(group, member string, at time.Time) error
}

type PollResultReadProvider interface {
	ListPollResults(filters model.PollFilters) ([]model.PollResult, error)
}

type PollResultWriteProvider interface {
	CreatePollResult(result *model.PollResult) error
}
