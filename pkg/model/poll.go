package model

import (
	"fmt"
	"time"
)

// ResolveReason tells how a poll came to an end.
type ResolveReason string

const (
	ResolvedByTally   ResolveReason = "tally"   // every member voted
	ResolvedByTimeout ResolveReason = "timeout" // the deadline elapsed first
)

// PollResult is the final outcome of a resolved poll.
type PollResult struct {
	ID         int64         `json:"id"`
	Group      string        `json:"group"`
	Question   string        `json:"question"`
	Yes        int           `json:"yes"`
	No         int           `json:"no"`
	Reason     ResolveReason `json:"reason"`
	StartedAt  time.Time     `json:"started_at"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

// Summary renders the tally the way it is announced to the group.
func (r PollResult) Summary() string {
	return fmt.Sprintf("Yes [%d] / No [%d]", r.Yes, r.No)
}

type PollFilters struct {
	LimitToGroup *string
	PageSize     *int64
	Offset       *int64
}
