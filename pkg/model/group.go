package model

import "time"

// GroupRecord is the archived view of a group at creation time.
type GroupRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members"` // creator first
	CreatedAt time.Time `json:"created_at"`
}
