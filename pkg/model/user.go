package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxNameLength = 32

var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d characters", MaxNameLength)
var ErrNameInvalidChars = errors.New("name must contain only alphanumeric characters, underscores, or hyphens")
var ErrNameReserved = fmt.Errorf("name %q is reserved", ReservedName)
var ErrNameSigil = fmt.Errorf("name must not start with %q", AliasSigil)

// UserID identifies a user name for the lifetime of the server process.
type UserID int64

// User is the archived view of a user name seen by the server.
type User struct {
	ID          UserID    `json:"id"`
	Name        string    `json:"name"`
	Connections int64     `json:"connections"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ValidateName checks that name is usable as a user or group name: 1-32 ASCII
// alphanumeric, underscore or hyphen characters, not the reserved word and not
// starting with the alias sigil.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if name[0] == AliasSigil {
		return ErrNameSigil
	}
	if strings.EqualFold(name, ReservedName) {
		return ErrNameReserved
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrNameInvalidChars
		}
	}
	return nil
}
