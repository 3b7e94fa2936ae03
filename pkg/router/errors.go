package router

import "errors"

// Errors returned by Router operations. Their text is shown to users as-is, so
// wrapped details are written for people, not logs.
var (
	ErrNameConflict     = errors.New("name is not available")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownGroup     = errors.New("no such group")
	ErrPollActive       = errors.New("a poll is already running")
	ErrNoActivePoll     = errors.New("no poll is running")
	ErrAlreadyVoted     = errors.New("you have already voted")
	ErrAlreadyMember    = errors.New("already a member")
	ErrNotMember        = errors.New("not a member")
	ErrNotConnected     = errors.New("not connected")
	ErrEmptyQuestion    = errors.New("poll question must not be empty")
	ErrClosed           = errors.New("server is shutting down")
	ErrMalformed        = errors.New("malformed request")
)
