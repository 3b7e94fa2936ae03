// Package model defines the core domain types for Parley.
package model

const (
	// SystemSender is the sender name on every server-originated message.
	SystemSender = "SERVER"

	// ReservedName can never be taken by a user or a group (compared case-insensitively).
	ReservedName = "server"

	// AliasSigil prefixes client-side aliases, so names may not start with it.
	AliasSigil = '$'

	// AllGroup is the built-in group whose members are the connected users.
	AllGroup = "all"

	// ShutdownContent is the content of the sentinel broadcast sent before the server stops.
	ShutdownContent = "SHUTDOWN"
)
