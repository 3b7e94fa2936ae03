package model

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid mixed", "A-b_3", nil},
		{"valid max length", strings.Repeat("a", MaxNameLength), nil},
		{"group-like name is still a valid name", "all", nil},
		{"empty", "", ErrNameEmpty},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
		{"reserved lower", "server", ErrNameReserved},
		{"reserved upper", "SERVER", ErrNameReserved},
		{"reserved mixed", "SeRvEr", ErrNameReserved},
		{"sigil", "$bob", ErrNameSigil},
		{"sigil alone", "$", ErrNameSigil},
		{"contains space", "has space", ErrNameInvalidChars},
		{"contains dot", "user.name", ErrNameInvalidChars},
		{"contains bracket", "[all]", ErrNameInvalidChars},
		{"sigil not leading", "bob$", ErrNameInvalidChars},
		{"tab character", "user\tname", ErrNameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestMessageFromGroup(t *testing.T) {
	msg := Message{Sender: "alice", Receiver: "team", Content: "hi"}
	got := msg.FromGroup("team")
	if got.Sender != "[team] alice" {
		t.Errorf("FromGroup sender = %q, want %q", got.Sender, "[team] alice")
	}
	if msg.Sender != "alice" {
		t.Errorf("FromGroup modified the original sender: %q", msg.Sender)
	}
}

func TestMessageIsShutdown(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"sentinel", NewSystemMessage(AllGroup, ShutdownContent).FromGroup(AllGroup), true},
		{"unrouted system message", NewSystemMessage(AllGroup, ShutdownContent), false},
		{"user in all", Message{Sender: "alice", Receiver: AllGroup, Content: ShutdownContent}.FromGroup(AllGroup), false},
		{"other group", NewSystemMessage("team", ShutdownContent).FromGroup("team"), false},
		{"other content", NewSystemMessage(AllGroup, "bye").FromGroup(AllGroup), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsShutdown(); got != tt.want {
				t.Errorf("IsShutdown(%+v) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"valid", Message{Sender: "a", Receiver: "b", Content: "hi"}, nil},
		{"no receiver", Message{Sender: "a", Content: "hi"}, ErrMessageReceiverEmpty},
		{"blank content", Message{Sender: "a", Receiver: "b", Content: "   "}, ErrMessageContentEmpty},
		{"too long", Message{Sender: "a", Receiver: "b", Content: strings.Repeat("x", MessageMaxContentLength+1)}, ErrMessageContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPollResultSummary(t *testing.T) {
	res := PollResult{Yes: 2, No: 0}
	if got, want := res.Summary(), "Yes [2] / No [0]"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
