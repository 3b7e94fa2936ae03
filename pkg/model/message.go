package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MessageMaxContentLength = 2000

var ErrMessageContentEmpty = errors.New("message content cannot be empty")
var ErrMessageContentTooLong = fmt.Errorf("message content exceeds %d characters", MessageMaxContentLength)
var ErrMessageReceiverEmpty = errors.New("message receiver cannot be empty")

// Message is a single chat message. Receiver is either a user name or a group name.
type Message struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// NewSystemMessage returns a message from SystemSender.
func NewSystemMessage(receiver, content string) Message {
	return Message{Sender: SystemSender, Receiver: receiver, Content: content}
}

// IsSystem reports whether the message was produced by the server itself.
func (m Message) IsSystem() bool {
	return m.Sender == SystemSender
}

// FromGroup returns a copy of m whose sender is tagged with the group it was delivered through.
func (m Message) FromGroup(group string) Message {
	m.Sender = "[" + group + "] " + m.Sender
	return m
}

// IsShutdown reports whether m is the shutdown sentinel as seen by a member of the all group.
func (m Message) IsShutdown() bool {
	return m.Sender == "["+AllGroup+"] "+SystemSender && m.Content == ShutdownContent
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Receiver) == "" {
		return ErrMessageReceiverEmpty
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrMessageContentEmpty
	} else if utf8.RuneCountInString(m.Content) > MessageMaxContentLength {
		return ErrMessageContentTooLong
	}
	return nil
}
