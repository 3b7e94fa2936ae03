// Package pb holds the wire types exchanged between client and server.
package pb

import "github.com/NicolasHaas/parley/pkg/model"

// Frame tags. Clients send every tag except none; the server only sends
// TagMessage and TagDisconnect.
const (
	TagConnect     = "connect"
	TagMessage     = "message"
	TagDisconnect  = "disconnect"
	TagCreateGroup = "creategroup"
	TagAddToGroup  = "addtogroup"
	TagLeaveGroup  = "leavegroup"
	TagPoll        = "poll"
	TagListMembers = "listmembers"
	TagMyGroups    = "mygroups"
)

// Frame is one command or response unit: a tag plus its typed arguments.
type Frame struct {
	Tag     string   `json:"tag"`
	Args    []string `json:"args,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// Message is the wire form of model.Message.
type Message struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// Arg returns the i-th argument and whether it was present.
func (f *Frame) Arg(i int) (string, bool) {
	if i < 0 || i >= len(f.Args) {
		return "", false
	}
	return f.Args[i], true
}

// FromModel converts a domain message to its wire form.
func FromModel(m model.Message) *Message {
	return &Message{Sender: m.Sender, Receiver: m.Receiver, Content: m.Content}
}

// ToModel converts a wire message to the domain type.
func (m *Message) ToModel() model.Message {
	if m == nil {
		return model.Message{}
	}
	return model.Message{Sender: m.Sender, Receiver: m.Receiver, Content: m.Content}
}

// NewCommand builds a client command frame.
func NewCommand(tag string, args ...string) *Frame {
	return &Frame{Tag: tag, Args: args}
}

// NewMessageFrame builds a message frame carrying m.
func NewMessageFrame(m model.Message) *Frame {
	return &Frame{Tag: TagMessage, Message: FromModel(m)}
}

// NewDisconnectFrame builds the server's close notice.
func NewDisconnectFrame() *Frame {
	return &Frame{Tag: TagDisconnect}
}
