package bus

import "time"

// InboundMessage is a user message received on a channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// UserKey identifies the conversation owner across channels. A user_id
// metadata entry wins over the channel sender.
func (m *InboundMessage) UserKey() string {
	if id, ok := m.Metadata["user_id"].(string); ok && id != "" {
		return id
	}
	return m.Channel + ":" + m.SenderID
}

// Command returns the command name for slash-command messages, or "".
func (m *InboundMessage) Command() string {
	cmd, _ := m.Metadata["command"].(string)
	return cmd
}

// OutboundMessage is a reply to deliver on a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
