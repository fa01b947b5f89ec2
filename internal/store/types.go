package store

import "strings"

// DeliveryStatus is the lifecycle of an outbound message. The numeric order
// is the only order a stored status may move in.
type DeliveryStatus int

const (
	StatusNone DeliveryStatus = iota
	StatusSending
	StatusSent
	StatusRead
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusRead:
		return "read"
	default:
		return ""
	}
}

// MarshalText renders the status by name.
func (s DeliveryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseDeliveryStatus maps a server status string onto a delivery status.
// Anything that is not a read receipt counts as sent.
func ParseDeliveryStatus(s string) DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "seen":
		return StatusRead
	case "sending":
		return StatusSending
	default:
		return StatusSent
	}
}

// Message is one visible chat line, keyed by its send time.
type Message struct {
	SentAt     int64          `json:"sent_at"`
	LocalID    string         `json:"local_id,omitempty"`
	ChatID     string         `json:"chat_id,omitempty"`
	SenderName string         `json:"sender_name,omitempty"`
	Body       string         `json:"body"`
	Status     DeliveryStatus `json:"status"`
	FromMe     bool           `json:"from_me"`
}

// OutboxEntry is an outbound message the server has not acknowledged yet.
type OutboxEntry struct {
	LocalID   string
	Body      string
	Recipient string
	ChatID    string
	SentAt    int64
	Attempts  int
}
