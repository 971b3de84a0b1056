package models

import (
	"sort"
	"time"
)

// TimestampLayout serializes message timestamps as ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one entry of a conversation. It is immutable once stored.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text,omitempty"`
	Image          string    `json:"image,omitempty"`
	Timestamp      Timestamp `json:"timestamp"`
}

// MessageList is the stored document of a conversation.
type MessageList struct {
	Messages []Message `json:"messages"`
}

// Sort orders the messages ascending by timestamp. Equal timestamps keep
// their relative order.
func (l *MessageList) Sort() {
	sort.SliceStable(l.Messages, func(i, j int) bool {
		return l.Messages[i].Timestamp.Before(l.Messages[j].Timestamp.Time)
	})
}

// Last returns the newest message, if any.
func (l MessageList) Last() (Message, bool) {
	if len(l.Messages) == 0 {
		return Message{}, false
	}
	return l.Messages[len(l.Messages)-1], true
}

// Contains reports whether a message with id is present.
func (l MessageList) Contains(id string) bool {
	for _, m := range l.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Timestamp is a time.Time that round-trips through JSON at millisecond
// precision in UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(TimestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(`"`+time.RFC3339Nano+`"`, s)
	if err != nil {
		return err
	}
	*t = NewTimestamp(parsed)
	return nil
}
