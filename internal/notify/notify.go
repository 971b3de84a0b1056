// Package notify tells recipients about new messages. Delivery is best
// effort: callers log failures and carry on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"sugarconnect/internal/models"

	"github.com/sirupsen/logrus"
)

// EventMessageCreated is the event type published for a new message.
const EventMessageCreated = "message.created"

const previewRunes = 80

// Event is the payload of a new-message notification.
type Event struct {
	Type           string           `json:"type"`
	MessageID      string           `json:"messageId"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	RecipientID    string           `json:"recipientId"`
	RecipientEmail string           `json:"recipientEmail"`
	Preview        string           `json:"preview,omitempty"`
	HasImage       bool             `json:"hasImage"`
	Timestamp      models.Timestamp `json:"timestamp"`
}

// NewMessageEvent builds the notification for msg.
func NewMessageEvent(sender, recipient models.User, msg models.Message) Event {
	return Event{
		Type:           EventMessageCreated,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		RecipientID:    recipient.ID,
		RecipientEmail: recipient.Email,
		Preview:        preview(msg.Text),
		HasImage:       msg.Image != "",
		Timestamp:      msg.Timestamp,
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:previewRunes]) + "…"
}

// Notifier delivers new-message notifications.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Publisher is the broker side of AMQPNotifier; *rabbitmq.Client implements it.
type Publisher interface {
	Publish(eventType string, body []byte) error
}

// AMQPNotifier publishes events to a message broker for the mail worker.
type AMQPNotifier struct {
	pub Publisher
}

func NewAMQPNotifier(pub Publisher) *AMQPNotifier {
	return &AMQPNotifier{pub: pub}
}

func (n *AMQPNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return n.pub.Publish(ev.Type, body)
}

// LogNotifier only logs; used when no broker is configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.WithFields(logrus.Fields{
		"message_id":      ev.MessageID,
		"conversation_id": ev.ConversationID,
		"recipient_id":    ev.RecipientID,
	}).Info("new message notification")
	return nil
}

// EmailDispatcher consumes notification events and hands them to the mail
// transport. The transport is the log for now.
type EmailDispatcher struct {
	log logrus.FieldLogger
}

func NewEmailDispatcher(log logrus.FieldLogger) *EmailDispatcher {
	return &EmailDispatcher{log: log}
}

// Handle processes one delivery. Unknown event types are acknowledged and ignored.
func (d *EmailDispatcher) Handle(eventType string, body []byte) error {
	if eventType != "" && eventType != EventMessageCreated {
		d.log.WithField("type", eventType).Debug("ignoring unknown notification event")
		return nil
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	if ev.RecipientEmail == "" {
		return fmt.Errorf("notification %s has no recipient email", ev.MessageID)
	}
	d.log.WithFields(logrus.Fields{
		"to":         ev.RecipientEmail,
		"from":       ev.SenderName,
		"message_id": ev.MessageID,
		"has_image":  ev.HasImage,
	}).Info("sent new message email")
	return nil
}
