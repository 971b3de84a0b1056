// Package inbox is the client side of messaging: it tracks the inbox and the
// open conversations, and sends messages optimistically, rolling back the
// local copy when the server refuses them.
package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"sugarconnect/internal/models"
	"sugarconnect/internal/services"

	"github.com/google/uuid"
)

const (
	// TempIDPrefix marks messages that have not been confirmed by the server.
	TempIDPrefix = "temp-"
	// LocalImagePrefix marks the image of an unconfirmed message; the name
	// of the picked file follows it.
	LocalImagePrefix = "local:"
)

var (
	ErrSendInProgress = errors.New("a message is already being sent in this conversation")
	ErrEmptyDraft     = errors.New("message needs text or an image")
)

// ListState is the state of the conversation list.
type ListState int

const (
	Idle ListState = iota
	LoadingConversations
	ConversationsLoaded
	ConversationsFailed
)

// ThreadState is the state of one conversation's message list.
type ThreadState int

const (
	NotSelected ThreadState = iota
	LoadingMessages
	MessagesLoaded
	MessagesFailed
)

// SendState is the state of the compose box of one conversation.
type SendState int

const (
	Composing SendState = iota
	Sending
	Sent
	SendFailed
)

// Attachment is an image picked in the compose box.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Draft is the content of the compose box.
type Draft struct {
	Text  string
	Image *Attachment
}

func (d Draft) empty() bool {
	return strings.TrimSpace(d.Text) == "" && (d.Image == nil || len(d.Image.Data) == 0)
}

// API is the server the controller talks to.
type API interface {
	ListConversations(ctx context.Context) ([]services.ConversationSummary, error)
	GetMessages(ctx context.Context, counterpartID string) ([]models.Message, error)
	SendMessage(ctx context.Context, senderID, counterpartID string, draft Draft) (models.Message, error)
}

// SendResult is either Sent or Failed.
type SendResult interface {
	sendResult()
}

// SentResult carries the message confirmed by the server.
type SentResult struct {
	Message models.Message
}

// FailedResult carries the reason and the draft restored to the compose box.
type FailedResult struct {
	Reason error
	Draft  Draft
}

func (SentResult) sendResult()   {}
func (FailedResult) sendResult() {}

// ConversationsView is a snapshot of the conversation list.
type ConversationsView struct {
	State         ListState
	Conversations []services.ConversationSummary
	Err           error
}

// ThreadView is a snapshot of one conversation.
type ThreadView struct {
	CounterpartID string
	State         ThreadState
	Messages      []models.Message
	Err           error
	Send          SendState
	SendErr       error
	Draft         Draft
	InFlight      bool
	Selected      bool
}

type thread struct {
	state    ThreadState
	messages []models.Message
	err      error
	send     SendState
	sendErr  error
	draft    Draft
	inFlight bool
	// loads counts message fetches so a stale response cannot overwrite a newer one.
	loads int
	// confirmed holds messages confirmed since the latest fetch started,
	// which that fetch may not include.
	confirmed []models.Message
}

// Controller holds the client state. It is safe for concurrent use; API
// calls are made without holding the lock.
type Controller struct {
	api    API
	selfID string
	now    func() time.Time
	tempID func() string

	mu            sync.Mutex
	listState     ListState
	conversations []services.ConversationSummary
	listErr       error
	selected      string
	threads       map[string]*thread
}

// NewController creates a controller acting for the user selfID.
func NewController(api API, selfID string) *Controller {
	return &Controller{
		api:     api,
		selfID:  selfID,
		now:     time.Now,
		tempID:  func() string { return TempIDPrefix + uuid.New().String() },
		threads: make(map[string]*thread),
	}
}

func (c *Controller) thread(counterpartID string) *thread {
	t, ok := c.threads[counterpartID]
	if !ok {
		t = &thread{}
		c.threads[counterpartID] = t
	}
	return t
}

// LoadConversations fetches the inbox.
func (c *Controller) LoadConversations(ctx context.Context) error {
	c.mu.Lock()
	c.listState = LoadingConversations
	c.listErr = nil
	c.mu.Unlock()

	list, err := c.api.ListConversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.listState = ConversationsFailed
		c.listErr = err
		return err
	}
	c.conversations = list
	c.listState = ConversationsLoaded
	return nil
}

// Select opens the conversation with counterpartID and loads its messages.
// A send in flight in another conversation is not affected.
func (c *Controller) Select(ctx context.Context, counterpartID string) error {
	c.mu.Lock()
	c.selected = counterpartID
	t := c.thread(counterpartID)
	t.state = LoadingMessages
	t.err = nil
	t.loads++
	t.confirmed = nil
	load := t.loads
	c.mu.Unlock()

	msgs, err := c.api.GetMessages(ctx, counterpartID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if load != t.loads {
		return err
	}
	if err != nil {
		t.state = MessagesFailed
		t.err = err
		t.confirmed = nil
		return err
	}
	// Keep our own messages the response may predate: unconfirmed ones and
	// those confirmed while the fetch was running.
	for _, m := range t.confirmed {
		if indexOf(msgs, m.ID) < 0 {
			msgs = append(msgs, m)
		}
	}
	t.confirmed = nil
	for _, m := range t.messages {
		if strings.HasPrefix(m.ID, TempIDPrefix) {
			msgs = append(msgs, m)
		}
	}
	t.messages = msgs
	t.state = MessagesLoaded
	return nil
}

// SetDraft replaces the compose box content of a conversation.
func (c *Controller) SetDraft(counterpartID string, draft Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.thread(counterpartID)
	t.draft = draft
	if !t.inFlight {
		t.send = Composing
	}
}

// Send submits the current draft of the conversation. The message is shown
// immediately under a temporary id and replaced by the server's copy on
// success. On failure it is removed and the draft is put back.
func (c *Controller) Send(ctx context.Context, counterpartID string) SendResult {
	c.mu.Lock()
	t := c.thread(counterpartID)
	if t.inFlight {
		c.mu.Unlock()
		return FailedResult{Reason: ErrSendInProgress, Draft: t.draft}
	}
	draft := t.draft
	if draft.empty() {
		c.mu.Unlock()
		return FailedResult{Reason: ErrEmptyDraft, Draft: draft}
	}

	temp := models.Message{
		ID:             c.tempID(),
		ConversationID: services.ConversationID(c.selfID, counterpartID),
		SenderID:       c.selfID,
		Text:           strings.TrimSpace(draft.Text),
		Timestamp:      models.NewTimestamp(c.now()),
	}
	if draft.Image != nil && len(draft.Image.Data) > 0 {
		temp.Image = LocalImagePrefix + draft.Image.Name
	}
	t.messages = append(t.messages, temp)
	t.inFlight = true
	t.send = Sending
	t.sendErr = nil
	t.draft = Draft{}
	c.mu.Unlock()

	msg, err := c.api.SendMessage(ctx, c.selfID, counterpartID, draft)

	c.mu.Lock()
	defer c.mu.Unlock()
	t.inFlight = false
	idx := indexOf(t.messages, temp.ID)

	if err != nil {
		if idx >= 0 {
			t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
		}
		t.draft = draft
		t.send = SendFailed
		t.sendErr = err
		return FailedResult{Reason: err, Draft: draft}
	}

	// A reload during the send may already have brought the server copy.
	if dup := indexOf(t.messages, msg.ID); dup >= 0 {
		t.messages = append(t.messages[:dup], t.messages[dup+1:]...)
		if dup < idx {
			idx--
		}
	}
	if idx >= 0 {
		t.messages[idx] = msg
	} else {
		t.messages = append(t.messages, msg)
	}
	if t.state == LoadingMessages {
		t.confirmed = append(t.confirmed, msg)
	}
	t.send = Sent
	c.touchConversation(counterpartID, msg)
	return SentResult{Message: msg}
}

// touchConversation moves the counterpart to the top of the loaded inbox
// with msg as its preview.
func (c *Controller) touchConversation(counterpartID string, msg models.Message) {
	if c.listState != ConversationsLoaded {
		return
	}
	for i, conv := range c.conversations {
		if conv.User.ID != counterpartID {
			continue
		}
		conv.Messages = []models.Message{msg}
		copy(c.conversations[1:i+1], c.conversations[:i])
		c.conversations[0] = conv
		return
	}
}

func indexOf(msgs []models.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// Conversations returns a snapshot of the inbox.
func (c *Controller) Conversations() ConversationsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConversationsView{
		State:         c.listState,
		Conversations: append([]services.ConversationSummary(nil), c.conversations...),
		Err:           c.listErr,
	}
}

// Selected returns the counterpart of the open conversation, if any.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Thread returns a snapshot of the conversation with counterpartID.
func (c *Controller) Thread(counterpartID string) ThreadView {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[counterpartID]
	if !ok {
		return ThreadView{State: NotSelected, CounterpartID: counterpartID}
	}
	return ThreadView{
		CounterpartID: counterpartID,
		State:         t.state,
		Messages:      append([]models.Message(nil), t.messages...),
		Err:           t.err,
		Send:          t.send,
		SendErr:       t.sendErr,
		Draft:         t.draft,
		InFlight:      t.inFlight,
		Selected:      c.selected == counterpartID,
	}
}
