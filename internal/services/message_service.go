package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sugarconnect/internal/apperr"
	"sugarconnect/internal/models"
	"sugarconnect/internal/notify"
	"sugarconnect/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImagePayload is an uploaded image.
type ImagePayload struct {
	Data        []byte `validate:"required"`
	ContentType string `validate:"required,startswith=image/"`
}

// SendMessageCommand is a validated request to append a message.
type SendMessageCommand struct {
	SenderID    string        `validate:"required"`
	RecipientID string        `validate:"required"`
	Text        string        `validate:"required_without=Image,max=5000"`
	Image       *ImagePayload
}

// MessageOptions tune the append protocol.
type MessageOptions struct {
	// MaxAttempts bounds re-reads after a version conflict on the conversation
	// document or the sender's credit balance.
	MaxAttempts int
	Now         func() time.Time
	NewID       func() string
}

// MessageService handles sending and reading conversation messages.
type MessageService struct {
	userRepo    repositories.UserRepository
	messageRepo repositories.MessageRepository
	imageRepo   repositories.ImageRepository
	notifier    notify.Notifier
	policy      Policy
	log         logrus.FieldLogger

	maxAttempts int
	now         func() time.Time
	newID       func() string
	locks       *keyedMutex
}

// NewMessageService creates a new MessageService.
func NewMessageService(
	userRepo repositories.UserRepository,
	messageRepo repositories.MessageRepository,
	imageRepo repositories.ImageRepository,
	notifier notify.Notifier,
	policy Policy,
	opts MessageOptions,
	log logrus.FieldLogger,
) *MessageService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &MessageService{
		userRepo:    userRepo,
		messageRepo: messageRepo,
		imageRepo:   imageRepo,
		notifier:    notifier,
		policy:      policy,
		log:         log,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		newID:       opts.NewID,
		locks:       newKeyedMutex(),
	}
}

// ImageURL is the retrievable reference of a stored image, cache-busted
// with the upload time.
func ImageURL(key string, at time.Time) string {
	return fmt.Sprintf("/images/%s?t=%d", key, at.UnixMilli())
}

// ImageKeyFromURL extracts the store key from a reference built by ImageURL.
func ImageKeyFromURL(ref string) (string, bool) {
	key, ok := strings.CutPrefix(ref, "/images/")
	if !ok {
		return "", false
	}
	key, _, _ = strings.Cut(key, "?")
	return key, key != ""
}

// GetMessages returns the conversation between the caller and counterpartID.
func (s *MessageService) GetMessages(ctx context.Context, session models.Session, counterpartID string) ([]models.Message, error) {
	if _, err := s.userRepo.GetByID(ctx, counterpartID); err != nil {
		return nil, fmt.Errorf("counterpart %s: %w", counterpartID, err)
	}
	list, _, err := s.messageRepo.Get(ctx, ConversationID(session.UserID, counterpartID))
	if err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// SendMessage runs the append protocol: resolve both users, apply the credit
// gate, store the image, debit the sender, append and persist the message,
// then notify the recipient.
func (s *MessageService) SendMessage(ctx context.Context, cmd SendMessageCommand) (*models.Message, error) {
	cmd.Text = strings.TrimSpace(cmd.Text)
	if cmd.SenderID == "" || cmd.RecipientID == "" {
		return nil, fmt.Errorf("sender and recipient are required: %w", apperr.ErrValidation)
	}
	if cmd.Text == "" && cmd.Image == nil {
		return nil, fmt.Errorf("text or image is required: %w", apperr.ErrValidation)
	}
	if cmd.SenderID == cmd.RecipientID {
		return nil, fmt.Errorf("cannot send a message to yourself: %w", apperr.ErrValidation)
	}

	sender, err := s.userRepo.GetByID(ctx, cmd.SenderID)
	if err != nil {
		return nil, fmt.Errorf("sender %s: %w", cmd.SenderID, err)
	}
	recipient, err := s.userRepo.GetByID(ctx, cmd.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("recipient %s: %w", cmd.RecipientID, err)
	}
	if !s.policy.Eligible(sender.Role, recipient.Role) {
		return nil, fmt.Errorf("a %s cannot message a %s: %w", sender.Role, recipient.Role, apperr.ErrForbidden)
	}

	metered := s.policy.Metered(sender.Role)
	if metered && sender.CreditBalance() <= 0 {
		return nil, fmt.Errorf("sender %s: %w", sender.ID, apperr.ErrInsufficientCredits)
	}

	conversationID := ConversationID(sender.ID, recipient.ID)
	logger := s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"sender_id":       sender.ID,
	})

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	msg := models.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		Text:           cmd.Text,
	}

	var imageKey string
	if cmd.Image != nil {
		imageKey = conversationID + "/" + s.newID()
		err := s.imageRepo.Save(ctx, imageKey, repositories.Image{
			Data:        cmd.Image.Data,
			ContentType: cmd.Image.ContentType,
		})
		if err != nil {
			return nil, err
		}
		msg.Image = ImageURL(imageKey, s.now())
	}

	if metered {
		if _, err := adjustCredits(ctx, s.userRepo, sender.ID, -1, s.maxAttempts); err != nil {
			s.discardImage(ctx, logger, imageKey)
			return nil, err
		}
	}

	msg.Timestamp = models.NewTimestamp(s.now())
	if err := s.appendMessage(ctx, conversationID, msg); err != nil {
		if metered {
			if _, refundErr := adjustCredits(ctx, s.userRepo, sender.ID, 1, s.maxAttempts); refundErr != nil {
				logger.WithError(refundErr).Error("failed to refund credit after failed send")
			}
		}
		s.discardImage(ctx, logger, imageKey)
		return nil, err
	}

	if err := s.notifier.Notify(ctx, notify.NewMessageEvent(*sender, *recipient, msg)); err != nil {
		logger.WithError(err).WithField("message_id", msg.ID).Warn("failed to notify recipient")
	}

	logger.WithField("message_id", msg.ID).Debug("message appended")
	return &msg, nil
}

// appendMessage adds msg to the stored list with a conditional write,
// re-reading when another writer got there first.
func (s *MessageService) appendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		list, version, err := s.messageRepo.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if list.Contains(msg.ID) {
			return nil
		}
		list.Messages = append(list.Messages, msg)
		list.Sort()

		_, err = s.messageRepo.Put(ctx, conversationID, list, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("conversation %s is being written concurrently: %w", conversationID, apperr.ErrConflict)
}

func (s *MessageService) discardImage(ctx context.Context, logger logrus.FieldLogger, key string) {
	if key == "" {
		return
	}
	if err := s.imageRepo.Delete(ctx, key); err != nil {
		logger.WithError(err).WithField("image_key", key).Warn("failed to remove image of failed send")
	}
}
