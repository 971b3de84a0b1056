package services

import (
	"context"
	"fmt"
	"sort"

	"sugarconnect/internal/models"
	"sugarconnect/internal/repositories"
)

// ConversationSummary is one entry of a user's inbox: the counterpart and the
// latest message, if any.
type ConversationSummary struct {
	User     models.UserSummary `json:"user"`
	Messages []models.Message   `json:"messages"`
}

// ConversationService builds the inbox of a user.
type ConversationService struct {
	userRepo    repositories.UserRepository
	messageRepo repositories.MessageRepository
	policy      Policy
}

// NewConversationService creates a new ConversationService.
func NewConversationService(userRepo repositories.UserRepository, messageRepo repositories.MessageRepository, policy Policy) *ConversationService {
	return &ConversationService{
		userRepo:    userRepo,
		messageRepo: messageRepo,
		policy:      policy,
	}
}

// ListConversations returns the caller's counterparts ordered by latest
// message, newest first. Counterparts without messages are only listed for
// privileged callers and sort last.
func (s *ConversationService) ListConversations(ctx context.Context, session models.Session) ([]ConversationSummary, error) {
	me, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("current user %s: %w", session.UserID, err)
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	privileged := me.Role == models.RoleAdmin

	type entry struct {
		summary ConversationSummary
		last    models.Timestamp
		name    string
	}
	entries := make([]entry, 0, len(users))
	for _, u := range users {
		if u.ID == me.ID || !s.policy.Eligible(me.Role, u.Role) {
			continue
		}
		list, _, err := s.messageRepo.Get(ctx, ConversationID(me.ID, u.ID))
		if err != nil {
			return nil, err
		}
		last, ok := list.Last()
		if !ok && !privileged {
			continue
		}

		e := entry{
			summary: ConversationSummary{User: u.Summary(), Messages: []models.Message{}},
			name:    u.Name,
		}
		if ok {
			e.summary.Messages = append(e.summary.Messages, last)
			e.last = last.Timestamp
		}
		entries = append(entries, e)
	}

	// Zero timestamps are the epoch, so empty conversations fall to the end.
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].last.Equal(entries[j].last.Time) {
			return entries[i].last.After(entries[j].last.Time)
		}
		return entries[i].name < entries[j].name
	})

	out := make([]ConversationSummary, len(entries))
	for i, e := range entries {
		out[i] = e.summary
	}
	return out, nil
}
