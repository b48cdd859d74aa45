package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"parcelchat/internal/domain"
	"parcelchat/internal/queue"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	directory     domain.DirectoryCache
	profiles      *ProfileResolver
	jobs          JobQueue
	log           *zap.Logger

	jobMaxAttempts int
}

func NewConversationService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	directory domain.DirectoryCache,
	profiles *ProfileResolver,
	jobs JobQueue,
	log *zap.Logger,
	jobMaxAttempts int,
) *ConversationService {
	return &ConversationService{
		conversations:  conversations,
		messages:       messages,
		directory:      directory,
		profiles:       profiles,
		jobs:           jobs,
		log:            log,
		jobMaxAttempts: jobMaxAttempts,
	}
}

// GetOrCreate resolves the conversation between two users, creating an
// inactive one on first contact. Symmetric in its arguments.
func (s *ConversationService) GetOrCreate(ctx context.Context, user1ID, user2ID string) (*domain.Conversation, error) {
	if user1ID == "" || user2ID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.conversations.GetOrCreate(ctx, user1ID, user2ID)
}

// Get returns the conversation if userID participates in it.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.User1ID != userID && conv.User2ID != userID {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}

// List returns the user's conversation directory page. The durable store
// provides the active conversations and ordering; the fast tier overrides
// the stored preview (it reflects activity since the last directory flush)
// and the live unseen counter when one exists.
func (s *ConversationService) List(ctx context.Context, userID string, page, limit int) (*ConversationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	convs, total, err := s.conversations.ListActiveForUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	result := make([]*ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary, err := s.Summary(ctx, conv, userID)
		if err != nil {
			return nil, err
		}
		result = append(result, summary)
	}

	return &ConversationPage{
		Result: result,
		Meta: PageMeta{
			Page:      page,
			Limit:     limit,
			TotalPage: (total + limit - 1) / limit,
			Total:     total,
		},
	}, nil
}

// Summary builds one directory entry for userID's view of the conversation.
func (s *ConversationService) Summary(ctx context.Context, conv *domain.Conversation, userID string) (*ConversationSummary, error) {
	other, err := s.profiles.Resolve(ctx, conv.Other(userID))
	if err != nil {
		s.log.Warn("resolve participant failed",
			zap.String("conversation", conv.ID), zap.Error(err))
		other = &domain.User{ID: conv.Other(userID)}
	}

	lastMessage := ""
	if conv.LastMessage != nil {
		lastMessage = *conv.LastMessage
	}
	lastMessageTime := conv.UpdatedAt

	// Cache wins over the stored preview: it reflects sends newer than the
	// last directory flush.
	if p, err := s.directory.Preview(ctx, conv.ID); err == nil && p != nil {
		lastMessage = p.LastMessage
		lastMessageTime = p.Timestamp
	}

	unseen, ok, err := s.directory.Unseen(ctx, conv.ID, userID)
	if err != nil {
		s.log.Warn("read unseen counter failed", zap.String("conversation", conv.ID), zap.Error(err))
	}
	if !ok {
		if unseen, err = s.messages.CountUnread(ctx, conv.ID, userID); err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
	}

	return &ConversationSummary{
		ConversationID:  conv.ID,
		Type:            "private",
		Participant:     toParticipant(other),
		LastMessage:     lastMessage,
		LastMessageTime: lastMessageTime,
		Unseen:          unseen,
	}, nil
}

// MarkRead flips all unread messages addressed to userID and resets the
// unseen counter. Resetting an absent counter is a no-op, never negative.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.messages.MarkAllRead(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if err := s.directory.ResetUnseen(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("reset unseen: %w", err)
	}
	return nil
}

// ScheduleMarkRead submits the mark-read work that runs when a user joins a
// conversation; the join itself does not wait on it.
func (s *ConversationService) ScheduleMarkRead(ctx context.Context, conversationID, userID string) {
	_, err := s.jobs.Enqueue(ctx, JobMarkRead, MarkReadPayload{
		ConversationID: conversationID,
		UserID:         userID,
	}, queue.Options{MaxAttempts: s.jobMaxAttempts})
	if err != nil {
		s.log.Error("schedule mark-read failed",
			zap.String("conversation", conversationID), zap.Error(err))
	}
}
