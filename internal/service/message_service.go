package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parcelchat/internal/domain"
	"parcelchat/internal/queue"
)

const maxContentRunes = 5000

// previewRunes bounds the preview stored in the directory cache.
const previewRunes = 20

// imagePlaceholder stands in for non-text messages in directory previews.
const imagePlaceholder = "\U0001F4F7 Image"

// Registry is the router's view of the connection registry: who is present
// where, and best-effort delivery to live connections.
type Registry interface {
	UserInConversation(conversationID, userID string) bool
	// ConversationMembers returns the user ids currently inside the room.
	ConversationMembers(conversationID string) []string
	UserOnline(userID string) bool
	// SendToUser delivers best-effort; returns false if the user has no live
	// connection.
	SendToUser(userID string, payload any) bool
}

// MessageService is the message router: it owns the send path and the
// hybrid fast/durable read path.
type MessageService struct {
	buffer    domain.MessageCache
	directory domain.DirectoryCache
	messages  domain.MessageRepository
	profiles  *ProfileResolver
	registry  Registry
	jobs      JobQueue
	log       *zap.Logger

	flushThreshold int
	flushWindow    time.Duration
	previewTTL     time.Duration
	jobMaxAttempts int
}

func NewMessageService(
	buffer domain.MessageCache,
	directory domain.DirectoryCache,
	messages domain.MessageRepository,
	profiles *ProfileResolver,
	registry Registry,
	jobs JobQueue,
	log *zap.Logger,
	flushThreshold int,
	flushWindow time.Duration,
	previewTTL time.Duration,
	jobMaxAttempts int,
) *MessageService {
	return &MessageService{
		buffer:         buffer,
		directory:      directory,
		messages:       messages,
		profiles:       profiles,
		registry:       registry,
		jobs:           jobs,
		log:            log,
		flushThreshold: flushThreshold,
		flushWindow:    flushWindow,
		previewTTL:     previewTTL,
		jobMaxAttempts: jobMaxAttempts,
	}
}

type SendInput struct {
	SenderID       string
	ReceiverID     string
	ConversationID string
	Content        string
	ImageURL       *string
}

// Send commits a message to the fast tier and returns. Delivery to live
// connections, directory updates, and migration scheduling are best-effort
// side effects; only a failed fast-tier append fails the send.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if in.SenderID == "" || in.ReceiverID == "" || in.ConversationID == "" {
		return nil, domain.ErrInvalidInput
	}
	if in.Content == "" && (in.ImageURL == nil || *in.ImageURL == "") {
		return nil, errors.New("message requires content or an image")
	}
	if len([]rune(in.Content)) > maxContentRunes {
		return nil, fmt.Errorf("message content exceeds %d characters", maxContentRunes)
	}

	now := time.Now().UTC()
	// Read is set from room presence at send time; a receiver who leaves
	// between this check and delivery is corrected by the mark-read path.
	read := s.registry.UserInConversation(in.ConversationID, in.ReceiverID)

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		ImageURL:       in.ImageURL,
		Read:           read,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.buffer.Append(ctx, in.ConversationID, msg); err != nil {
		return nil, fmt.Errorf("append to fast tier: %w", err)
	}

	// Committed. Everything below must not fail the send.
	s.fanOut(ctx, msg)

	if !read {
		if err := s.directory.IncrUnseen(ctx, in.ConversationID, in.ReceiverID); err != nil {
			s.log.Error("increment unseen failed", zap.String("conversation", in.ConversationID), zap.Error(err))
		}
		s.scheduleNotification(ctx, msg)
	}

	preview := &domain.Preview{LastMessage: previewText(in.Content, in.ImageURL), Timestamp: now}
	if err := s.directory.SetPreview(ctx, in.ConversationID, preview, s.previewTTL); err != nil {
		s.log.Error("set preview failed", zap.String("conversation", in.ConversationID), zap.Error(err))
	}

	s.pushSummaries(ctx, msg, preview)
	s.scheduleMigration(ctx, in.ConversationID)

	return msg, nil
}

// fanOut delivers the message to every connection inside the room. Each
// member sees the counterparty's profile as "receiver". No retry: a missed
// live delivery is recoverable via the history read path.
func (s *MessageService) fanOut(ctx context.Context, msg *domain.Message) {
	senderProfile, _ := s.profiles.Resolve(ctx, msg.SenderID)
	receiverProfile, _ := s.profiles.Resolve(ctx, msg.ReceiverID)

	for _, uid := range s.registry.ConversationMembers(msg.ConversationID) {
		counterparty := senderProfile
		if uid == msg.SenderID {
			counterparty = receiverProfile
		}
		s.registry.SendToUser(uid, newMessageEvent(msg, counterparty))
	}
}

// pushSummaries pushes each participant's updated directory entry to their
// connection, wherever in the app they are.
func (s *MessageService) pushSummaries(ctx context.Context, msg *domain.Message, preview *domain.Preview) {
	for _, uid := range []string{msg.SenderID, msg.ReceiverID} {
		if !s.registry.UserOnline(uid) {
			continue
		}
		other, err := s.profiles.Resolve(ctx, otherOf(msg, uid))
		if err != nil {
			other = &domain.User{ID: otherOf(msg, uid)}
		}
		unseen, ok, err := s.directory.Unseen(ctx, msg.ConversationID, uid)
		if err != nil || !ok {
			unseen = 0
		}
		s.registry.SendToUser(uid, &ConversationPushEvent{
			Type: EventConversationList,
			Conversation: &ConversationSummary{
				ConversationID:  msg.ConversationID,
				Type:            "private",
				Participant:     toParticipant(other),
				LastMessage:     preview.LastMessage,
				LastMessageTime: preview.Timestamp,
				Unseen:          unseen,
			},
		})
	}
}

func otherOf(msg *domain.Message, userID string) string {
	if msg.SenderID == userID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

// scheduleMigration considers both background jobs after a send. The flush
// job id carries a monotonically increasing marker; the directory job fires
// at most once per lock window.
func (s *MessageService) scheduleMigration(ctx context.Context, conversationID string) {
	count, err := s.buffer.Count(ctx, conversationID)
	if err != nil {
		s.log.Error("count fast tier failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	if count >= int64(s.flushThreshold) {
		jobID := fmt.Sprintf("persist:%s:%d", conversationID, time.Now().UnixMilli())
		if _, err := s.jobs.Enqueue(ctx, JobPersistMessages, ConversationPayload{ConversationID: conversationID}, queue.Options{
			ID:          jobID,
			MaxAttempts: s.jobMaxAttempts,
		}); err != nil {
			s.log.Error("schedule flush failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}

	locked, err := s.directory.AcquireFlushLock(ctx, conversationID, s.flushWindow)
	if err != nil {
		s.log.Error("acquire flush lock failed", zap.String("conversation", conversationID), zap.Error(err))
		return
	}
	if locked {
		if _, err := s.jobs.Enqueue(ctx, JobFlushDirectory, ConversationPayload{ConversationID: conversationID}, queue.Options{
			ID:          "conv:" + conversationID,
			Delay:       s.flushWindow,
			MaxAttempts: s.jobMaxAttempts,
		}); err != nil {
			s.log.Error("schedule directory flush failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}
}

func (s *MessageService) scheduleNotification(ctx context.Context, msg *domain.Message) {
	if s.registry.UserOnline(msg.ReceiverID) {
		return
	}
	_, err := s.jobs.Enqueue(ctx, JobDispatchNotification, NotificationPayload{
		UserID: msg.ReceiverID,
		Body:   previewText(msg.Content, msg.ImageURL),
	}, queue.Options{MaxAttempts: s.jobMaxAttempts})
	if err != nil {
		s.log.Error("schedule notification failed", zap.String("user", msg.ReceiverID), zap.Error(err))
	}
}

// History returns one page of messages, newest first, stitched across the
// two tiers: the fast tier holds the newest fastCount messages, the durable
// store everything older. Pages that straddle the boundary take the tail of
// the fast tier and backfill from durable offset 0, so the sequence is
// contiguous with no duplicates.
func (s *MessageService) History(ctx context.Context, conversationID string, page, limit int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	start := int64((page - 1) * limit)
	end := start + int64(limit) - 1

	fastCount, err := s.buffer.Count(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("count fast tier: %w", err)
	}
	durableCount, err := s.messages.CountForConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("count durable: %w", err)
	}
	total := int(fastCount) + durableCount

	var msgs []*domain.Message
	if start < fastCount {
		fastEnd := end
		if fastEnd > fastCount-1 {
			fastEnd = fastCount - 1
		}
		msgs, err = s.buffer.Page(ctx, conversationID, start, fastEnd)
		if err != nil {
			return nil, fmt.Errorf("read fast tier: %w", err)
		}
		if remaining := limit - len(msgs); remaining > 0 {
			older, err := s.messages.ListForConversation(ctx, conversationID, 0, remaining)
			if err != nil {
				return nil, fmt.Errorf("backfill durable: %w", err)
			}
			msgs = append(msgs, older...)
		}
	} else {
		msgs, err = s.messages.ListForConversation(ctx, conversationID, int(start-fastCount), limit)
		if err != nil {
			return nil, fmt.Errorf("read durable: %w", err)
		}
	}

	events := make([]*MessageEvent, 0, len(msgs))
	for _, m := range msgs {
		receiver, err := s.profiles.Resolve(ctx, m.ReceiverID)
		if err != nil {
			receiver = &domain.User{ID: m.ReceiverID}
		}
		events = append(events, newMessageEvent(m, receiver))
	}

	return &MessagePage{
		Messages: events,
		Meta: PageMeta{
			Page:      page,
			Limit:     limit,
			TotalPage: (total + limit - 1) / limit,
			Total:     total,
		},
	}, nil
}

func previewText(content string, imageURL *string) string {
	if content == "" {
		if imageURL != nil && *imageURL != "" {
			return imagePlaceholder
		}
		return ""
	}
	runes := []rune(content)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes])
	}
	return content
}
