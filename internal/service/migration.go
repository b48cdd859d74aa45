package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parcelchat/internal/domain"
	"parcelchat/internal/queue"
)

// JobQueue is the submission side of the background queue.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any, opts queue.Options) (bool, error)
}

// Background job names.
const (
	JobPersistMessages      = "persistMessages"
	JobFlushDirectory       = "flushDirectory"
	JobMarkRead             = "markConversationRead"
	JobDispatchNotification = "dispatchNotification"
)

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type NotificationPayload struct {
	UserID string `json:"userId"`
	Body   string `json:"body"`
}

// Migrator owns the background jobs that drain the fast tier into durable
// storage and commit directory metadata.
type Migrator struct {
	buffer        domain.MessageCache
	directory     domain.DirectoryCache
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	notifications domain.NotificationRepository
	log           *zap.Logger
}

func NewMigrator(
	buffer domain.MessageCache,
	directory domain.DirectoryCache,
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	notifications domain.NotificationRepository,
	log *zap.Logger,
) *Migrator {
	return &Migrator{
		buffer:        buffer,
		directory:     directory,
		conversations: conversations,
		messages:      messages,
		notifications: notifications,
		log:           log,
	}
}

// Register binds the migrator's handlers to the worker.
func (m *Migrator) Register(w *queue.Worker) {
	w.Handle(JobPersistMessages, m.handlePersistMessages)
	w.Handle(JobFlushDirectory, m.handleFlushDirectory)
	w.Handle(JobMarkRead, m.handleMarkRead)
	w.Handle(JobDispatchNotification, m.handleDispatchNotification)
}

func (m *Migrator) handlePersistMessages(ctx context.Context, job *queue.Job) error {
	var p ConversationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	n, err := m.FlushMessages(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	m.log.Info("flushed fast tier",
		zap.String("conversation", p.ConversationID), zap.Int("messages", n))
	return nil
}

// FlushMessages drains a conversation's fast tier into the durable store.
// The snapshot is taken through the backup location so a crash anywhere
// before the final clear leaves a complete snapshot to replay, and the
// durable upsert is idempotent on message id, so replays are harmless.
// An empty buffer is a no-op, not an error.
func (m *Migrator) FlushMessages(ctx context.Context, conversationID string) (int, error) {
	snapshot, err := m.buffer.Snapshot(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("snapshot fast tier: %w", err)
	}
	if len(snapshot) == 0 {
		return 0, nil
	}
	if err := m.messages.UpsertBatch(ctx, snapshot); err != nil {
		return 0, fmt.Errorf("persist messages: %w", err)
	}
	if err := m.buffer.Clear(ctx, conversationID); err != nil {
		return 0, fmt.Errorf("clear fast tier: %w", err)
	}
	return len(snapshot), nil
}

func (m *Migrator) handleFlushDirectory(ctx context.Context, job *queue.Job) error {
	var p ConversationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return m.FlushDirectory(ctx, p.ConversationID)
}

// FlushDirectory commits the cached preview into the durable conversation
// record (activating the conversation), then clears the cache entry and the
// scheduling lock so the next send can schedule a fresh flush.
func (m *Migrator) FlushDirectory(ctx context.Context, conversationID string) error {
	p, err := m.directory.Preview(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("read preview: %w", err)
	}
	if p == nil {
		// Preview expired before the flush fired; release the lock and move on.
		if err := m.directory.ReleaseFlushLock(ctx, conversationID); err != nil {
			m.log.Warn("release flush lock failed", zap.String("conversation", conversationID), zap.Error(err))
		}
		return nil
	}
	if err := m.conversations.UpdateDirectory(ctx, conversationID, p.LastMessage, p.Timestamp); err != nil {
		return fmt.Errorf("update directory: %w", err)
	}
	if err := m.directory.ClearPreview(ctx, conversationID); err != nil {
		m.log.Warn("clear preview failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := m.directory.ReleaseFlushLock(ctx, conversationID); err != nil {
		m.log.Warn("release flush lock failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return nil
}

func (m *Migrator) handleMarkRead(ctx context.Context, job *queue.Job) error {
	var p MarkReadPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return m.MarkConversationRead(ctx, p.ConversationID, p.UserID)
}

// MarkConversationRead flips the user's unread messages in durable storage
// and drops their live unseen counter.
func (m *Migrator) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if err := m.messages.MarkAllRead(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if err := m.directory.ResetUnseen(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("reset unseen: %w", err)
	}
	return nil
}

func (m *Migrator) handleDispatchNotification(ctx context.Context, job *queue.Job) error {
	var p NotificationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return m.DispatchNotification(ctx, p.UserID, p.Body)
}

// DispatchNotification records a notification for an offline recipient.
func (m *Migrator) DispatchNotification(ctx context.Context, userID, body string) error {
	return m.notifications.Create(ctx, &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
}
