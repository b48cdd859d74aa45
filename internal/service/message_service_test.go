package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parcelchat/internal/domain"
	"parcelchat/internal/service"
)

type routerFixture struct {
	buffer    *fakeBuffer
	directory *fakeDirectory
	msgs      *fakeMessageRepo
	registry  *fakeRegistry
	jobs      *fakeQueue
	svc       *service.MessageService
}

func newRouterFixture(t *testing.T, flushThreshold int) *routerFixture {
	t.Helper()
	f := &routerFixture{
		buffer:    newFakeBuffer(),
		directory: newFakeDirectory(),
		msgs:      newFakeMessageRepo(),
		registry:  newFakeRegistry(),
		jobs:      newFakeQueue(),
	}
	users := newFakeUserRepo(
		&domain.User{ID: "alice", Username: "alice", IsActive: true},
		&domain.User{ID: "bob", Username: "bob", IsActive: true},
	)
	profiles := service.NewProfileResolver(newFakeProfileCache(), users)
	f.svc = service.NewMessageService(
		f.buffer, f.directory, f.msgs, profiles, f.registry, f.jobs, zap.NewNop(),
		flushThreshold, 10*time.Minute, time.Hour, 3,
	)
	return f
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversToRoomAndBuffers", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		f.registry.join("c1", "alice")
		f.registry.join("c1", "bob")

		msg, err := f.svc.Send(ctx, service.SendInput{
			SenderID: "alice", ReceiverID: "bob", ConversationID: "c1", Content: "hello",
		})
		require.NoError(t, err)
		assert.True(t, msg.Read, "receiver in the room means the message lands read")

		count, err := f.buffer.Count(ctx, "c1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)

		// Both room members get the message event plus their summary push.
		assert.NotEmpty(t, f.registry.sent["alice"])
		assert.NotEmpty(t, f.registry.sent["bob"])

		// Receiver was present, so no unseen increment and no notification.
		_, ok, err := f.directory.Unseen(ctx, "c1", "bob")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, f.jobs.byName(service.JobDispatchNotification))
	})

	t.Run("UnseenAndNotificationWhenReceiverAway", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		f.registry.join("c1", "alice")

		for i := 0; i < 2; i++ {
			_, err := f.svc.Send(ctx, service.SendInput{
				SenderID: "alice", ReceiverID: "bob", ConversationID: "c1",
				Content: fmt.Sprintf("msg %d", i),
			})
			require.NoError(t, err)
		}

		unseen, ok, err := f.directory.Unseen(ctx, "c1", "bob")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, unseen)
		assert.Len(t, f.jobs.byName(service.JobDispatchNotification), 2)
	})

	t.Run("PreviewTruncatesLongContent", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		long := strings.Repeat("x", 30)

		_, err := f.svc.Send(ctx, service.SendInput{
			SenderID: "alice", ReceiverID: "bob", ConversationID: "c1", Content: long,
		})
		require.NoError(t, err)

		p, err := f.directory.Preview(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, strings.Repeat("x", 20), p.LastMessage)
	})

	t.Run("ImageOnlyGetsPlaceholderPreview", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		img := "/api/uploads/1.png"

		_, err := f.svc.Send(ctx, service.SendInput{
			SenderID: "alice", ReceiverID: "bob", ConversationID: "c1", ImageURL: &img,
		})
		require.NoError(t, err)

		p, err := f.directory.Preview(ctx, "c1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Contains(t, p.LastMessage, "Image")
	})

	t.Run("RejectsEmptyMessage", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		_, err := f.svc.Send(ctx, service.SendInput{
			SenderID: "alice", ReceiverID: "bob", ConversationID: "c1",
		})
		assert.Error(t, err)
	})

	t.Run("RejectsMissingParticipants", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		_, err := f.svc.Send(ctx, service.SendInput{
			SenderID: "alice", ConversationID: "c1", Content: "hi",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMigrationScheduling(t *testing.T) {
	ctx := context.Background()

	t.Run("FlushScheduledAtThreshold", func(t *testing.T) {
		f := newRouterFixture(t, 3)
		for i := 0; i < 5; i++ {
			_, err := f.svc.Send(ctx, service.SendInput{
				SenderID: "alice", ReceiverID: "bob", ConversationID: "c1",
				Content: fmt.Sprintf("msg %d", i),
			})
			require.NoError(t, err)
		}
		assert.NotEmpty(t, f.jobs.byName(service.JobPersistMessages))
	})

	t.Run("DirectoryFlushScheduledOncePerWindow", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		for i := 0; i < 50; i++ {
			_, err := f.svc.Send(ctx, service.SendInput{
				SenderID: "alice", ReceiverID: "bob", ConversationID: "c1",
				Content: fmt.Sprintf("msg %d", i),
			})
			require.NoError(t, err)
		}
		assert.Len(t, f.jobs.byName(service.JobFlushDirectory), 1)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, f *routerFixture, durable, fast int) []string {
		t.Helper()
		// ids[0] is the newest message overall.
		var ids []string
		for i := 0; i < durable; i++ {
			m := &domain.Message{
				ID: fmt.Sprintf("old-%02d", i), ConversationID: "c1",
				SenderID: "alice", ReceiverID: "bob", Content: "old",
				CreatedAt: base.Add(-time.Duration(i+1) * time.Minute),
			}
			require.NoError(t, f.msgs.UpsertBatch(ctx, []*domain.Message{m}))
		}
		for i := fast - 1; i >= 0; i-- {
			m := &domain.Message{
				ID: fmt.Sprintf("new-%02d", i), ConversationID: "c1",
				SenderID: "alice", ReceiverID: "bob", Content: "new",
				CreatedAt: base.Add(time.Duration(fast-i) * time.Minute),
			}
			require.NoError(t, f.buffer.Append(ctx, "c1", m))
		}
		for i := 0; i < fast; i++ {
			ids = append(ids, fmt.Sprintf("new-%02d", i))
		}
		for i := 0; i < durable; i++ {
			ids = append(ids, fmt.Sprintf("old-%02d", i))
		}
		return ids
	}

	t.Run("PageStraddlesTierBoundary", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		ids := seed(t, f, 10, 3)

		page, err := f.svc.History(ctx, "c1", 1, 5)
		require.NoError(t, err)
		require.Len(t, page.Messages, 5)
		for i, ev := range page.Messages {
			assert.Equal(t, ids[i], ev.ID)
		}
		assert.Equal(t, 13, page.Meta.Total)
		assert.Equal(t, 3, page.Meta.TotalPage)
	})

	t.Run("LaterPagesContiguousNoDuplicates", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		ids := seed(t, f, 10, 3)

		var got []string
		for p := 1; p <= 3; p++ {
			page, err := f.svc.History(ctx, "c1", p, 5)
			require.NoError(t, err)
			for _, ev := range page.Messages {
				got = append(got, ev.ID)
			}
		}
		assert.Equal(t, ids, got)
	})

	t.Run("DeepPageServedFromDurableOnly", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		ids := seed(t, f, 10, 3)

		page, err := f.svc.History(ctx, "c1", 3, 5)
		require.NoError(t, err)
		require.Len(t, page.Messages, 3)
		assert.Equal(t, ids[10], page.Messages[0].ID)
	})

	t.Run("EmptyConversation", func(t *testing.T) {
		f := newRouterFixture(t, 100)
		page, err := f.svc.History(ctx, "c1", 1, 5)
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
		assert.Equal(t, 0, page.Meta.Total)
	})
}
