package service_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"parcelchat/internal/domain"
	"parcelchat/internal/queue"
)

// Stateful in-memory fakes for the cache and repository interfaces. They keep
// just enough behavior for the services to be exercised end to end without
// Redis or a database.

type fakeBuffer struct {
	mu      sync.Mutex
	live    map[string][]*domain.Message
	backups map[string][]*domain.Message
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{
		live:    make(map[string][]*domain.Message),
		backups: make(map[string][]*domain.Message),
	}
}

func (f *fakeBuffer) Append(_ context.Context, conversationID string, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[conversationID] = append(f.live[conversationID], m)
	return nil
}

func (f *fakeBuffer) Count(_ context.Context, conversationID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.live[conversationID])), nil
}

// newestFirst returns a copy ordered newest first, ties kept in reverse
// insertion order, matching a send-time-scored sorted set read in reverse.
func (f *fakeBuffer) newestFirst(conversationID string) []*domain.Message {
	src := f.live[conversationID]
	out := make([]*domain.Message, len(src))
	for i, m := range src {
		out[len(src)-1-i] = m
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (f *fakeBuffer) Page(_ context.Context, conversationID string, start, stop int64) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.newestFirst(conversationID)
	if start >= int64(len(all)) {
		return nil, nil
	}
	if stop >= int64(len(all)) {
		stop = int64(len(all)) - 1
	}
	return all[start : stop+1], nil
}

func (f *fakeBuffer) Snapshot(_ context.Context, conversationID string) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.backups[conversationID]; ok {
		return b, nil
	}
	snap := f.newestFirst(conversationID)
	if len(snap) == 0 {
		return nil, nil
	}
	f.backups[conversationID] = snap
	return snap, nil
}

func (f *fakeBuffer) Clear(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, conversationID)
	delete(f.backups, conversationID)
	return nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	previews map[string]*domain.Preview
	unseen   map[string]map[string]int
	locks    map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		previews: make(map[string]*domain.Preview),
		unseen:   make(map[string]map[string]int),
		locks:    make(map[string]bool),
	}
}

func (f *fakeDirectory) SetPreview(_ context.Context, conversationID string, p *domain.Preview, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews[conversationID] = p
	return nil
}

func (f *fakeDirectory) Preview(_ context.Context, conversationID string) (*domain.Preview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previews[conversationID], nil
}

func (f *fakeDirectory) ClearPreview(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.previews, conversationID)
	return nil
}

func (f *fakeDirectory) IncrUnseen(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unseen[conversationID] == nil {
		f.unseen[conversationID] = make(map[string]int)
	}
	f.unseen[conversationID][userID]++
	return nil
}

func (f *fakeDirectory) Unseen(_ context.Context, conversationID, userID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counters, ok := f.unseen[conversationID]
	if !ok {
		return 0, false, nil
	}
	n, ok := counters[userID]
	return n, ok, nil
}

func (f *fakeDirectory) ResetUnseen(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if counters, ok := f.unseen[conversationID]; ok {
		delete(counters, userID)
	}
	return nil
}

func (f *fakeDirectory) AcquireFlushLock(_ context.Context, conversationID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[conversationID] {
		return false, nil
	}
	f.locks[conversationID] = true
	return true, nil
}

func (f *fakeDirectory) ReleaseFlushLock(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, conversationID)
	return nil
}

type fakeProfileCache struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeProfileCache() *fakeProfileCache {
	return &fakeProfileCache{users: make(map[string]*domain.User)}
}

func (f *fakeProfileCache) Store(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeProfileCache) Get(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeProfileCache) Remove(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	return nil
}

type fakeUserRepo struct {
	users map[string]*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

type fakeConversationRepo struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{convs: make(map[string]*domain.Conversation)}
}

func orderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func (f *fakeConversationRepo) GetOrCreate(_ context.Context, user1ID, user2ID string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u1, u2 := orderPair(user1ID, user2ID)
	for _, c := range f.convs {
		if c.User1ID == u1 && c.User2ID == u2 {
			return c, nil
		}
	}
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        "conv-" + u1 + "-" + u2,
		User1ID:   u1,
		User2ID:   u2,
		Status:    domain.ConversationInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.convs[id]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeConversationRepo) ListActiveForUser(_ context.Context, userID string, offset, limit int) ([]*domain.Conversation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*domain.Conversation
	for _, c := range f.convs {
		if c.Status != domain.ConversationActive {
			continue
		}
		if c.User1ID != userID && c.User2ID != userID {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (f *fakeConversationRepo) UpdateDirectory(_ context.Context, id, lastMessage string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastMessage = &lastMessage
	c.UpdatedAt = updatedAt
	c.Status = domain.ConversationActive
	return nil
}

type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs map[string][]*domain.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[string][]*domain.Message)}
}

func (f *fakeMessageRepo) UpsertBatch(_ context.Context, msgs []*domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		exists := false
		for _, have := range f.msgs[m.ConversationID] {
			if have.ID == m.ID {
				exists = true
				break
			}
		}
		if !exists {
			cp := *m
			f.msgs[m.ConversationID] = append(f.msgs[m.ConversationID], &cp)
		}
	}
	return nil
}

func (f *fakeMessageRepo) newestFirst(conversationID string) []*domain.Message {
	src := f.msgs[conversationID]
	out := make([]*domain.Message, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (f *fakeMessageRepo) ListForConversation(_ context.Context, conversationID string, offset, limit int) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.newestFirst(conversationID)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeMessageRepo) CountForConversation(_ context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs[conversationID]), nil
}

func (f *fakeMessageRepo) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs[conversationID] {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessageRepo) MarkAllRead(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs[conversationID] {
		if m.ReceiverID == userID && !m.Read {
			m.Read = true
		}
	}
	return nil
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	created []*domain.Notification
}

func (f *fakeNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, n)
	return nil
}

// fakeRegistry stands in for the connection hub: configurable presence plus a
// record of every payload delivered per user.
type fakeRegistry struct {
	mu     sync.Mutex
	rooms  map[string]map[string]bool
	online map[string]bool
	sent   map[string][]any
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		rooms:  make(map[string]map[string]bool),
		online: make(map[string]bool),
		sent:   make(map[string][]any),
	}
}

func (f *fakeRegistry) join(conversationID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[conversationID] == nil {
		f.rooms[conversationID] = make(map[string]bool)
	}
	f.rooms[conversationID][userID] = true
	f.online[userID] = true
}

func (f *fakeRegistry) UserInConversation(conversationID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[conversationID][userID]
}

func (f *fakeRegistry) ConversationMembers(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []string
	for uid := range f.rooms[conversationID] {
		members = append(members, uid)
	}
	sort.Strings(members)
	return members
}

func (f *fakeRegistry) UserOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeRegistry) SendToUser(userID string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return true
}

type queuedJob struct {
	Name    string
	ID      string
	Payload json.RawMessage
	Opts    queue.Options
}

// fakeQueue records submissions and deduplicates by job id the way the real
// queue does while a job is scheduled.
type fakeQueue struct {
	mu        sync.Mutex
	jobs      []queuedJob
	scheduled map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{scheduled: make(map[string]bool)}
}

func (f *fakeQueue) Enqueue(_ context.Context, name string, payload any, opts queue.Options) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.ID != "" && f.scheduled[opts.ID] {
		return false, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	if opts.ID != "" {
		f.scheduled[opts.ID] = true
	}
	f.jobs = append(f.jobs, queuedJob{Name: name, ID: opts.ID, Payload: data, Opts: opts})
	return true, nil
}

func (f *fakeQueue) byName(name string) []queuedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queuedJob
	for _, j := range f.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}
