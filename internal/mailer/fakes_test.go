package mailer

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore implements QueueStore in memory with the same rules as the postgres store.
type memStore struct {
	mu    sync.Mutex
	items map[string]*QueueItem
	order []string

	claimErr error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*QueueItem)}
}

func cloneItem(item *QueueItem) *QueueItem {
	c := *item
	c.Context = maps.Clone(item.Context)
	return &c
}

func (m *memStore) liveKeyHolder(key, exceptID string) bool {
	if key == "" {
		return false
	}
	for id, item := range m.items {
		if id != exceptID && item.DedupKey == key && item.Status.IsLive() {
			return true
		}
	}
	return false
}

func (m *memStore) Enqueue(_ context.Context, item *QueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveKeyHolder(item.DedupKey, "") {
		return false, nil
	}
	m.items[item.ID] = cloneItem(item)
	m.order = append(m.order, item.ID)
	return true, nil
}

func (m *memStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return m.claimLocked(now, limit), nil
}

func (m *memStore) ClaimDueCapped(_ context.Context, now time.Time, limit int, budget DispatchCap) ([]*QueueItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErr != nil {
		return nil, 0, m.claimErr
	}
	remaining := max(budget.Limit-m.dispatchedSinceLocked(budget.Since), 0)
	if remaining == 0 {
		return nil, 0, nil
	}
	return m.claimLocked(now, min(limit, remaining)), remaining, nil
}

func (m *memStore) claimLocked(now time.Time, limit int) []*QueueItem {
	var due []*QueueItem
	for _, id := range m.order {
		item := m.items[id]
		if item.Status == QueueStatusPending && !item.ScheduledAt.After(now) {
			due = append(due, item)
		}
	}
	slices.SortStableFunc(due, func(a, b *QueueItem) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*QueueItem, 0, len(due))
	for _, item := range due {
		claimedAt := now
		item.Status = QueueStatusProcessing
		item.ClaimedAt = &claimedAt
		claimed = append(claimed, cloneItem(item))
	}
	return claimed
}

func (m *memStore) MarkAsSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != QueueStatusProcessing {
		return ErrItemNotFound
	}
	item.Status = QueueStatusSent
	item.SentAt = &sentAt
	item.ErrorMessage = ""
	return nil
}

func (m *memStore) MarkForRetry(_ context.Context, id string, retryCount int, errMsg string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != QueueStatusProcessing {
		return ErrItemNotFound
	}
	item.Status = QueueStatusPending
	item.RetryCount = retryCount
	item.ErrorMessage = errMsg
	item.ScheduledAt = nextAttempt
	item.ClaimedAt = nil
	return nil
}

func (m *memStore) MarkAsFailed(_ context.Context, id string, retryCount int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != QueueStatusProcessing {
		return ErrItemNotFound
	}
	item.Status = QueueStatusFailed
	item.RetryCount = retryCount
	item.ErrorMessage = errMsg
	return nil
}

func (m *memStore) ListFailed(_ context.Context, limit int) ([]*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []*QueueItem
	for _, id := range m.order {
		if item := m.items[id]; item.Status == QueueStatusFailed && len(failed) < limit {
			failed = append(failed, cloneItem(item))
		}
	}
	return failed, nil
}

func (m *memStore) RetryFailedItem(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != QueueStatusFailed || m.liveKeyHolder(item.DedupKey, id) {
		return false, nil
	}
	item.Status = QueueStatusPending
	item.RetryCount = 0
	item.ScheduledAt = now
	item.ErrorMessage = ""
	item.ClaimedAt = nil
	return true, nil
}

func (m *memStore) CountDispatchedSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchedSinceLocked(since), nil
}

func (m *memStore) dispatchedSinceLocked(since time.Time) int {
	n := 0
	for _, item := range m.items {
		switch {
		case item.Status == QueueStatusSent && item.SentAt != nil && !item.SentAt.Before(since):
			n++
		case item.Status == QueueStatusProcessing && item.ClaimedAt != nil && !item.ClaimedAt.Before(since):
			n++
		}
	}
	return n
}

func (m *memStore) CountEnqueuedSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, item := range m.items {
		if item.Priority != PrioritySystem && !item.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecoverStuckProcessing(_ context.Context, claimedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, item := range m.items {
		if item.Status == QueueStatusProcessing && item.ClaimedAt != nil && item.ClaimedAt.Before(claimedBefore) {
			item.Status = QueueStatusPending
			item.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteOldSentItems(_ context.Context, sentBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		item := m.items[id]
		if item.Status == QueueStatusSent && item.SentAt.Before(sentBefore) {
			delete(m.items, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

func (m *memStore) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &QueueStats{}
	for _, item := range m.items {
		switch item.Status {
		case QueueStatusPending:
			stats.Pending++
		case QueueStatusProcessing:
			stats.Processing++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// all returns copies of every item in insertion order.
func (m *memStore) all() []*QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]*QueueItem, 0, len(m.order))
	for _, id := range m.order {
		items = append(items, cloneItem(m.items[id]))
	}
	return items
}

func (m *memStore) get(id string) *QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItem(m.items[id])
}

// setStatus forces an item into a state for test setup.
func (m *memStore) setStatus(id string, status QueueStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = status
}

// mockEvents implements EventRepository.
type mockEvents struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func newMockEvents(events ...*domain.Event) *mockEvents {
	m := &mockEvents{events: make(map[string]*domain.Event)}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *mockEvents) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (m *mockEvents) MarkRemindersScheduled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	e.RemindersScheduled = true
	return nil
}

func (m *mockEvents) ListUpcomingUnscheduled(_ context.Context, now time.Time, horizon time.Duration) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for _, e := range m.events {
		if e.IsActive && !e.RemindersScheduled && e.EventDate.After(now) && !e.EventDate.After(now.Add(horizon)) {
			c := *e
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Event) int { return a.EventDate.Compare(b.EventDate) })
	return out, nil
}

// mockCampaigns implements CampaignRepository.
type mockCampaigns struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func newMockCampaigns(campaigns ...*domain.Campaign) *mockCampaigns {
	m := &mockCampaigns{campaigns: make(map[string]*domain.Campaign)}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *mockCampaigns) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCampaigns) MarkCampaignScheduled(_ context.Context, id string, status domain.CampaignStatus, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.Status = status
	c.TotalRecipients = total
	return nil
}

func (m *mockCampaigns) IncrementSentCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.SentCount++
	if c.SentCount >= c.TotalRecipients {
		c.Status = domain.CampaignStatusSent
	}
	return nil
}

// mockTemplates implements TemplateRepository.
type mockTemplates struct {
	templates map[string]*domain.EmailTemplate
}

func newMockTemplates(templates ...*domain.EmailTemplate) *mockTemplates {
	m := &mockTemplates{templates: make(map[string]*domain.EmailTemplate)}
	for _, t := range templates {
		m.templates[t.ID] = t
	}
	return m
}

func (m *mockTemplates) GetTemplate(_ context.Context, id string) (*domain.EmailTemplate, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}

func (m *mockTemplates) GetTemplateByName(_ context.Context, name string) (*domain.EmailTemplate, error) {
	for _, t := range m.templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, ErrTemplateNotFound
}

// mockRecipients implements RecipientResolver.
type mockRecipients struct {
	participants map[string][]domain.Recipient
	groups       map[string][]domain.Recipient
	groupCalls   int
}

func newMockRecipients() *mockRecipients {
	return &mockRecipients{
		participants: make(map[string][]domain.Recipient),
		groups:       make(map[string][]domain.Recipient),
	}
}

func (m *mockRecipients) ResolveEventParticipants(_ context.Context, eventID string) ([]domain.Recipient, error) {
	return m.participants[eventID], nil
}

func (m *mockRecipients) ResolveGroupRecipients(_ context.Context, groupIDs []string) ([]domain.Recipient, error) {
	m.groupCalls++
	var out []domain.Recipient
	for _, id := range groupIDs {
		out = append(out, m.groups[id]...)
	}
	return out, nil
}

func (m *mockRecipients) ResolveCampaignRecipients(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	out, _ := m.ResolveGroupRecipients(ctx, c.RecipientGroupIDs)
	for _, email := range c.RecipientEmails {
		out = append(out, domain.Recipient{Email: email})
	}
	return out, nil
}

// mockTransport records sent messages and fails according to failFn.
type mockTransport struct {
	mu     sync.Mutex
	sent   []Message
	failFn func(Message) error
}

func (m *mockTransport) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFn != nil {
		if err := m.failFn(msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockTransport) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	return out
}

func participants(names ...string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(names))
	for i, name := range names {
		out = append(out, domain.Recipient{
			ID:    "user-" + string(rune('a'+i)),
			Email: strings.ToLower(name) + "@example.com",
			Name:  name,
		})
	}
	return out
}

// testEnv wires a scheduler and processor over in-memory collaborators.
type testEnv struct {
	clock      *fakeClock
	store      *memStore
	events     *mockEvents
	campaigns  *mockCampaigns
	templates  *mockTemplates
	recipients *mockRecipients
	transport  *mockTransport
	quota      QuotaConfig
	config     ProcessorConfig
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	config := DefaultProcessorConfig()
	config.Concurrency = 1
	return &testEnv{
		clock:      newFakeClock(testNow),
		store:      newMemStore(),
		events:     newMockEvents(),
		campaigns:  newMockCampaigns(),
		templates:  newMockTemplates(),
		recipients: newMockRecipients(),
		transport:  &mockTransport{},
		config:     config,
	}
}

func (e *testEnv) templateSource() *TemplateSource {
	src, err := NewTemplateSource(e.templates)
	if err != nil {
		panic(err)
	}
	return src
}

func (e *testEnv) scheduler() *Scheduler {
	return NewScheduler(SchedulerDeps{
		Enqueuer:   NewEnqueuer(e.store, e.clock, DefaultMaxRetries),
		Events:     e.events,
		Campaigns:  e.campaigns,
		Recipients: e.recipients,
		Templates:  e.templateSource(),
		Renderer:   NewTemplateRenderer(),
		Quota:      NewQuotaGuard(e.quota, e.store, e.clock),
		Clock:      e.clock,
	})
}

func (e *testEnv) processor() *Processor {
	return NewProcessor(e.config, ProcessorDeps{
		Store:     e.store,
		Transport: e.transport,
		Templates: e.templateSource(),
		Renderer:  NewTemplateRenderer(),
		Events:    e.events,
		Campaigns: e.campaigns,
		Quota:     NewQuotaGuard(e.quota, e.store, e.clock),
		Clock:     e.clock,
	})
}
