package subscribers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
)

type fakeRepo struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*domain.ScheduleItem
	statuses map[uuid.UUID]domain.SyncStatus
}

func newFakeRepo(items ...*domain.ScheduleItem) *fakeRepo {
	r := &fakeRepo{
		items:    make(map[uuid.UUID]*domain.ScheduleItem),
		statuses: make(map[uuid.UUID]domain.SyncStatus),
	}
	for _, item := range items {
		r.items[item.ID()] = item
		r.statuses[item.ID()] = item.Status()
	}
	return r
}

func (r *fakeRepo) Save(ctx context.Context, item *domain.ScheduleItem) error { return nil }

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id], nil
}

func (r *fakeRepo) FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.ScheduleItem, error) {
	return nil, nil
}

func (r *fakeRepo) FindPendingSync(ctx context.Context, maxErrors, limit int) ([]*domain.ScheduleItem, error) {
	return nil, nil
}

func (r *fakeRepo) FindDueReminder(ctx context.Context, within time.Duration, limit int) ([]*domain.ScheduleItem, error) {
	return nil, nil
}

func (r *fakeRepo) Claim(ctx context.Context, id uuid.UUID, from domain.SyncStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses[id] != from {
		return false, nil
	}
	r.statuses[id] = domain.SyncStatusInProgress
	return true, nil
}

func (r *fakeRepo) Release(ctx context.Context, id uuid.UUID, to domain.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = to
	return nil
}

func (r *fakeRepo) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (r *fakeRepo) MarkSynced(ctx context.Context, id uuid.UUID, remoteID, remoteLink string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = domain.SyncStatusSynced
	return nil
}

func (r *fakeRepo) ClearRemote(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = domain.SyncStatusPending
	return nil
}

func (r *fakeRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = domain.SyncStatusCancelled
	return nil
}

func (r *fakeRepo) MarkReminderSent(ctx context.Context, id uuid.UUID) error { return nil }

func (r *fakeRepo) RecordSyncFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type fakeRemote struct {
	mu      sync.Mutex
	creates int
	deletes int
}

func (f *fakeRemote) Create(ctx context.Context, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return &application.RemoteEvent{ID: uuid.NewString()}, nil
}

func (f *fakeRemote) Update(ctx context.Context, remoteID string, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	return &application.RemoteEvent{ID: remoteID}, nil
}

func (f *fakeRemote) Delete(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeRemote) Get(ctx context.Context, remoteID string) (*application.RemoteEvent, error) {
	return &application.RemoteEvent{ID: remoteID}, nil
}

func (f *fakeRemote) List(ctx context.Context, start, end time.Time, ownedOnly bool) ([]application.RemoteEvent, error) {
	return nil, nil
}

func registryWith(remote *fakeRemote) *application.ProviderRegistry {
	registry := application.NewProviderRegistry()
	registry.Register(domain.ProviderGoogle, func(ctx context.Context, ownerID uuid.UUID) (application.RemoteCalendar, error) {
		return remote, nil
	})
	return registry
}

func eventFor(t *testing.T, routingKey string, itemID uuid.UUID) *eventbus.ConsumedEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"item_id": itemID.String()})
	require.NoError(t, err)
	return &eventbus.ConsumedEvent{
		EventID:     uuid.New(),
		AggregateID: itemID,
		RoutingKey:  routingKey,
		OccurredAt:  time.Now(),
		Payload:     payload,
	}
}

func scheduledItem(t *testing.T) *domain.ScheduleItem {
	t.Helper()
	starts := time.Now().Add(2 * time.Hour)
	return domain.NewScheduleItem("Client intake", domain.CategoryMeeting,
		uuid.New(), "staff@npj.example", starts, starts.Add(time.Hour))
}

func TestItemSyncSubscriber_EventTypes(t *testing.T) {
	sub := NewItemSyncSubscriber(newFakeRepo(), registryWith(&fakeRemote{}), nil, domain.ProviderGoogle, nil)
	assert.ElementsMatch(t, []string{
		domain.RoutingKeyItemScheduled,
		domain.RoutingKeyItemEdited,
		domain.RoutingKeyItemCancelled,
	}, sub.EventTypes())
}

func TestItemSyncSubscriber_ScheduledEventTriggersSync(t *testing.T) {
	item := scheduledItem(t)
	repo := newFakeRepo(item)
	remote := &fakeRemote{}
	sub := NewItemSyncSubscriber(repo, registryWith(remote), nil, domain.ProviderGoogle, nil)

	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemScheduled, item.ID()))
	require.NoError(t, err)
	assert.Equal(t, 1, remote.creates)
	assert.Equal(t, domain.SyncStatusSynced, repo.statuses[item.ID()])
}

func TestItemSyncSubscriber_CancelledEventDeletesRemote(t *testing.T) {
	item := scheduledItem(t)
	item.MarkSynced("evt-1", "")
	repo := newFakeRepo(item)
	remote := &fakeRemote{}
	sub := NewItemSyncSubscriber(repo, registryWith(remote), nil, domain.ProviderGoogle, nil)

	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemCancelled, item.ID()))
	require.NoError(t, err)
	assert.Equal(t, 1, remote.deletes)
	assert.Equal(t, domain.SyncStatusCancelled, repo.statuses[item.ID()])
}

func TestItemSyncSubscriber_CancelledEventIdempotent(t *testing.T) {
	item := scheduledItem(t)
	item.MarkCancelled()
	repo := newFakeRepo(item)
	remote := &fakeRemote{}
	sub := NewItemSyncSubscriber(repo, registryWith(remote), nil, domain.ProviderGoogle, nil)

	// Consuming the event the cancellation itself produced must not loop.
	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemCancelled, item.ID()))
	require.NoError(t, err)
	assert.Equal(t, 0, remote.deletes)
}

func TestItemSyncSubscriber_UnknownItemIsDropped(t *testing.T) {
	sub := NewItemSyncSubscriber(newFakeRepo(), registryWith(&fakeRemote{}), nil, domain.ProviderGoogle, nil)

	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemScheduled, uuid.New()))
	assert.NoError(t, err)
}

func TestItemSyncSubscriber_NoProviderDefersToWorker(t *testing.T) {
	item := scheduledItem(t)
	repo := newFakeRepo(item)
	sub := NewItemSyncSubscriber(repo, application.NewProviderRegistry(), nil, domain.ProviderGoogle, nil)

	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemScheduled, item.ID()))
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, repo.statuses[item.ID()])
}

func TestItemSyncSubscriber_DisabledSkips(t *testing.T) {
	item := scheduledItem(t)
	repo := newFakeRepo(item)
	remote := &fakeRemote{}
	sub := NewItemSyncSubscriber(repo, registryWith(remote), nil, domain.ProviderGoogle, nil)
	sub.SetEnabled(false)

	err := sub.Handle(context.Background(), eventFor(t, domain.RoutingKeyItemScheduled, item.ID()))
	require.NoError(t, err)
	assert.Equal(t, 0, remote.creates)
}

func TestItemSyncSubscriber_MalformedPayload(t *testing.T) {
	sub := NewItemSyncSubscriber(newFakeRepo(), registryWith(&fakeRemote{}), nil, domain.ProviderGoogle, nil)

	err := sub.Handle(context.Background(), &eventbus.ConsumedEvent{
		RoutingKey: domain.RoutingKeyItemScheduled,
		Payload:    json.RawMessage(`{"item_id":`),
	})
	assert.Error(t, err)
}
