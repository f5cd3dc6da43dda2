package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npjlab/pauta/internal/agenda/domain"
	sharedDomain "github.com/npjlab/pauta/internal/shared/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
)

// DefaultMaxParallel bounds in-flight remote calls per batch, keeping the
// engine inside the remote API's rate limits.
const DefaultMaxParallel = 5

// Reconciler walks batches of schedule items and converges the remote
// calendar to the local state. Items are processed independently: one
// item's failure never aborts or corrupts its siblings. Per item the
// sequence validate, claim, remote call, local write is strict.
type Reconciler struct {
	repo        domain.ScheduleItemRepository
	remote      RemoteCalendar
	publisher   eventbus.Publisher
	logger      *slog.Logger
	maxParallel int
}

// NewReconciler creates a reconciliation engine. The remote client and
// store are injected; publisher may be nil when no event bus is wired.
func NewReconciler(repo domain.ScheduleItemRepository, remote RemoteCalendar, publisher eventbus.Publisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:        repo,
		remote:      remote,
		publisher:   publisher,
		logger:      logger,
		maxParallel: DefaultMaxParallel,
	}
}

// WithMaxParallel caps concurrent in-flight remote calls.
func (r *Reconciler) WithMaxParallel(n int) *Reconciler {
	if n > 0 {
		r.maxParallel = n
	}
	return r
}

// Reconcile processes a batch of schedule items and returns one outcome per
// item plus aggregate counts. Per-item failures are folded into outcomes;
// only a systemic store failure or context cancellation yields an error,
// and even then the partial result is returned.
func (r *Reconciler) Reconcile(ctx context.Context, items []*domain.ScheduleItem) (*BatchResult, error) {
	if r.repo == nil || r.remote == nil {
		return nil, fmt.Errorf("reconciler not configured")
	}

	outcomes := make([]SyncOutcome, len(items))
	storeErrs := make([]error, len(items))

	sem := make(chan struct{}, r.maxParallel)
	var wg sync.WaitGroup

	for idx, item := range items {
		if ctx.Err() != nil {
			outcomes[idx] = SyncOutcome{ItemID: item.ID(), Action: ActionSkipped}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, item *domain.ScheduleItem) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[idx], storeErrs[idx] = r.reconcileItem(ctx, item)
		}(idx, item)
	}
	wg.Wait()

	result := &BatchResult{}
	for _, outcome := range outcomes {
		result.add(outcome)
	}

	for _, err := range storeErrs {
		if err != nil {
			return result, fmt.Errorf("sync store unreachable: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	r.logger.Info("reconciliation batch completed",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// reconcileItem runs the strict per-item sequence. The returned storeErr is
// non-nil only for store-level failures, which the batch treats as systemic.
func (r *Reconciler) reconcileItem(ctx context.Context, item *domain.ScheduleItem) (SyncOutcome, error) {
	id := item.ID()

	// Validation happens before anything else; an invalid range must never
	// reach the remote API.
	if err := item.Validate(); err != nil {
		r.publishFailure(ctx, item, domain.FailureInvalidRange, err)
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureInvalidRange, Err: err}, nil
	}

	if item.IsCancelled() {
		return SyncOutcome{ItemID: id, Action: ActionSkipped}, nil
	}

	// A claim held by another worker means the item is already being synced.
	prior := item.Status()
	if prior == domain.SyncStatusInProgress {
		return SyncOutcome{ItemID: id, Action: ActionSkipped}, nil
	}

	claimed, err := r.repo.Claim(ctx, id, prior)
	if err != nil {
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: err}, err
	}
	if !claimed {
		r.logger.Debug("item already claimed by another worker", "item_id", id)
		return SyncOutcome{ItemID: id, Action: ActionSkipped}, nil
	}

	if !item.HasRemote() {
		return r.createRemote(ctx, item, prior)
	}
	return r.updateRemote(ctx, item, prior)
}

func (r *Reconciler) createRemote(ctx context.Context, item *domain.ScheduleItem, prior domain.SyncStatus) (SyncOutcome, error) {
	id := item.ID()

	// An earlier attempt may have pushed the event and then lost the local
	// write. Adopt the orphan instead of creating a duplicate.
	if item.SyncErrors() > 0 {
		if orphan := r.findOrphanRemote(ctx, item); orphan != nil {
			return r.recordSynced(ctx, item, prior, orphan, ActionCreated)
		}
	}

	event, err := r.remote.Create(ctx, item)
	if err != nil {
		// Local state stays pending so a future batch retries.
		if relErr := r.release(ctx, item, prior, err); relErr != nil {
			return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: relErr}, relErr
		}
		kind := domain.Classify(err)
		r.logger.Warn("remote create failed", "item_id", id, "kind", kind, "error", err)
		r.publishFailure(ctx, item, kind, err)
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: kind, Err: err}, nil
	}

	return r.recordSynced(ctx, item, prior, event, ActionCreated)
}

func (r *Reconciler) updateRemote(ctx context.Context, item *domain.ScheduleItem, prior domain.SyncStatus) (SyncOutcome, error) {
	id := item.ID()

	event, err := r.remote.Update(ctx, item.RemoteID(), item)
	if err != nil {
		if domain.IsRemoteNotFound(err) {
			// The remote event was deleted out-of-band. Detach and fall back
			// to pending so the next run re-creates it.
			if clrErr := r.repo.ClearRemote(ctx, id); clrErr != nil {
				return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: clrErr}, clrErr
			}
			item.ClearRemote()
			r.logger.Warn("remote event missing, scheduled for re-create", "item_id", id)
			r.publishFailure(ctx, item, domain.FailureRemoteNotFound, err)
			return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureRemoteNotFound, Err: err}, nil
		}

		if relErr := r.release(ctx, item, prior, err); relErr != nil {
			return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: relErr}, relErr
		}
		kind := domain.Classify(err)
		r.logger.Warn("remote update failed", "item_id", id, "kind", kind, "error", err)
		r.publishFailure(ctx, item, kind, err)
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: kind, Err: err}, nil
	}

	return r.recordSynced(ctx, item, prior, event, ActionUpdated)
}

// recordSynced persists a confirmed remote push. When the local write fails
// the claim is given back so a later batch retries; the remote id travels in
// the failure record so the orphan event can be found again.
func (r *Reconciler) recordSynced(ctx context.Context, item *domain.ScheduleItem, prior domain.SyncStatus, event *RemoteEvent, action Action) (SyncOutcome, error) {
	id := item.ID()

	if err := r.repo.MarkSynced(ctx, id, event.ID, event.Link); err != nil {
		cause := fmt.Errorf("remote event %s confirmed but not recorded: %w", event.ID, err)
		if relErr := r.release(ctx, item, prior, cause); relErr != nil {
			r.logger.Error("claim stuck after store failure, stale sweep will recover it",
				"item_id", id, "remote_id", event.ID, "error", relErr)
		}
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: err}, err
	}
	item.MarkSynced(event.ID, event.Link)

	r.logger.Info("remote push recorded", "item_id", id, "remote_id", event.ID, "action", action)
	r.publish(ctx, domain.NewItemSyncedEvent(id, event.ID, event.Link, string(action)))
	return SyncOutcome{ItemID: id, Action: action}, nil
}

// findOrphanRemote looks for an owned remote event carrying this item's id,
// left behind when a run created the event but could not record it locally.
// The lookup is advisory: a failed List falls through to a fresh create.
func (r *Reconciler) findOrphanRemote(ctx context.Context, item *domain.ScheduleItem) *RemoteEvent {
	events, err := r.remote.List(ctx, item.StartsAt().Add(-time.Minute), item.EndsAt().Add(time.Minute), true)
	if err != nil {
		r.logger.Debug("orphan lookup failed", "item_id", item.ID(), "error", err)
		return nil
	}
	for i := range events {
		if events[i].ItemID == item.ID() {
			r.logger.Info("adopting remote event from interrupted run",
				"item_id", item.ID(), "remote_id", events[i].ID)
			return &events[i]
		}
	}
	return nil
}

// CancelAndDelete removes the remote event for a locally cancelled item and
// marks the item cancelled. Both a confirmed delete and a missing remote
// event reach the desired end state; any other remote failure leaves the
// item eligible for retry on the next run.
func (r *Reconciler) CancelAndDelete(ctx context.Context, item *domain.ScheduleItem) SyncOutcome {
	id := item.ID()

	if item.IsCancelled() {
		return SyncOutcome{ItemID: id, Action: ActionSkipped}
	}

	remoteDeleted := false
	if item.HasRemote() {
		err := r.remote.Delete(ctx, item.RemoteID())
		switch {
		case err == nil:
			remoteDeleted = true
		case domain.IsRemoteNotFound(err):
			// Already gone; the desired end state is true.
			r.logger.Debug("remote event already deleted", "item_id", id)
		default:
			kind := domain.Classify(err)
			r.logger.Warn("remote delete failed", "item_id", id, "kind", kind, "error", err)
			if recErr := r.repo.RecordSyncFailure(ctx, id, err.Error()); recErr != nil {
				r.logger.Error("failed to record sync failure", "item_id", id, "error", recErr)
			}
			r.publishFailure(ctx, item, kind, err)
			return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: kind, Err: err}
		}
	}

	if err := r.repo.MarkCancelled(ctx, id); err != nil {
		return SyncOutcome{ItemID: id, Action: ActionFailed, Kind: domain.FailureStoreUnavailable, Err: err}
	}
	item.MarkCancelled()

	r.logger.Info("item cancelled", "item_id", id, "remote_deleted", remoteDeleted)
	r.publish(ctx, domain.NewItemCancelledEvent(id, remoteDeleted))
	return SyncOutcome{ItemID: id, Action: ActionDeleted}
}

// release returns a claimed item to its prior status and records the failure.
func (r *Reconciler) release(ctx context.Context, item *domain.ScheduleItem, prior domain.SyncStatus, cause error) error {
	if err := r.repo.Release(ctx, item.ID(), prior); err != nil {
		return err
	}
	if err := r.repo.RecordSyncFailure(ctx, item.ID(), cause.Error()); err != nil {
		return err
	}
	item.MarkSyncFailure(cause.Error())
	return nil
}

func (r *Reconciler) publish(ctx context.Context, event sharedDomain.DomainEvent) {
	if err := eventbus.PublishDomainEvent(ctx, r.publisher, event); err != nil {
		r.logger.Warn("failed to publish domain event", "routing_key", event.RoutingKey(), "error", err)
	}
}

func (r *Reconciler) publishFailure(ctx context.Context, item *domain.ScheduleItem, kind domain.FailureKind, err error) {
	if pubErr := eventbus.PublishDomainEvent(ctx, r.publisher, domain.NewItemSyncFailedEvent(item.ID(), kind, err.Error())); pubErr != nil {
		r.logger.Warn("failed to publish sync failure event", "item_id", item.ID(), "error", pubErr)
	}
}
