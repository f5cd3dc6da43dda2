package workers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
	"github.com/npjlab/pauta/pkg/observability"
)

// DefaultSyncInterval is the default pause between reconciliation cycles.
const DefaultSyncInterval = 2 * time.Minute

// DefaultMaxSyncErrors is how many consecutive failures an item may
// accumulate before the scan stops picking it up.
const DefaultMaxSyncErrors = 5

// DefaultSyncBatchSize caps how many pending items one cycle processes.
const DefaultSyncBatchSize = 50

// DefaultStaleClaimAge is how long an in_progress claim may sit before the
// cycle sweep assumes its worker died and returns the item to pending.
const DefaultStaleClaimAge = 10 * time.Minute

// SyncWorkerConfig configures the sync worker.
type SyncWorkerConfig struct {
	Interval      time.Duration
	MaxSyncErrors int
	BatchSize     int
	MaxParallel   int
	StaleClaimAge time.Duration
	Provider      domain.ProviderType
}

// DefaultSyncWorkerConfig returns the default configuration.
func DefaultSyncWorkerConfig() SyncWorkerConfig {
	return SyncWorkerConfig{
		Interval:      DefaultSyncInterval,
		MaxSyncErrors: DefaultMaxSyncErrors,
		BatchSize:     DefaultSyncBatchSize,
		MaxParallel:   application.DefaultMaxParallel,
		StaleClaimAge: DefaultStaleClaimAge,
		Provider:      domain.ProviderGoogle,
	}
}

// SyncWorker periodically scans for pending schedule items, reconciles them
// against each owner's remote calendar, and runs the reminder check.
type SyncWorker struct {
	repo      domain.ScheduleItemRepository
	registry  *application.ProviderRegistry
	notifier  *application.NotificationTrigger
	publisher eventbus.Publisher
	config    SyncWorkerConfig
	logger    *slog.Logger
	metrics   observability.Metrics
	running   atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewSyncWorker creates a new sync worker. Notifier and publisher are optional.
func NewSyncWorker(
	repo domain.ScheduleItemRepository,
	registry *application.ProviderRegistry,
	notifier *application.NotificationTrigger,
	publisher eventbus.Publisher,
	config SyncWorkerConfig,
	logger *slog.Logger,
) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		repo:      repo,
		registry:  registry,
		notifier:  notifier,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   observability.NoopMetrics{},
		stopCh:    make(chan struct{}),
	}
}

// WithMetrics installs a metrics collector.
func (w *SyncWorker) WithMetrics(metrics observability.Metrics) *SyncWorker {
	if metrics != nil {
		w.metrics = metrics
	}
	return w
}

// Run starts the worker and blocks until context is cancelled or Stop() is called.
func (w *SyncWorker) Run(ctx context.Context) error {
	if w.registry == nil || !w.registry.HasProvider(w.config.Provider) {
		w.logger.Warn("calendar provider not configured, sync worker will not start",
			"provider", w.config.Provider,
		)
		return nil
	}

	w.running.Store(true)
	w.logger.Info("sync worker started",
		"interval", w.config.Interval,
		"provider", w.config.Provider,
		"batch_size", w.config.BatchSize,
	)

	// Run immediately on start
	w.runSyncCycle(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.running.Store(false)
			w.logger.Info("sync worker stopped (context cancelled)")
			return ctx.Err()
		case <-w.stopCh:
			w.running.Store(false)
			w.logger.Info("sync worker stopped (stop signal)")
			return nil
		case <-ticker.C:
			w.runSyncCycle(ctx)
		}
	}
}

// Stop signals the worker to stop gracefully. Safe to call more than once.
func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// IsRunning returns true if the worker is currently running.
func (w *SyncWorker) IsRunning() bool {
	return w.running.Load()
}

// RunOnce executes a single sync cycle and returns. Used by the CLI.
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.runSyncCycle(ctx)
}

// runSyncCycle runs one reconciliation pass over all pending items.
func (w *SyncWorker) runSyncCycle(ctx context.Context) {
	w.logger.Debug("starting sync cycle")
	start := time.Now()
	defer func() {
		w.metrics.Timing(observability.MetricSyncCycleDuration, time.Since(start))
	}()

	age := w.config.StaleClaimAge
	if age <= 0 {
		age = DefaultStaleClaimAge
	}
	if n, err := w.repo.ReleaseStaleClaims(ctx, age); err != nil {
		w.logger.Error("failed to release stale claims", "error", err)
	} else if n > 0 {
		w.logger.Warn("recovered stale sync claims", "count", n, "older_than", age)
	}

	pending, err := w.repo.FindPendingSync(ctx, w.config.MaxSyncErrors, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to scan pending items", "error", err)
		return
	}
	if len(pending) == 0 {
		w.logger.Debug("no items pending sync")
		w.runReminderCheck(ctx)
		return
	}

	// Remote clients are bound to one owner, so the batch is reconciled
	// per owner group.
	for ownerID, items := range groupByOwner(pending) {
		if ctx.Err() != nil {
			return
		}
		w.syncOwner(ctx, ownerID, items)
	}

	w.runReminderCheck(ctx)
}

func (w *SyncWorker) syncOwner(ctx context.Context, ownerID uuid.UUID, items []*domain.ScheduleItem) {
	remote, err := w.registry.Create(ctx, w.config.Provider, ownerID)
	if err != nil {
		// Typically the owner never connected a calendar. Their items stay
		// pending without burning failure budget.
		w.logger.Warn("no remote calendar for owner",
			"owner_id", ownerID,
			"provider", w.config.Provider,
			"error", err,
		)
		return
	}

	reconciler := application.NewReconciler(w.repo, remote, w.publisher, w.logger).
		WithMaxParallel(w.config.MaxParallel)

	result, err := reconciler.Reconcile(ctx, items)
	if err != nil {
		w.logger.Error("reconciliation aborted", "owner_id", ownerID, "error", err)
		if result == nil {
			return
		}
	}

	w.logger.Info("owner batch reconciled",
		"owner_id", ownerID,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	w.metrics.Counter(observability.MetricSyncItems, int64(result.Created), observability.T("action", "created"))
	w.metrics.Counter(observability.MetricSyncItems, int64(result.Updated), observability.T("action", "updated"))
	w.metrics.Counter(observability.MetricSyncFailures, int64(result.Failed))

	if w.notifier != nil {
		w.notifier.NotifyOutcomes(ctx, items, result.Outcomes)
	}
}

func (w *SyncWorker) runReminderCheck(ctx context.Context) {
	if w.notifier == nil {
		return
	}
	report, err := w.notifier.CheckAndNotify(ctx, 0)
	if err != nil {
		w.logger.Error("reminder check failed", "error", err)
		return
	}
	if report.Notified > 0 || report.Errors > 0 {
		w.logger.Info("reminder check completed",
			"notified", report.Notified,
			"errors", report.Errors,
		)
		w.metrics.Counter(observability.MetricRemindersSent, int64(report.Notified))
		w.metrics.Counter(observability.MetricReminderErrors, int64(report.Errors))
	}
}

func groupByOwner(items []*domain.ScheduleItem) map[uuid.UUID][]*domain.ScheduleItem {
	groups := make(map[uuid.UUID][]*domain.ScheduleItem)
	for _, item := range items {
		groups[item.OwnerID()] = append(groups[item.OwnerID()], item)
	}
	return groups
}
