package application

import (
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/google/uuid"
)

// Action is what the reconciler did with one item.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// SyncOutcome is the per-item result of one reconciliation attempt.
// It is transient: consumed by the caller and the notification trigger,
// never persisted.
type SyncOutcome struct {
	ItemID uuid.UUID
	Action Action
	Kind   domain.FailureKind // set only when Action is failed
	Err    error
}

// Failed reports whether the attempt failed.
func (o SyncOutcome) Failed() bool { return o.Action == ActionFailed }

// BatchResult aggregates the outcomes of one reconciliation batch.
type BatchResult struct {
	Created  int
	Updated  int
	Skipped  int
	Failed   int
	Outcomes []SyncOutcome
}

func (r *BatchResult) add(outcome SyncOutcome) {
	switch outcome.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Outcomes = append(r.Outcomes, outcome)
}
