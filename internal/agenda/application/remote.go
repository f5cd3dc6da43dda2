package application

import (
	"context"
	"strings"
	"time"

	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/google/uuid"
)

// TitleTag marks remote events this system owns on a shared calendar.
// Every provider prefixes titles with it so list filtering and human
// operators can tell system-owned events apart.
const TitleTag = "[NPJ]"

// TagTitle prefixes a title with the system tag unless already present.
func TagTitle(title string) string {
	if strings.HasPrefix(title, TitleTag) {
		return title
	}
	return TitleTag + " " + title
}

// RemoteEvent is the remote calendar's view of a schedule item.
// The remote calendar owns it; this system only touches it through
// a RemoteCalendar implementation.
type RemoteEvent struct {
	ID          string
	Link        string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Owned       bool      // carries this system's ownership tag
	ItemID      uuid.UUID // local schedule item id embedded in remote metadata
	Category    string
}

// RemoteCalendar is the typed boundary to a third-party calendar.
// Implementations classify failures as domain.RemoteError and never
// retry internally; retry policy belongs to the reconciler so per-item
// isolation is preserved.
type RemoteCalendar interface {
	// Create pushes a new event and returns the assigned remote id and link.
	Create(ctx context.Context, item *domain.ScheduleItem) (*RemoteEvent, error)

	// Update re-sends the full event body (full-replace, not a partial patch).
	Update(ctx context.Context, remoteID string, item *domain.ScheduleItem) (*RemoteEvent, error)

	// Delete removes the remote event. RemoteNotFound is surfaced as an
	// error; callers decide whether it counts as success.
	Delete(ctx context.Context, remoteID string) error

	// Get fetches a single remote event.
	Get(ctx context.Context, remoteID string) (*RemoteEvent, error)

	// List returns events in the window. With ownedOnly, only events
	// carrying this system's tag are returned, so unrelated entries on a
	// shared calendar never surface.
	List(ctx context.Context, start, end time.Time, ownedOnly bool) ([]RemoteEvent, error)
}
