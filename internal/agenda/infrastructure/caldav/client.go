package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// Custom iCalendar properties carrying this system's ownership tag and
// reverse-lookup metadata.
const (
	PropXOwned    = "X-NPJ-PAUTA"
	PropXItemID   = "X-NPJ-ITEM-ID"
	PropXCategory = "X-NPJ-CATEGORY"
	PropXOwner    = "X-NPJ-OWNER"
)

// Client is a remote calendar backed by a generic CalDAV server
// (Nextcloud, Fastmail, self-hosted). Remote identifiers are the event
// object paths on the server.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	logger       *slog.Logger
	timeout      time.Duration
}

// NewClient creates a CalDAV remote calendar client.
func NewClient(baseURL, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// WithCalendarPath pins a specific calendar collection instead of the
// server's first one.
func (c *Client) WithCalendarPath(path string) *Client {
	c.calendarPath = path
	return c
}

// Create puts a new event object on the server.
func (c *Client) Create(ctx context.Context, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	client, calPath, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	eventPath := fmt.Sprintf("%s%s.ics", calPath, item.ID().String())
	if _, err := client.PutCalendarObject(ctx, eventPath, toICalendar(item)); err != nil {
		return nil, classify(err, "put event")
	}

	return &application.RemoteEvent{
		ID:     eventPath,
		Link:   strings.TrimSuffix(c.baseURL, "/") + eventPath,
		Title:  application.TagTitle(item.Title()),
		Start:  item.StartsAt(),
		End:    item.EndsAt(),
		Owned:  true,
		ItemID: item.ID(),
	}, nil
}

// Update overwrites the event object (full replace). A missing object on a
// CalDAV server would be silently re-created by PUT, so existence is
// checked first to preserve the not-found contract.
func (c *Client) Update(ctx context.Context, remoteID string, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	client, _, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := client.GetCalendarObject(ctx, remoteID); err != nil {
		return nil, classify(err, "get event")
	}
	if _, err := client.PutCalendarObject(ctx, remoteID, toICalendar(item)); err != nil {
		return nil, classify(err, "put event")
	}

	return &application.RemoteEvent{
		ID:     remoteID,
		Link:   strings.TrimSuffix(c.baseURL, "/") + remoteID,
		Title:  application.TagTitle(item.Title()),
		Start:  item.StartsAt(),
		End:    item.EndsAt(),
		Owned:  true,
		ItemID: item.ID(),
	}, nil
}

// Delete removes the event object.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	client, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, remoteID); err != nil {
		return classify(err, "remove event")
	}
	return nil
}

// Get fetches a single event object.
func (c *Client) Get(ctx context.Context, remoteID string) (*application.RemoteEvent, error) {
	client, _, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	obj, err := client.GetCalendarObject(ctx, remoteID)
	if err != nil {
		return nil, classify(err, "get event")
	}
	event := parseCalendarObject(obj)
	if event == nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteNotFound, 0, "object carries no event", nil)
	}
	return event, nil
}

// List queries events in the window. With ownedOnly, only events carrying
// the ownership property or the title tag are returned.
func (c *Client) List(ctx context.Context, start, end time.Time, ownedOnly bool) ([]application.RemoteEvent, error) {
	client, calPath, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{
				{
					Name: "VEVENT",
					Props: []string{
						"SUMMARY", "DTSTART", "DTEND", "UID", "DESCRIPTION",
						"LOCATION", "STATUS", "ATTENDEE",
						PropXOwned, PropXItemID, PropXCategory,
					},
				},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: start,
					End:   end,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, classify(err, "query calendar")
	}

	events := make([]application.RemoteEvent, 0, len(objects))
	for _, obj := range objects {
		event := parseCalendarObject(&obj)
		if event == nil {
			continue
		}
		if ownedOnly && !event.Owned {
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

func (c *Client) connect(ctx context.Context) (*caldav.Client, string, error) {
	httpClient := &http.Client{Timeout: c.timeout}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, c.username, c.password), c.baseURL)
	if err != nil {
		return nil, "", domain.NewRemoteError(domain.FailureRemoteUnavailable, 0, "create caldav client", err)
	}

	calPath := c.calendarPath
	if calPath == "" {
		calPath, err = findDefaultCalendar(ctx, client)
		if err != nil {
			return nil, "", err
		}
	}
	return client, calPath, nil
}

func findDefaultCalendar(ctx context.Context, client *caldav.Client) (string, error) {
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", classify(err, "find principal")
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", classify(err, "find calendar home set")
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", classify(err, "find calendars")
	}
	if len(cals) == 0 {
		return "", domain.NewRemoteError(domain.FailureRemoteRejected, 0, "no calendars on server", nil)
	}
	return cals[0].Path, nil
}

// classify maps webdav/HTTP failures onto the shared error taxonomy.
func classify(err error, op string) error {
	var httpErr *webdav.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusUnauthorized:
			return domain.NewRemoteError(domain.FailureAuthExpired, httpErr.Code, op, err)
		case httpErr.Code == http.StatusNotFound || httpErr.Code == http.StatusGone:
			return domain.NewRemoteError(domain.FailureRemoteNotFound, httpErr.Code, op, err)
		case httpErr.Code >= 400 && httpErr.Code < 500:
			return domain.NewRemoteError(domain.FailureRemoteRejected, httpErr.Code, op, err)
		}
		return domain.NewRemoteError(domain.FailureRemoteUnavailable, httpErr.Code, op, err)
	}
	return domain.NewRemoteError(domain.FailureRemoteUnavailable, 0, op, err)
}

// toICalendar renders a schedule item as a VCALENDAR with one VEVENT.
func toICalendar(item *domain.ScheduleItem) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//NPJ//Pauta Docket Sync//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, item.ID().String())
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, item.StartsAt().UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, item.EndsAt().UTC())
	event.Props.SetText(ical.PropSummary, application.TagTitle(item.Title()))
	if item.Description() != "" {
		event.Props.SetText(ical.PropDescription, item.Description())
	}
	if item.Location() != "" {
		event.Props.SetText(ical.PropLocation, item.Location())
	}

	setXProp(event, PropXOwned, "1")
	setXProp(event, PropXItemID, item.ID().String())
	setXProp(event, PropXCategory, string(item.Category()))
	setXProp(event, PropXOwner, item.OwnerID().String())

	cal.Children = append(cal.Children, event.Component)
	return cal
}

func setXProp(event *ical.Event, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	event.Props[name] = []ical.Prop{*prop}
}

func parseCalendarObject(obj *caldav.CalendarObject) *application.RemoteEvent {
	if obj == nil || obj.Data == nil {
		return nil
	}

	for _, child := range obj.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}

		event := &application.RemoteEvent{ID: obj.Path}
		if props := child.Props[ical.PropSummary]; len(props) > 0 {
			event.Title = props[0].Value
		}
		if props := child.Props[ical.PropDescription]; len(props) > 0 {
			event.Description = props[0].Value
		}
		if props := child.Props[ical.PropLocation]; len(props) > 0 {
			event.Location = props[0].Value
		}
		if props := child.Props[PropXCategory]; len(props) > 0 {
			event.Category = props[0].Value
		}
		if props := child.Props[PropXOwned]; len(props) > 0 && props[0].Value == "1" {
			event.Owned = true
		}
		if strings.HasPrefix(event.Title, application.TitleTag) {
			event.Owned = true
		}
		if props := child.Props[PropXItemID]; len(props) > 0 {
			if id, err := uuid.Parse(props[0].Value); err == nil {
				event.ItemID = id
			}
		}
		for _, prop := range child.Props[ical.PropAttendee] {
			event.Attendees = append(event.Attendees, strings.TrimPrefix(prop.Value, "mailto:"))
		}

		icalEvent := &ical.Event{Component: child}
		if start, err := icalEvent.DateTimeStart(time.UTC); err == nil {
			event.Start = start
		}
		if end, err := icalEvent.DateTimeEnd(time.UTC); err == nil {
			event.End = end
		}
		return event
	}
	return nil
}
