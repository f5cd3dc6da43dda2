package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Metadata keys embedded in extendedProperties.private for reverse lookup
// and ownership filtering.
const (
	metaOwnedKey    = "pauta"
	metaItemIDKey   = "pauta_item_id"
	metaCategoryKey = "pauta_category"
	metaOwnerKey    = "pauta_owner"
)

// Default reminder overrides applied when an item carries no policy:
// one email a day ahead, popups one hour and ten minutes ahead.
var defaultReminderOverrides = []reminderOverride{
	{Method: "email", Minutes: 24 * 60},
	{Method: "popup", Minutes: 60},
	{Method: "popup", Minutes: 10},
}

type tokenSourceProvider interface {
	TokenSource(ctx context.Context, ownerID uuid.UUID) (oauth2.TokenSource, error)
}

// Client is a typed wrapper over the Google Calendar v3 REST API, bound to
// one owner's credentials. It classifies failures as domain.RemoteError and
// never retries; retry policy belongs to the reconciler.
type Client struct {
	tokens     tokenSourceProvider
	ownerID    uuid.UUID
	logger     *slog.Logger
	baseURL    string
	calendarID string
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[httpResult]
}

type httpResult struct {
	status int
	body   []byte
}

// NewClient creates a Google Calendar client for one owner.
func NewClient(tokens tokenSourceProvider, ownerID uuid.UUID, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		tokens:     tokens,
		ownerID:    ownerID,
		logger:     logger,
		baseURL:    defaultBaseURL,
		calendarID: "primary",
		timeout:    15 * time.Second,
	}
	c.breaker = gobreaker.NewCircuitBreaker[httpResult](gobreaker.Settings{
		Name:    "google-calendar",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// WithBaseURL overrides the API endpoint, used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// WithCalendarID targets a calendar other than the owner's primary.
func (c *Client) WithCalendarID(calendarID string) *Client {
	if calendarID != "" {
		c.calendarID = calendarID
	}
	return c
}

// WithTimeout sets the per-call timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

// Create pushes a new event and returns the assigned remote id and link.
func (c *Client) Create(ctx context.Context, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	payload := toGoogleEvent(item)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteRejected, 0, "encode event", err)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(c.calendarID))
	result, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	if result.status < 200 || result.status >= 300 {
		return nil, c.responseError(result)
	}
	return decodeRemoteEvent(result.body)
}

// Update re-sends the full event body (full-replace semantics). The title
// tag and ownership metadata are refreshed even if a caller edit dropped them.
func (c *Client) Update(ctx context.Context, remoteID string, item *domain.ScheduleItem) (*application.RemoteEvent, error) {
	payload := toGoogleEvent(item)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteRejected, 0, "encode event", err)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	result, err := c.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return nil, err
	}
	if result.status < 200 || result.status >= 300 {
		return nil, c.responseError(result)
	}
	return decodeRemoteEvent(result.body)
}

// Delete removes the remote event. A missing event surfaces as
// FailureRemoteNotFound; the reconciler treats that as success.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	result, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	if result.status < 200 || result.status >= 300 {
		return c.responseError(result)
	}
	return nil
}

// Get fetches a single remote event. Events Google soft-deleted (status
// "cancelled") surface as FailureRemoteNotFound.
func (c *Client) Get(ctx context.Context, remoteID string) (*application.RemoteEvent, error) {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(remoteID))
	result, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if result.status < 200 || result.status >= 300 {
		return nil, c.responseError(result)
	}

	var payload googleEvent
	if err := json.Unmarshal(result.body, &payload); err != nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteUnavailable, result.status, "decode event", err)
	}
	if payload.Status == "cancelled" {
		return nil, domain.NewRemoteError(domain.FailureRemoteNotFound, result.status, "event cancelled remotely", nil)
	}
	event := payload.toRemoteEvent()
	return &event, nil
}

// List returns events in the window. With ownedOnly the server-side filter
// narrows to tagged metadata, and a client-side pass also admits events
// whose title carries the tag, so either mark identifies ownership.
func (c *Client) List(ctx context.Context, start, end time.Time, ownedOnly bool) ([]application.RemoteEvent, error) {
	query := url.Values{}
	query.Set("timeMin", start.UTC().Format(time.RFC3339))
	query.Set("timeMax", end.UTC().Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), query.Encode())
	result, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if result.status < 200 || result.status >= 300 {
		return nil, c.responseError(result)
	}

	var payload struct {
		Items []googleEvent `json:"items"`
	}
	if err := json.Unmarshal(result.body, &payload); err != nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteUnavailable, result.status, "decode event list", err)
	}

	events := make([]application.RemoteEvent, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.Status == "cancelled" {
			continue
		}
		event := item.toRemoteEvent()
		if ownedOnly && !event.Owned {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// do issues one authenticated request through the circuit breaker.
// Transport failures and 5xx/429 responses count against the breaker;
// other statuses are classified by the caller.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (httpResult, error) {
	source, err := c.tokens.TokenSource(ctx, c.ownerID)
	if err != nil {
		return httpResult{}, domain.NewRemoteError(domain.FailureAuthExpired, 0, "load credentials", err)
	}

	client := http.Client{
		Timeout: c.timeout,
		Transport: &oauthTransport{
			base:   http.DefaultTransport,
			source: source,
		},
	}

	result, err := c.breaker.Execute(func() (httpResult, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return httpResult{}, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return httpResult{}, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return httpResult{}, err
		}

		out := httpResult{status: resp.StatusCode, body: respBody}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return out, fmt.Errorf("status %d", resp.StatusCode)
		}
		return out, nil
	})
	if err != nil {
		if result.status != 0 {
			return httpResult{}, domain.NewRemoteError(domain.FailureRemoteUnavailable, result.status, truncate(result.body), err)
		}
		return httpResult{}, domain.NewRemoteError(domain.FailureRemoteUnavailable, 0, "", err)
	}
	return result, nil
}

// responseError classifies a non-2xx response.
func (c *Client) responseError(result httpResult) error {
	msg := truncate(result.body)
	switch result.status {
	case http.StatusUnauthorized:
		return domain.NewRemoteError(domain.FailureAuthExpired, result.status, msg, nil)
	case http.StatusNotFound, http.StatusGone:
		return domain.NewRemoteError(domain.FailureRemoteNotFound, result.status, msg, nil)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.NewRemoteError(domain.FailureRemoteRejected, result.status, msg, nil)
	default:
		return domain.NewRemoteError(domain.FailureRemoteUnavailable, result.status, msg, nil)
	}
}

func truncate(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		return s[:max]
	}
	return s
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}

type googleAttendee struct {
	Email string `json:"email"`
	Name  string `json:"displayName,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type googleReminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type googleEvent struct {
	ID                 string `json:"id,omitempty"`
	Status             string `json:"status,omitempty"`
	HTMLLink           string `json:"htmlLink,omitempty"`
	Summary            string `json:"summary"`
	Description        string `json:"description,omitempty"`
	Location           string `json:"location,omitempty"`
	ExtendedProperties struct {
		Private map[string]string `json:"private,omitempty"`
	} `json:"extendedProperties,omitempty"`
	Attendees []googleAttendee `json:"attendees,omitempty"`
	Reminders *googleReminders `json:"reminders,omitempty"`
	Start     googleTime       `json:"start"`
	End       googleTime       `json:"end"`
}

func toGoogleEvent(item *domain.ScheduleItem) googleEvent {
	event := googleEvent{
		Summary:     application.TagTitle(item.Title()),
		Description: item.Description(),
		Location:    item.Location(),
	}
	event.ExtendedProperties.Private = map[string]string{
		metaOwnedKey:    "1",
		metaItemIDKey:   item.ID().String(),
		metaCategoryKey: string(item.Category()),
		metaOwnerKey:    item.OwnerID().String(),
	}
	event.Start.DateTime = item.StartsAt().Format(time.RFC3339)
	event.End.DateTime = item.EndsAt().Format(time.RFC3339)

	for _, attendee := range item.Attendees() {
		if attendee.Email == "" {
			continue
		}
		event.Attendees = append(event.Attendees, googleAttendee{
			Email: attendee.Email,
			Name:  attendee.Name,
		})
	}

	event.Reminders = &googleReminders{UseDefault: false}
	policy := item.Reminders()
	if policy.IsZero() {
		event.Reminders.Overrides = defaultReminderOverrides
		return event
	}
	for _, minutes := range policy.EmailMinutes {
		if minutes > 0 {
			event.Reminders.Overrides = append(event.Reminders.Overrides, reminderOverride{Method: "email", Minutes: minutes})
		}
	}
	for _, minutes := range policy.PopupMinutes {
		if minutes > 0 {
			event.Reminders.Overrides = append(event.Reminders.Overrides, reminderOverride{Method: "popup", Minutes: minutes})
		}
	}
	return event
}

func (e googleEvent) toRemoteEvent() application.RemoteEvent {
	event := application.RemoteEvent{
		ID:          e.ID,
		Link:        e.HTMLLink,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Category:    e.ExtendedProperties.Private[metaCategoryKey],
	}

	if _, ok := e.ExtendedProperties.Private[metaOwnedKey]; ok {
		event.Owned = true
	}
	if strings.HasPrefix(e.Summary, application.TitleTag) {
		event.Owned = true
	}
	if raw, ok := e.ExtendedProperties.Private[metaItemIDKey]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			event.ItemID = id
		}
	}

	for _, attendee := range e.Attendees {
		event.Attendees = append(event.Attendees, attendee.Email)
	}

	if e.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, e.Start.DateTime); err == nil {
			event.Start = t
		}
	} else if e.Start.Date != "" {
		if t, err := time.Parse("2006-01-02", e.Start.Date); err == nil {
			event.Start = t
		}
	}
	if e.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, e.End.DateTime); err == nil {
			event.End = t
		}
	} else if e.End.Date != "" {
		if t, err := time.Parse("2006-01-02", e.End.Date); err == nil {
			event.End = t
		}
	}
	return event
}

func decodeRemoteEvent(body []byte) (*application.RemoteEvent, error) {
	var payload googleEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.NewRemoteError(domain.FailureRemoteUnavailable, 0, "decode event", err)
	}
	event := payload.toRemoteEvent()
	return &event, nil
}
