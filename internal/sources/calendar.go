package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/retry"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

const (
	untitledEvent   = "Brak tytułu"
	maxUnusualToday = 5
	timedLayout     = "2006-01-02T15:04:05"
)

// EventLister lists the single (expanded) events of one calendar ordered by
// start time. A zero max means no upper bound; limit <= 0 means the API
// default.
type EventLister interface {
	List(ctx context.Context, calendarID string, min, max time.Time, limit int64) ([]*calendar.Event, error)
}

// Dialer opens an authorized EventLister. The returned commit func is
// called after a successful fetch to persist a refreshed token.
type Dialer func(ctx context.Context) (EventLister, func(), error)

// Calendar assembles calendar.json: upcoming events, this month's public
// holidays, today's unusual holiday and the month grid.
type Calendar struct {
	store       *snapshot.Store
	ids         config.CalendarIDs
	maxUpcoming int
	loc         *time.Location
	dial        Dialer
	policy      retry.Policy
}

// NewCalendar returns the calendar source. A nil dial uses the Google API
// with the configured credentials and token files.
func NewCalendar(store *snapshot.Store, cfg config.Config, dial Dialer) *Calendar {
	gc := cfg.GoogleCalendar
	if dial == nil {
		dial = GoogleDialer(gc.CredentialsFile, gc.TokenFile)
	}
	return &Calendar{
		store:       store,
		ids:         gc.CalendarIDs,
		maxUpcoming: gc.MaxUpcomingEvents,
		loc:         cfg.Zone(),
		dial:        dial,
		policy:      retry.Default().WithRetryable(calendarTransient),
	}
}

// SetRetryPolicy replaces the retry policy. The transient-error predicate
// is kept.
func (c *Calendar) SetRetryPolicy(p retry.Policy) {
	c.policy = p.WithRetryable(calendarTransient)
}

func (c *Calendar) Name() string { return models.SourceCalendar }

// Fetch refreshes every calendar field. Authorization failures are recorded
// in calendar.json as models.AuthError so the compositor can tell the user;
// a later successful fetch clears the marker.
func (c *Calendar) Fetch(ctx context.Context, now time.Time) error {
	if c.ids.Personal == "" && c.ids.Holidays == "" && c.ids.Shared == "" && c.ids.Unusual == "" {
		return wrapFetch(c.Name(), ErrNotConfigured)
	}
	err := c.fetch(ctx, now.In(c.loc))
	if err != nil && IsAuthError(err) {
		slog.Error("calendar: authorization failed, run the authorization tool manually", "err", err)
		if merr := snapshot.Update(c.store, models.DocCalendar, models.DefaultCalendar(), func(d *models.CalendarData) error {
			d.Error = models.AuthError
			return nil
		}); merr != nil {
			slog.Error("calendar: could not record auth error", "err", merr)
		}
	}
	return wrapFetch(c.Name(), err)
}

func (c *Calendar) fetch(ctx context.Context, now time.Time) error {
	lister, commit, err := c.dial(ctx)
	if err != nil {
		return err
	}

	upcoming, eventDates, err := c.upcoming(ctx, lister, now)
	if err != nil {
		return err
	}
	holidayDates, err := c.monthHolidays(ctx, lister, now)
	if err != nil {
		return err
	}
	title, desc, err := c.unusualToday(ctx, lister, now)
	if err != nil {
		return err
	}

	err = snapshot.Update(c.store, models.DocCalendar, models.DefaultCalendar(), func(d *models.CalendarData) error {
		d.UpcomingEvents = upcoming
		d.EventDates = eventDates
		d.HolidayDates = holidayDates
		d.UnusualHoliday = title
		d.UnusualHolidayDesc = desc
		d.MonthCalendar = MonthGrid(now, holidayDates, eventDates)
		d.Error = ""
		return nil
	})
	if err != nil {
		return err
	}
	if commit != nil {
		commit()
	}
	slog.Info("calendar: snapshot updated",
		"events", len(upcoming),
		"holidays", len(holidayDates),
		"unusual", title != models.NoUnusualHoliday,
	)
	return nil
}

func (c *Calendar) list(ctx context.Context, l EventLister, id string, min, max time.Time, limit int64) ([]*calendar.Event, error) {
	if id == "" {
		return nil, nil
	}
	var items []*calendar.Event
	err := c.policy.Do(ctx, "calendar "+id, func(ctx context.Context) error {
		var err error
		items, err = l.List(ctx, id, min, max, limit)
		return err
	})
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		slog.Error("calendar: calendar not found, check calendar_ids in config.yaml", "id", id)
		return nil, nil
	}
	return items, err
}

// upcoming returns the next maxUpcoming event-days across the personal,
// holiday and shared calendars, and the distinct dates they fall on.
func (c *Calendar) upcoming(ctx context.Context, l EventLister, now time.Time) ([]models.Event, []string, error) {
	limit := int64(c.maxUpcoming)
	var all []models.Event
	for _, id := range []string{c.ids.Personal, c.ids.Holidays, c.ids.Shared} {
		items, err := c.list(ctx, l, id, now, time.Time{}, limit)
		if err != nil {
			return nil, nil, err
		}
		for _, ev := range items {
			all = append(all, ExpandEvent(ev, c.ids.Holidays, c.loc)...)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start < all[j].Start })
	if len(all) > c.maxUpcoming {
		all = all[:c.maxUpcoming]
	}

	events := make([]models.Event, 0, len(all))
	dates := make([]string, 0, len(all))
	for _, ev := range all {
		events = append(events, ev)
		dates = append(dates, ev.Start[:len(dateLayout)])
	}
	return events, dates, nil
}

// monthHolidays returns the dates of all-day events in the holiday calendar
// for the current month.
func (c *Calendar) monthHolidays(ctx context.Context, l EventLister, now time.Time) ([]string, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, c.loc)
	items, err := c.list(ctx, l, c.ids.Holidays, first, first.AddDate(0, 1, 0), 0)
	if err != nil {
		return nil, err
	}
	dates := []string{}
	for _, ev := range items {
		if ev.Start != nil && ev.Start.Date != "" {
			dates = append(dates, ev.Start.Date)
		}
	}
	return dates, nil
}

// unusualToday returns the first entry of the unusual-holidays calendar for
// today. The description is cut at the first bullet, or else at the first
// line break.
func (c *Calendar) unusualToday(ctx context.Context, l EventLister, now time.Time) (string, string, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	items, err := c.list(ctx, l, c.ids.Unusual, start, start.AddDate(0, 0, 1), maxUnusualToday)
	if err != nil {
		return "", "", err
	}
	if len(items) == 0 {
		return models.NoUnusualHoliday, "", nil
	}
	first := items[0]
	title := first.Summary
	if title == "" {
		title = untitledEvent
	}
	return title, UnusualDescription(first.Description), nil
}

// UnusualDescription shortens an unusual-holiday description to its lead.
func UnusualDescription(desc string) string {
	if desc == "" {
		return ""
	}
	if i := strings.Index(desc, "•"); i >= 0 {
		return strings.TrimSpace(desc[:i])
	}
	line, _, _ := strings.Cut(desc, "\n")
	return strings.TrimSpace(line)
}

// ExpandEvent turns ev into one models.Event per day it covers. Timed events
// keep their local start time on the first day; all-day events and later
// days carry only the date. Google reports all-day ends as the following
// midnight, so the last covered day is end-1.
func ExpandEvent(ev *calendar.Event, holidayCalendarID string, loc *time.Location) []models.Event {
	if ev == nil || ev.Start == nil || ev.End == nil {
		return nil
	}
	start, allDayStart, ok := eventTime(ev.Start, loc)
	if !ok {
		return nil
	}
	end, allDayEnd, ok := eventTime(ev.End, loc)
	if !ok {
		return nil
	}
	if allDayStart && allDayEnd {
		end = end.AddDate(0, 0, -1)
	} else if end.After(start) {
		end = end.Add(-time.Nanosecond)
	}

	summary := ev.Summary
	if summary == "" {
		summary = untitledEvent
	}
	isHoliday := ev.Organizer != nil && holidayCalendarID != "" && ev.Organizer.Email == holidayCalendarID

	day := dayOf(start)
	last := dayOf(end)
	var out []models.Event
	for !day.After(last) {
		s := day.Format(dateLayout)
		if len(out) == 0 && !allDayStart {
			s = start.Format(timedLayout)
		}
		out = append(out, models.Event{Summary: summary, Start: s, IsHoliday: isHoliday})
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func eventTime(t *calendar.EventDateTime, loc *time.Location) (time.Time, bool, bool) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return v.In(loc), false, true
	}
	if t.Date != "" {
		v, err := time.ParseInLocation(dateLayout, t.Date, loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return v, true, true
	}
	return time.Time{}, false, false
}

// dayOf returns the calendar day of t as a UTC date, so stepping with
// AddDate is immune to DST changes.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsAuthError reports whether err means the calendar token is missing,
// revoked or rejected.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func calendarTransient(err error) bool {
	if IsAuthError(err) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 500
	}
	return Transient(err)
}

// googleLister lists events through the Calendar v3 API.
type googleLister struct {
	svc *calendar.Service
}

func (g *googleLister) List(ctx context.Context, id string, min, max time.Time, limit int64) ([]*calendar.Event, error) {
	call := g.svc.Events.List(id).
		TimeMin(min.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if !max.IsZero() {
		call = call.TimeMax(max.Format(time.RFC3339))
	}
	if limit > 0 {
		call = call.MaxResults(limit)
	}
	res, err := call.Do()
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// GoogleDialer returns a Dialer using an installed-app client secret and an
// already authorized token. The files are read on every dial so a token
// replaced on disk is picked up without a restart. A token refreshed during
// the fetch is written back to tokenFile.
func GoogleDialer(credentialsFile, tokenFile string) Dialer {
	return func(ctx context.Context) (EventLister, func(), error) {
		secret, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read credentials: %v", ErrNotConfigured, err)
		}
		conf, err := google.ConfigFromJSON(secret, calendar.CalendarReadonlyScope)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parse credentials: %v", ErrNotConfigured, err)
		}
		tok, err := LoadToken(tokenFile)
		if err != nil {
			return nil, nil, err
		}

		ts := oauth2.ReuseTokenSource(tok, conf.TokenSource(ctx, tok))
		client := oauth2.NewClient(ctx, ts)
		client.Timeout = RequestTimeout
		svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, nil, fmt.Errorf("calendar service: %w", err)
		}

		commit := func() {
			cur, err := ts.Token()
			if err != nil || cur.AccessToken == tok.AccessToken {
				return
			}
			if err := SaveToken(tokenFile, cur); err != nil {
				slog.Warn("calendar: could not persist refreshed token", "err", err)
				return
			}
			slog.Info("calendar: refreshed token saved", "expiry", cur.Expiry)
		}
		return &googleLister{svc: svc}, commit, nil
	}
}

// storedToken accepts both the oauth2.Token JSON layout and the
// authorized-user layout written by Google's Python tooling.
type storedToken struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Expiry       string `json:"expiry"`
}

// LoadToken reads an authorized token. A missing or unusable file is an
// ErrAuth.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: decode token: %v", ErrAuth, err)
	}
	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = st.Token
	}
	if st.Expiry != "" {
		exp, err := time.Parse(time.RFC3339Nano, st.Expiry)
		if err != nil {
			exp, err = time.Parse("2006-01-02T15:04:05.999999", st.Expiry)
		}
		if err == nil {
			tok.Expiry = exp
		}
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file has no tokens", ErrAuth)
	}
	return tok, nil
}

// SaveToken atomically replaces path with tok.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
