package sources_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/retry"
	"github.com/brianhealey/inkdash/internal/snapshot"
	"github.com/brianhealey/inkdash/internal/sources"
)

const holidaysID = "pl.polish#holiday@group.v.calendar.google.com"

type listCall struct {
	id       string
	min, max time.Time
	limit    int64
}

// fakeLister serves canned events per calendar id.
type fakeLister struct {
	mu     sync.Mutex
	events map[string][]*calendar.Event
	errs   map[string]error
	calls  []listCall
}

func (f *fakeLister) List(_ context.Context, id string, min, max time.Time, limit int64) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, listCall{id, min, max, limit})
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.events[id], nil
}

func timed(summary, start, end string) *calendar.Event {
	return &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{DateTime: start},
		End:     &calendar.EventDateTime{DateTime: end},
	}
}

func allDay(summary, start, end string) *calendar.Event {
	return &calendar.Event{
		Summary: summary,
		Start:   &calendar.EventDateTime{Date: start},
		End:     &calendar.EventDateTime{Date: end},
	}
}

func newTestCalendar(t *testing.T, l sources.EventLister) (*sources.Calendar, *snapshot.Store) {
	t.Helper()
	store := newTestStore(t)
	dial := func(context.Context) (sources.EventLister, func(), error) { return l, nil, nil }
	c := sources.NewCalendar(store, testConfig(), dial)
	c.SetRetryPolicy(retry.Policy{Attempts: 2, Delay: time.Millisecond, Multiplier: 1})
	return c, store
}

func TestExpandEvent_TimedSingleDay(t *testing.T) {
	ev := timed("Dentysta", "2025-03-10T14:30:00+01:00", "2025-03-10T15:30:00+01:00")
	got := sources.ExpandEvent(ev, holidaysID, warsaw)
	want := []models.Event{{Summary: "Dentysta", Start: "2025-03-10T14:30:00"}}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("ExpandEvent() = %+v, want %+v", got, want)
	}
}

func TestExpandEvent_AllDayMultiDay(t *testing.T) {
	ev := allDay("Urlop", "2025-03-10", "2025-03-13")
	got := sources.ExpandEvent(ev, holidaysID, warsaw)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	for i, d := range []string{"2025-03-10", "2025-03-11", "2025-03-12"} {
		if got[i].Start != d || got[i].Summary != "Urlop" {
			t.Errorf("day %d = %+v", i, got[i])
		}
	}
}

func TestExpandEvent_TimedOvernight(t *testing.T) {
	ev := timed("Nocny dyżur", "2025-03-10T22:00:00+01:00", "2025-03-11T06:00:00+01:00")
	got := sources.ExpandEvent(ev, holidaysID, warsaw)
	if len(got) != 2 || got[0].Start != "2025-03-10T22:00:00" || got[1].Start != "2025-03-11" {
		t.Errorf("ExpandEvent() = %+v", got)
	}

	midnight := timed("Do północy", "2025-03-10T23:00:00+01:00", "2025-03-11T00:00:00+01:00")
	if got := sources.ExpandEvent(midnight, holidaysID, warsaw); len(got) != 1 {
		t.Errorf("event ending at midnight spans %d days", len(got))
	}
}

func TestExpandEvent_HolidayOrganizerAndDefaults(t *testing.T) {
	ev := allDay("", "2025-05-03", "2025-05-04")
	ev.Organizer = &calendar.EventOrganizer{Email: holidaysID}
	got := sources.ExpandEvent(ev, holidaysID, warsaw)
	if len(got) != 1 || !got[0].IsHoliday || got[0].Summary != "Brak tytułu" {
		t.Errorf("ExpandEvent() = %+v", got)
	}
	if got := sources.ExpandEvent(&calendar.Event{Summary: "x"}, holidaysID, warsaw); got != nil {
		t.Errorf("event without times = %+v, want nil", got)
	}
}

func TestUnusualDescription(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"Dzień naleśnika • więcej na stronie": "Dzień naleśnika",
		"Pierwsza linia\nDruga linia":         "Pierwsza linia",
		"  Tylko tekst  ":                     "Tylko tekst",
	}
	for in, want := range cases {
		if got := sources.UnusualDescription(in); got != want {
			t.Errorf("UnusualDescription(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCalendar_FetchAssemblesDocument(t *testing.T) {
	l := &fakeLister{events: map[string][]*calendar.Event{
		"me@example.com": {
			timed("Spotkanie", "2025-03-12T09:00:00+01:00", "2025-03-12T10:00:00+01:00"),
			allDay("Wyjazd", "2025-03-14", "2025-03-16"),
		},
		"family@example.com": {
			timed("Kolacja", "2025-03-11T18:00:00+01:00", "2025-03-11T20:00:00+01:00"),
		},
		holidaysID: {
			func() *calendar.Event {
				ev := allDay("Święto", "2025-03-20", "2025-03-21")
				ev.Organizer = &calendar.EventOrganizer{Email: holidaysID}
				return ev
			}(),
		},
		"unusual@example.com": {
			{Summary: "Dzień Liczby Pi", Description: "Świętujemy liczbę pi • źródło"},
			{Summary: "Drugi"},
		},
	}}
	c, store := newTestCalendar(t, l)
	now := time.Date(2025, 3, 11, 8, 0, 0, 0, warsaw)
	if err := c.Fetch(context.Background(), now); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	var doc models.CalendarData
	if err := store.Read(models.DocCalendar, &doc); err != nil {
		t.Fatal(err)
	}
	wantStarts := []string{"2025-03-11T18:00:00", "2025-03-12T09:00:00", "2025-03-14", "2025-03-15", "2025-03-20"}
	if len(doc.UpcomingEvents) != len(wantStarts) {
		t.Fatalf("upcoming = %+v", doc.UpcomingEvents)
	}
	for i, s := range wantStarts {
		if doc.UpcomingEvents[i].Start != s {
			t.Errorf("event %d start = %q, want %q", i, doc.UpcomingEvents[i].Start, s)
		}
	}
	if !doc.UpcomingEvents[4].IsHoliday {
		t.Error("holiday event not flagged")
	}
	if len(doc.EventDates) != 5 || doc.EventDates[0] != "2025-03-11" {
		t.Errorf("event_dates = %v", doc.EventDates)
	}
	if len(doc.HolidayDates) != 1 || doc.HolidayDates[0] != "2025-03-20" {
		t.Errorf("holiday_dates = %v", doc.HolidayDates)
	}
	if doc.UnusualHoliday != "Dzień Liczby Pi" || doc.UnusualHolidayDesc != "Świętujemy liczbę pi" {
		t.Errorf("unusual = %q / %q", doc.UnusualHoliday, doc.UnusualHolidayDesc)
	}
	if len(doc.MonthCalendar) == 0 {
		t.Error("month grid missing")
	}
	if doc.AuthFailed() {
		t.Error("error marker set on success")
	}

	for _, call := range l.calls {
		if call.id == "unusual@example.com" {
			if call.limit != 5 || !call.min.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, warsaw)) || !call.max.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, warsaw)) {
				t.Errorf("unusual query = %+v", call)
			}
		}
	}
}

func TestCalendar_TruncatesToMaxUpcoming(t *testing.T) {
	var many []*calendar.Event
	for d := 12; d < 28; d++ {
		day := time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		next := time.Date(2025, 3, d+1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		many = append(many, allDay("E", day, next))
	}
	l := &fakeLister{events: map[string][]*calendar.Event{"me@example.com": many}}
	c, store := newTestCalendar(t, l)
	if err := c.Fetch(context.Background(), time.Date(2025, 3, 11, 8, 0, 0, 0, warsaw)); err != nil {
		t.Fatal(err)
	}
	doc, _ := snapshot.ReadOr(store, models.DocCalendar, models.DefaultCalendar())
	if len(doc.UpcomingEvents) != 8 {
		t.Errorf("upcoming = %d, want 8", len(doc.UpcomingEvents))
	}
}

func TestCalendar_NotFoundCalendarIsEmpty(t *testing.T) {
	l := &fakeLister{errs: map[string]error{
		"family@example.com": &googleapi.Error{Code: http.StatusNotFound},
	}}
	c, store := newTestCalendar(t, l)
	if err := c.Fetch(context.Background(), time.Date(2025, 3, 11, 8, 0, 0, 0, warsaw)); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	doc, _ := snapshot.ReadOr(store, models.DocCalendar, models.DefaultCalendar())
	if doc.UnusualHoliday != models.NoUnusualHoliday {
		t.Errorf("unusual = %q", doc.UnusualHoliday)
	}
}

func TestCalendar_AuthErrorMarkedAndCleared(t *testing.T) {
	l := &fakeLister{errs: map[string]error{
		"me@example.com": &oauth2.RetrieveError{ErrorCode: "invalid_grant"},
	}}
	c, store := newTestCalendar(t, l)

	prior := models.DefaultCalendar()
	prior.UpcomingEvents = []models.Event{{Summary: "Stare", Start: "2025-03-10"}}
	if err := store.Write(models.DocCalendar, &prior); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 11, 8, 0, 0, 0, warsaw)
	err := c.Fetch(context.Background(), now)
	if !sources.IsAuthError(err) {
		t.Fatalf("Fetch() error = %v, want auth error", err)
	}
	doc, _ := snapshot.ReadOr(store, models.DocCalendar, models.DefaultCalendar())
	if !doc.AuthFailed() {
		t.Error("AUTH_ERROR not recorded")
	}
	if len(doc.UpcomingEvents) != 1 {
		t.Error("auth failure discarded existing events")
	}
	if n := len(l.calls); n != 1 {
		t.Errorf("auth error retried: %d calls", n)
	}

	l.errs = nil
	if err := c.Fetch(context.Background(), now); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	doc, _ = snapshot.ReadOr(store, models.DocCalendar, models.DefaultCalendar())
	if doc.AuthFailed() {
		t.Error("AUTH_ERROR not cleared after success")
	}
}

func TestCalendar_UnauthorizedStatusIsAuthError(t *testing.T) {
	if !sources.IsAuthError(&googleapi.Error{Code: http.StatusUnauthorized}) {
		t.Error("401 not treated as auth error")
	}
	if sources.IsAuthError(&googleapi.Error{Code: http.StatusInternalServerError}) {
		t.Error("500 treated as auth error")
	}
}

func TestCalendar_MissingTokenIsAuthError(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	secret := `{"installed":{"client_id":"id","client_secret":"s","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(creds, []byte(secret), 0600); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)
	c := sources.NewCalendar(store, testConfig(), sources.GoogleDialer(creds, filepath.Join(dir, "token.json")))
	err := c.Fetch(context.Background(), time.Now())
	if !errors.Is(err, sources.ErrAuth) {
		t.Fatalf("Fetch() error = %v, want ErrAuth", err)
	}
	doc, _ := snapshot.ReadOr(store, models.DocCalendar, models.DefaultCalendar())
	if !doc.AuthFailed() {
		t.Error("AUTH_ERROR not recorded for missing token")
	}
}

func TestLoadToken_Formats(t *testing.T) {
	dir := t.TempDir()
	py := filepath.Join(dir, "py.json")
	os.WriteFile(py, []byte(`{"token":"abc","refresh_token":"r1","expiry":"2025-01-01T12:00:00.123456Z"}`), 0600)
	tok, err := sources.LoadToken(py)
	if err != nil {
		t.Fatalf("LoadToken(py) error = %v", err)
	}
	if tok.AccessToken != "abc" || tok.RefreshToken != "r1" || tok.Expiry.Year() != 2025 {
		t.Errorf("token = %+v", tok)
	}

	goTok := filepath.Join(dir, "go.json")
	if err := sources.SaveToken(goTok, &oauth2.Token{AccessToken: "x", RefreshToken: "y", Expiry: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatal(err)
	}
	tok, err = sources.LoadToken(goTok)
	if err != nil || tok.AccessToken != "x" || !tok.Expiry.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("round trip = %+v, %v", tok, err)
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{}`), 0600)
	if _, err := sources.LoadToken(empty); !errors.Is(err, sources.ErrAuth) {
		t.Errorf("LoadToken(empty) error = %v", err)
	}
}

func TestMonthGrid_MondayFirst(t *testing.T) {
	// March 2025 starts on a Saturday and ends on a Monday.
	grid := sources.MonthGrid(time.Date(2025, 3, 11, 8, 0, 0, 0, warsaw), []string{"2025-03-20"}, []string{"2025-03-12"})
	if len(grid) != 6 {
		t.Fatalf("weeks = %d, want 6", len(grid))
	}
	first := grid[0][0]
	if first.Date != "2025-02-24" || first.IsCurrentMonth {
		t.Errorf("first cell = %+v", first)
	}
	sat := grid[0][5]
	if sat.Day != 1 || !sat.IsWeekend || !sat.IsCurrentMonth {
		t.Errorf("March 1 cell = %+v", sat)
	}
	var today, holiday, event models.DayCell
	for _, w := range grid {
		if len(w) != 7 {
			t.Fatalf("week has %d days", len(w))
		}
		for _, d := range w {
			switch d.Date {
			case "2025-03-11":
				today = d
			case "2025-03-20":
				holiday = d
			case "2025-03-12":
				event = d
			}
		}
	}
	if !today.IsToday || today.IsWeekend {
		t.Errorf("today = %+v", today)
	}
	if !holiday.IsHoliday || !event.HasEvent {
		t.Errorf("holiday = %+v, event = %+v", holiday, event)
	}
	last := grid[5][6]
	if last.Date != "2025-04-06" || last.IsCurrentMonth {
		t.Errorf("last cell = %+v", last)
	}
}

func TestMonthGrid_EndsOnSunday(t *testing.T) {
	// November 2025 ends on a Sunday; no trailing week of December.
	grid := sources.MonthGrid(time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC), nil, nil)
	last := grid[len(grid)-1][6]
	if last.Date != "2025-11-30" {
		t.Errorf("last cell = %s, want 2025-11-30", last.Date)
	}
}
