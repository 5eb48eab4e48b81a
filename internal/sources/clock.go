package sources

import (
	"context"
	"time"

	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

var weekdaysPL = [...]string{
	time.Monday:    "Poniedziałek",
	time.Tuesday:   "Wtorek",
	time.Wednesday: "Środa",
	time.Thursday:  "Czwartek",
	time.Friday:    "Piątek",
	time.Saturday:  "Sobota",
	time.Sunday:    "Niedziela",
}

// WeekdayPL returns the Polish name of d.
func WeekdayPL(d time.Weekday) string { return weekdaysPL[d] }

// Clock writes the local wall time to time.json.
type Clock struct {
	store *snapshot.Store
	loc   *time.Location
}

// NewClock returns a clock source formatting times in loc.
func NewClock(store *snapshot.Store, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{store: store, loc: loc}
}

func (c *Clock) Name() string { return models.SourceTime }

// Fetch writes now as HH:MM, dd.mm.yyyy and the weekday name.
func (c *Clock) Fetch(_ context.Context, now time.Time) error {
	t := now.In(c.loc)
	doc := models.TimeData{
		Time:    t.Format("15:04"),
		Date:    t.Format("02.01.2006"),
		Weekday: WeekdayPL(t.Weekday()),
	}
	return wrapFetch(c.Name(), c.store.Write(models.DocTime, &doc))
}
