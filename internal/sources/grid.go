package sources

import (
	"time"

	"github.com/brianhealey/inkdash/internal/models"
)

const dateLayout = "2006-01-02"

// MonthGrid returns the weeks (Monday first) covering the month of today.
// Days of the adjacent months that complete the first and last week are
// included with IsCurrentMonth false.
func MonthGrid(today time.Time, holidayDates, eventDates []string) [][]models.DayCell {
	holidays := toSet(holidayDates)
	events := toSet(eventDates)

	y, m, d := today.Date()
	first := time.Date(y, m, 1, 12, 0, 0, 0, time.UTC)
	offset := (int(first.Weekday()) + 6) % 7
	cur := first.AddDate(0, 0, -offset)
	todayKey := time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Format(dateLayout)

	var weeks [][]models.DayCell
	for {
		week := make([]models.DayCell, 7)
		for i := range week {
			key := cur.Format(dateLayout)
			week[i] = models.DayCell{
				Day:            cur.Day(),
				Date:           key,
				IsToday:        key == todayKey,
				IsWeekend:      cur.Weekday() == time.Saturday || cur.Weekday() == time.Sunday,
				IsHoliday:      holidays[key],
				HasEvent:       events[key],
				IsCurrentMonth: cur.Month() == m,
			}
			cur = cur.AddDate(0, 0, 1)
		}
		weeks = append(weeks, week)
		if cur.Month() != m {
			break
		}
	}
	return weeks
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
