package clinic

import (
	"fmt"
	"strings"
	"time"
)

// Hours holds the clinic's business-hours rules: a daily open/close clock time,
// closed weekdays, holiday exclusions, and the clinic reference timezone. All
// scheduling decisions are made in that timezone. Immutable after load.
type Hours struct {
	openHour, openMin   int
	closeHour, closeMin int
	closedWeekdays      map[time.Weekday]bool
	holidays            map[string]bool // "2006-01-02" in clinic time
	loc                 *time.Location
}

type HoursConfig struct {
	Open     string // "09:00"
	Close    string // "17:00"
	Timezone string // IANA name, e.g. "Asia/Kolkata"
	Holidays string // comma-separated "2006-01-02" dates
}

func LoadHours(cfg HoursConfig) (Hours, error) {
	if cfg.Open == "" {
		cfg.Open = "09:00"
	}
	if cfg.Close == "" {
		cfg.Close = "17:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Kolkata"
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Hours{}, fmt.Errorf("load clinic timezone: %w", err)
	}
	open, err := time.Parse("15:04", cfg.Open)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid open time %q", cfg.Open)
	}
	close_, err := time.Parse("15:04", cfg.Close)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid close time %q", cfg.Close)
	}
	if !close_.After(open) {
		return Hours{}, fmt.Errorf("close time %q is not after open time %q", cfg.Close, cfg.Open)
	}

	holidays := map[string]bool{}
	for _, d := range strings.Split(cfg.Holidays, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", d, loc); err != nil {
			return Hours{}, fmt.Errorf("invalid holiday date %q", d)
		}
		holidays[d] = true
	}

	return Hours{
		openHour:  open.Hour(),
		openMin:   open.Minute(),
		closeHour: close_.Hour(),
		closeMin:  close_.Minute(),
		closedWeekdays: map[time.Weekday]bool{
			time.Saturday: true,
			time.Sunday:   true,
		},
		holidays: holidays,
		loc:      loc,
	}, nil
}

func (h Hours) Location() *time.Location {
	return h.loc
}

// In normalizes a timestamp to clinic time.
func (h Hours) In(t time.Time) time.Time {
	return t.In(h.loc)
}

// DayKey is the coarse lock/bucket key for a timestamp: its clinic-local date.
func (h Hours) DayKey(t time.Time) string {
	return t.In(h.loc).Format("2006-01-02")
}

// WindowFor returns the open business window for the day containing t, in
// clinic time. ok is false on closed weekdays and holidays.
func (h Hours) WindowFor(t time.Time) (start, end time.Time, ok bool) {
	local := t.In(h.loc)
	if h.closedWeekdays[local.Weekday()] {
		return time.Time{}, time.Time{}, false
	}
	if h.holidays[local.Format("2006-01-02")] {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(local.Year(), local.Month(), local.Day(), h.openHour, h.openMin, 0, 0, h.loc)
	end = time.Date(local.Year(), local.Month(), local.Day(), h.closeHour, h.closeMin, 0, 0, h.loc)
	return start, end, true
}

// Contains reports whether [start, end) lies fully inside the business window
// of start's day.
func (h Hours) Contains(start, end time.Time) bool {
	winStart, winEnd, ok := h.WindowFor(start)
	if !ok {
		return false
	}
	return !start.Before(winStart) && !end.After(winEnd)
}
