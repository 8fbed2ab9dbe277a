package reply

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BusinessHours decides when language-model drafting is allowed.
// Outside operating hours only templates and canned replies are sent.
type BusinessHours struct {
	loc           *time.Location
	quietStart    int // minutes after midnight
	quietEnd      int
	operatingDays map[time.Weekday]bool
}

// NewBusinessHours parses "HH:MM" bounds in the named timezone.
// An empty days list means Monday to Friday.
func NewBusinessHours(timezone, quietStart, quietEnd string, days []time.Weekday) (*BusinessHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	start, err := parseClock(quietStart)
	if err != nil {
		return nil, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseClock(quietEnd)
	if err != nil {
		return nil, fmt.Errorf("quiet hours end: %w", err)
	}
	if len(days) == 0 {
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}

	od := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		od[d] = true
	}
	return &BusinessHours{loc: loc, quietStart: start, quietEnd: end, operatingDays: od}, nil
}

// IsQuietHours reports whether t falls inside the quiet window.
// Windows that span midnight (21:00-07:00) are supported.
func (b *BusinessHours) IsQuietHours(t time.Time) bool {
	if b == nil || b.quietStart == b.quietEnd {
		return false
	}
	local := t.In(b.loc)
	now := local.Hour()*60 + local.Minute()

	if b.quietStart > b.quietEnd {
		return now >= b.quietStart || now < b.quietEnd
	}
	return now >= b.quietStart && now < b.quietEnd
}

// IsOperatingHours reports whether t is on an operating day and outside quiet hours.
func (b *BusinessHours) IsOperatingHours(t time.Time) bool {
	if b == nil {
		return true
	}
	if !b.operatingDays[t.In(b.loc).Weekday()] {
		return false
	}
	return !b.IsQuietHours(t)
}

// ParseWeekdays parses "mon,tue,..." style lists.
func ParseWeekdays(values []string) ([]time.Weekday, error) {
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	var days []time.Weekday
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if len(key) > 3 {
			key = key[:3]
		}
		if key == "" {
			continue
		}
		d, ok := names[key]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", v)
		}
		days = append(days, d)
	}
	return days, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
