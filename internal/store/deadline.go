package store

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rudimentary deadline extraction for commitment memories. Deliberately
// covers only unambiguous phrases; anything else leaves deadline_at unset.
var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	inDaysRe    = regexp.MustCompile(`\bin (\d+) days?\b`)
	byWeekdayRe = regexp.MustCompile(`\b(?:by|on|before) (monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func extractDeadline(content string, now time.Time) *time.Time {
	lower := strings.ToLower(content)

	if m := isoDateRe.FindStringSubmatch(lower); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			return &t
		}
	}
	if m := inDaysRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		t := now.AddDate(0, 0, n)
		return &t
	}
	if m := byWeekdayRe.FindStringSubmatch(lower); m != nil {
		target := weekdays[m[1]]
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		t := now.AddDate(0, 0, days)
		return &t
	}
	if strings.Contains(lower, "tomorrow") {
		t := now.AddDate(0, 0, 1)
		return &t
	}
	if strings.Contains(lower, "next week") {
		t := now.AddDate(0, 0, 7)
		return &t
	}
	if strings.Contains(lower, "today") || strings.Contains(lower, "end of day") {
		t := now
		return &t
	}
	return nil
}
