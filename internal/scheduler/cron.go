package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// field is a bitset of the values a cron field allows.
type field uint64

func (f field) has(v int) bool { return f&(1<<uint(v)) != 0 }

// CronExpr is a parsed 5-field cron expression: minute, hour, day of month,
// month, day of week.
type CronExpr struct {
	minutes, hours, doms, months, dows field
	// Standard cron: when both day fields are restricted, either may match.
	domStar, dowStar bool
}

var fieldSpecs = []struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses a standard 5-field cron expression. Day of week accepts
// 0 or 7 for Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}

	var sets [5]field
	for i, spec := range fieldSpecs {
		f, err := parseField(parts[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", spec.name, err)
		}
		sets[i] = f
	}
	if sets[4].has(7) {
		sets[4] |= 1
	}

	return &CronExpr{
		minutes: sets[0],
		hours:   sets[1],
		doms:    sets[2],
		months:  sets[3],
		dows:    sets[4],
		domStar: parts[2] == "*",
		dowStar: parts[4] == "*",
	}, nil
}

// Matches reports whether t falls in a minute the expression selects.
func (c *CronExpr) Matches(t time.Time) bool {
	if !c.minutes.has(t.Minute()) || !c.hours.has(t.Hour()) || !c.months.has(int(t.Month())) {
		return false
	}
	dom, dow := c.doms.has(t.Day()), c.dows.has(int(t.Weekday()))
	if c.domStar || c.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first minute strictly after t that matches, or the zero
// time if none does within five years.
func (c *CronExpr) Next(t time.Time) time.Time {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		switch {
		case !c.months.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !c.dayMatches(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !c.hours.has(t.Hour()):
			t = t.Truncate(time.Hour).Add(time.Hour)
		case !c.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	dom, dow := c.doms.has(t.Day()), c.dows.has(int(t.Weekday()))
	if c.domStar || c.dowStar {
		return dom && dow
	}
	return dom || dow
}

// parseField parses a comma-separated list of *, */n, n, n-m and n-m/s.
func parseField(s string, min, max int) (field, error) {
	var f field
	for _, part := range strings.Split(s, ",") {
		lo, hi, step := min, max, 1

		rangePart, stepPart, hasStep := strings.Cut(part, "/")
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step: %s", part)
			}
			step = n
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start: %s", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end: %s", b)
			}
		default:
			n, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value: %s", rangePart)
			}
			lo = n
			if !hasStep {
				hi = n
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("range %d-%d outside %d-%d", lo, hi, min, max)
		}
		for v := lo; v <= hi; v += step {
			f |= 1 << uint(v)
		}
	}
	if bits.OnesCount64(uint64(f)) == 0 {
		return 0, fmt.Errorf("empty field")
	}
	return f, nil
}
