// Package rental computes billable duration units for rental lines.
package rental

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/civil"
)

// ErrInvalidRange is returned when a rental range is missing an endpoint,
// cannot be parsed or covers no time.
var ErrInvalidRange = errors.New("invalid rental range")

// Mode selects how a line is billed over time.
type Mode string

const (
	ModeNone Mode = "none"
	ModeDay  Mode = "day"
	ModeHour Mode = "hour"
)

// ParseMode maps an empty value to ModeNone and rejects unknown modes.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeDay:
		return ModeDay, nil
	case ModeHour:
		return ModeHour, nil
	default:
		return "", fmt.Errorf("unknown rental mode %q", value)
	}
}

// Range is the raw user input. Day mode expects calendar dates (YYYY-MM-DD),
// hour mode expects times of day (HH:MM or HH:MM:SS). Both are timezone naive.
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Result carries the billable units and the canonical endpoints.
type Result struct {
	Units           int    `json:"units"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	CrossesMidnight bool   `json:"crossesMidnight,omitempty"`
}

// Calculate returns the number of billable units for the range in mode.
// Non-rental lines always bill one unit.
func Calculate(mode Mode, r Range) (Result, error) {
	switch mode {
	case ModeNone, "":
		return Result{Units: 1}, nil
	case ModeDay:
		return days(r)
	case ModeHour:
		return hours(r)
	default:
		return Result{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRange, mode)
	}
}

func days(r Range) (Result, error) {
	start, err := parseDate(r.Start)
	if err != nil {
		return Result{}, err
	}
	end, err := parseDate(r.End)
	if err != nil {
		return Result{}, err
	}
	if end.Before(start) {
		return Result{}, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRange, end, start)
	}
	units := end.DaysSince(start)
	if units < 1 {
		units = 1
	}
	return Result{Units: units, Start: start.String(), End: end.String()}, nil
}

func hours(r Range) (Result, error) {
	start, err := ParseTimeOfDay(r.Start)
	if err != nil {
		return Result{}, err
	}
	end, err := ParseTimeOfDay(r.End)
	if err != nil {
		return Result{}, err
	}
	elapsed := secondsOfDay(end) - secondsOfDay(start)
	wrapped := false
	if elapsed < 0 {
		elapsed += 24 * 3600
		wrapped = true
	}
	if elapsed <= 0 {
		return Result{}, fmt.Errorf("%w: %s to %s covers no time", ErrInvalidRange, start, end)
	}
	units := int(math.Ceil(elapsed / 3600))
	if units < 1 {
		units = 1
	}
	return Result{Units: units, Start: start.String(), End: end.String(), CrossesMidnight: wrapped}, nil
}

func parseDate(value string) (civil.Date, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return civil.Date{}, fmt.Errorf("%w: missing date", ErrInvalidRange)
	}
	d, err := civil.ParseDate(v)
	if err != nil || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("%w: bad date %q", ErrInvalidRange, value)
	}
	return d, nil
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS.
func ParseTimeOfDay(value string) (civil.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return civil.Time{}, fmt.Errorf("%w: missing time", ErrInvalidRange)
	}
	if strings.Count(v, ":") == 1 {
		v += ":00"
	}
	t, err := civil.ParseTime(v)
	if err != nil || !t.IsValid() {
		return civil.Time{}, fmt.Errorf("%w: bad time %q", ErrInvalidRange, value)
	}
	return t, nil
}

func secondsOfDay(t civil.Time) float64 {
	return float64(t.Hour*3600+t.Minute*60+t.Second) + float64(t.Nanosecond)/1e9
}
