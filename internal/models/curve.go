package models

import (
	"fmt"
	"strings"
	"time"
)

// Cycle is the recurring calendar unit used to fold a multi-year series into one
// seasonal shape.
type Cycle string

const (
	// DayOfYear folds on leap-calendar day positions (366 periods). 29 February
	// has its own period so that every other date keeps the same index in
	// leap and non-leap years.
	DayOfYear Cycle = "day_of_year"
	// WeekOfYear folds on ISO week numbers (53 periods).
	WeekOfYear Cycle = "week_of_year"
	// MonthOfYear folds on calendar months (12 periods).
	MonthOfYear Cycle = "month_of_year"
)

// ParseCycle normalizes a user supplied cycle name. Empty input selects DayOfYear.
func ParseCycle(s string) (Cycle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day_of_year", "day", "daily", "doy":
		return DayOfYear, nil
	case "week_of_year", "week", "weekly", "woy":
		return WeekOfYear, nil
	case "month_of_year", "month", "monthly":
		return MonthOfYear, nil
	}
	return "", fmt.Errorf("unknown cycle %q", s)
}

// Length returns the number of periods P in one cycle, or 0 for an unknown cycle.
func (c Cycle) Length() int {
	switch c {
	case DayOfYear:
		return 366
	case WeekOfYear:
		return 53
	case MonthOfYear:
		return 12
	}
	return 0
}

// PeriodOf maps a calendar date onto its period index in [0, Length()).
// It returns -1 for an unknown cycle.
func (c Cycle) PeriodOf(t time.Time) int {
	switch c {
	case DayOfYear:
		idx := t.YearDay() - 1
		if !isLeapYear(t.Year()) && t.Month() > time.February {
			idx++
		}
		return idx
	case WeekOfYear:
		_, week := t.ISOWeek()
		return week - 1
	case MonthOfYear:
		return int(t.Month()) - 1
	}
	return -1
}

// Label renders a period index as a short calendar label ("Apr 02", "W14", "Apr").
func (c Cycle) Label(idx int) string {
	switch c {
	case DayOfYear:
		return time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, idx).Format("Jan 02")
	case WeekOfYear:
		return fmt.Sprintf("W%02d", idx+1)
	case MonthOfYear:
		return time.Month(idx + 1).String()[:3]
	}
	return fmt.Sprintf("#%d", idx)
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// CurvePoint is one period of a seasonal curve.
type CurvePoint struct {
	PeriodIndex  int     `json:"period_index"`
	Value        float64 `json:"value"`
	Gap          bool    `json:"gap"`          // true when no observation maps to this period
	Observations int     `json:"observations"` // raw observations folded into this period
	Share        float64 `json:"share"`        // percent of the curve's non-gap total
}

// SeasonalCurve is the folded, optionally smoothed, seasonal shape of a series.
// Points always has exactly Cycle.Length() entries ordered by PeriodIndex.
type SeasonalCurve struct {
	Cycle  Cycle        `json:"cycle"`
	Points []CurvePoint `json:"points"`
}

// ValueRange returns the minimum and maximum value over non-gap periods.
// ok is false when every period is a gap.
func (c SeasonalCurve) ValueRange() (lo, hi float64, ok bool) {
	for _, p := range c.Points {
		if p.Gap {
			continue
		}
		if !ok {
			lo, hi, ok = p.Value, p.Value, true
			continue
		}
		if p.Value < lo {
			lo = p.Value
		}
		if p.Value > hi {
			hi = p.Value
		}
	}
	return lo, hi, ok
}
