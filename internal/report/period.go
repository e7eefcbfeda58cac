package report

import (
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/dates"
)

// PeriodMatcher decides whether a transaction date falls inside a period.
// date and today are calendar dates at UTC midnight.
type PeriodMatcher interface {
	Includes(date, today time.Time, f Filter) bool
}

type allMatcher struct{}

func (allMatcher) Includes(time.Time, time.Time, Filter) bool { return true }

// TodayMatcher matches the current calendar date.
type TodayMatcher struct{}

func (TodayMatcher) Includes(date, today time.Time, _ Filter) bool {
	return date.Equal(today)
}

// WeekMatcher matches the last seven days.
type WeekMatcher struct{}

func (WeekMatcher) Includes(date, today time.Time, _ Filter) bool {
	return !date.Before(today.AddDate(0, 0, -7))
}

// MonthMatcher matches dates on or after the same day last month, clamped
// to that month's length.
type MonthMatcher struct{}

func (MonthMatcher) Includes(date, today time.Time, _ Filter) bool {
	return !date.Before(dates.AddMonthsClamped(today, -1))
}

// YearMatcher matches dates on or after the same day last year; Feb 29
// clamps to Feb 28.
type YearMatcher struct{}

func (YearMatcher) Includes(date, today time.Time, _ Filter) bool {
	return !date.Before(dates.AddMonthsClamped(today, -12))
}

// CustomMatcher matches Start through End inclusive.
type CustomMatcher struct{}

func (CustomMatcher) Includes(date, _ time.Time, f Filter) bool {
	return !date.Before(f.Start.Time) && !date.After(f.End.Time)
}

var periodMatchers = map[Period]PeriodMatcher{
	PeriodAll:    allMatcher{},
	PeriodToday:  TodayMatcher{},
	PeriodWeek:   WeekMatcher{},
	PeriodMonth:  MonthMatcher{},
	PeriodYear:   YearMatcher{},
	PeriodCustom: CustomMatcher{},
}

// MatcherFor returns the matcher registered for p.
func MatcherFor(p Period) (PeriodMatcher, error) {
	m, ok := periodMatchers[p]
	if !ok {
		return nil, core.NewValidationError("period", "must be one of all, today, week, month, year, custom")
	}
	return m, nil
}
