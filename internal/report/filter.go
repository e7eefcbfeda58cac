// Package report derives summaries and filtered views from a ledger.
// Everything here is pure: the same transactions, filter and clock give the
// same report.
package report

import (
	"strings"

	"expensemanager/internal/core"
	"expensemanager/internal/dates"
)

type Period string

const (
	PeriodAll    Period = "all"
	PeriodToday  Period = "today"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
	PeriodYear   Period = "year"
	PeriodCustom Period = "custom"
)

// TypeFilter restricts a report to credits, debits or both.
type TypeFilter string

const (
	TypeAll    TypeFilter = "all"
	TypeCredit TypeFilter = TypeFilter(core.Credit)
	TypeDebit  TypeFilter = TypeFilter(core.Debit)
)

// Filter selects the transactions a report covers. Build one with the
// period constructors; Start and End only apply to PeriodCustom.
type Filter struct {
	Period Period     `json:"period"`
	Type   TypeFilter `json:"type"`
	Start  core.Date  `json:"start,omitempty"`
	End    core.Date  `json:"end,omitempty"`
}

func AllTime() Filter   { return Filter{Period: PeriodAll, Type: TypeAll} }
func Today() Filter     { return Filter{Period: PeriodToday, Type: TypeAll} }
func LastWeek() Filter  { return Filter{Period: PeriodWeek, Type: TypeAll} }
func LastMonth() Filter { return Filter{Period: PeriodMonth, Type: TypeAll} }
func LastYear() Filter  { return Filter{Period: PeriodYear, Type: TypeAll} }

// Custom covers start through end, both inclusive.
func Custom(start, end core.Date) Filter {
	return Filter{Period: PeriodCustom, Type: TypeAll, Start: start, End: end}
}

func (f Filter) WithType(t TypeFilter) Filter {
	f.Type = t
	return f
}

func (f Filter) Validate() error {
	if _, err := MatcherFor(f.Period); err != nil {
		return err
	}
	switch f.Type {
	case TypeAll, TypeCredit, TypeDebit:
	default:
		return core.NewValidationError("type", "must be all, credit or debit")
	}
	if f.Period != PeriodCustom {
		return nil
	}
	if f.Start.IsZero() || f.End.IsZero() {
		return core.NewValidationError("period", "custom range needs both start and end dates")
	}
	if f.Start.After(f.End.Time) {
		return core.NewValidationError("start", "must not be after end")
	}
	return nil
}

// ParseFilter builds a Filter from loose query values. Empty period and type
// mean all; custom bounds accept any format the date normalizer reads.
func ParseFilter(period, typ, start, end string) (Filter, error) {
	f := Filter{
		Period: Period(strings.ToLower(strings.TrimSpace(period))),
		Type:   TypeFilter(strings.ToLower(strings.TrimSpace(typ))),
	}
	if f.Period == "" {
		f.Period = PeriodAll
	}
	if f.Type == "" {
		f.Type = TypeAll
	}

	if f.Period == PeriodCustom {
		var err error
		if f.Start, err = parseBound("start", start); err != nil {
			return Filter{}, err
		}
		if f.End, err = parseBound("end", end); err != nil {
			return Filter{}, err
		}
	}

	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func parseBound(field, s string) (core.Date, error) {
	if strings.TrimSpace(s) == "" {
		return core.Date{}, core.NewValidationError(field, "required for a custom period")
	}
	t, ok := dates.Parse(s)
	if !ok {
		return core.Date{}, core.NewValidationError(field, "not a valid date")
	}
	return core.Date{Time: t}, nil
}

func (f Filter) matchesType(tx core.Transaction) bool {
	return f.Type == TypeAll || string(f.Type) == string(tx.Type)
}
