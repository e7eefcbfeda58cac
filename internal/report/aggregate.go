package report

import (
	"sort"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/dates"
)

// Report is a filtered, date-descending view of a ledger with its totals.
type Report struct {
	Filter       Filter                `json:"filter"`
	Transactions []core.Transaction    `json:"transactions"`
	Summary      core.Summary          `json:"summary"`
	ByCategory   []core.CategoryAmount `json:"by_category"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// Aggregate selects the transactions matching f relative to now, orders them
// newest date first (ties keep ledger order) and folds the summary.
func Aggregate(txns []core.Transaction, f Filter, now time.Time) (Report, error) {
	if err := f.Validate(); err != nil {
		return Report{}, err
	}
	matcher, err := MatcherFor(f.Period)
	if err != nil {
		return Report{}, err
	}

	today := dates.Truncate(now)
	selected := make([]core.Transaction, 0, len(txns))
	for _, tx := range txns {
		if !f.matchesType(tx) {
			continue
		}
		if !matcher.Includes(tx.Date.Time, today, f) {
			continue
		}
		selected = append(selected, tx)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Date.After(selected[j].Date.Time)
	})

	return Report{
		Filter:       f,
		Transactions: selected,
		Summary:      core.Summarize(selected),
		ByCategory:   core.SpendingByCategory(selected),
		GeneratedAt:  now,
	}, nil
}
