package report

import (
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/dates"
)

// QuickStats is the dashboard summary across all users.
type QuickStats struct {
	TotalUsers         int        `json:"total_users"`
	TotalBalance       core.Money `json:"total_balance"`
	TodaysTransactions int        `json:"todays_transactions"`
	AvgExpense         core.Money `json:"avg_expense"`
}

// ComputeQuickStats sums balances over users and counts today's entries and
// the average debit over all ledgers.
func ComputeQuickStats(users []core.User, ledgers map[string][]core.Transaction, now time.Time) QuickStats {
	today := dates.Truncate(now)
	stats := QuickStats{TotalUsers: len(users)}

	var (
		spent  core.Money
		debits int64
	)
	for _, u := range users {
		stats.TotalBalance = stats.TotalBalance.Add(u.Balance)
		for _, tx := range ledgers[u.ID] {
			if tx.Date.Equal(today) {
				stats.TodaysTransactions++
			}
			if tx.Type == core.Debit {
				spent = spent.Add(tx.Amount)
				debits++
			}
		}
	}
	stats.AvgExpense = spent.DivRound(debits)
	return stats
}
