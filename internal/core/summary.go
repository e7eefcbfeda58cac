package core

import "sort"

// Summary is the fold of a list of transactions.
type Summary struct {
	TotalAdded Money `json:"total_added"`
	TotalSpent Money `json:"total_spent"`
	NetBalance Money `json:"net_balance"`
	Count      int   `json:"count"`
	DebitCount int   `json:"debit_count"`
	// AvgExpense is TotalSpent / DebitCount rounded to cents, zero without
	// debits.
	AvgExpense Money `json:"avg_expense"`
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
	Count  int    `json:"count"`
}

// Summarize folds txns into totals. The initial credit counts as added money.
func Summarize(txns []Transaction) Summary {
	var s Summary
	for _, tx := range txns {
		s.Count++
		switch tx.Type {
		case Credit:
			s.TotalAdded = s.TotalAdded.Add(tx.Amount)
		case Debit:
			s.TotalSpent = s.TotalSpent.Add(tx.Amount)
			s.DebitCount++
		}
	}
	s.NetBalance = s.TotalAdded.Sub(s.TotalSpent)
	s.AvgExpense = s.TotalSpent.DivRound(int64(s.DebitCount))
	return s
}

// Balance is the signed sum of txns.
func Balance(txns []Transaction) Money {
	var m Money
	for _, tx := range txns {
		m = m.Add(tx.SignedAmount())
	}
	return m
}

// SpendingByCategory totals debits per category, largest first, ties broken
// by name.
func SpendingByCategory(txns []Transaction) []CategoryAmount {
	idx := map[string]int{}
	var out []CategoryAmount
	for _, tx := range txns {
		if tx.Type != Debit {
			continue
		}
		i, ok := idx[tx.Category]
		if !ok {
			i = len(out)
			idx[tx.Category] = i
			out = append(out, CategoryAmount{Name: tx.Category})
		}
		out[i].Amount = out[i].Amount.Add(tx.Amount)
		out[i].Count++
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Name < out[j].Name
	})
	return out
}
