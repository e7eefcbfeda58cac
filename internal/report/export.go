package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes a summary block, the category breakdown and one row per
// transaction.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"Expense Report"},
		{"Period", string(r.Filter.Period)},
		{"Type", string(r.Filter.Type)},
	}
	if r.Filter.Period == PeriodCustom {
		rows = append(rows, []string{"Range", r.Filter.Start.String(), r.Filter.End.String()})
	}
	rows = append(rows,
		[]string{"Generated", r.GeneratedAt.Format(time.DateTime)},
		[]string{"SUMMARY"},
		[]string{"Total Added", r.Summary.TotalAdded.String()},
		[]string{"Total Spent", r.Summary.TotalSpent.String()},
		[]string{"Net Balance", r.Summary.NetBalance.String()},
		[]string{"Transactions", strconv.Itoa(r.Summary.Count)},
		[]string{"Average Expense", r.Summary.AvgExpense.String()},
	)

	if len(r.ByCategory) > 0 {
		rows = append(rows, []string{"CATEGORY BREAKDOWN"}, []string{"Category", "Amount", "Count"})
		for _, c := range r.ByCategory {
			rows = append(rows, []string{c.Name, c.Amount.String(), strconv.Itoa(c.Count)})
		}
	}

	rows = append(rows, []string{"TRANSACTIONS"}, []string{"Date", "Time", "Type", "Category", "Description", "Amount"})
	for _, tx := range r.Transactions {
		rows = append(rows, []string{
			tx.Date.String(),
			tx.Time,
			string(tx.Type),
			tx.Category,
			tx.Description,
			tx.SignedAmount().String(),
		})
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}
