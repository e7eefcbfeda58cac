package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/report"
	"expensemanager/internal/services"
)

type ledgerResponse struct {
	User         core.User          `json:"user"`
	Transactions []core.Transaction `json:"transactions"`
	Totals       core.Summary       `json:"totals"`
}

type syncStatsResponse struct {
	core.SyncStats
	Outstanding int `json:"outstanding"`
}

// entry reads the amount, description, category and date fields shared by
// income and expenses.
func entry(r *http.Request) (services.Entry, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return services.Entry{}, err
	}
	amount, err := p.Amount("amount")
	if err != nil {
		return services.Entry{}, err
	}
	return services.Entry{
		Amount:      amount,
		Description: p.Get("description"),
		Category:    p.Get("category"),
		Date:        p.Date("date"),
	}, nil
}

func (s *Server) handleAddIncome(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	e, err := entry(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	tx, err := s.api.AddIncome(r.Context(), sess, e)
	if err != nil {
		fail(w, r, log.OpCredit, err)
		return
	}
	Created(tx).Write(w)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	e, err := entry(r)
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	tx, err := s.api.AddExpense(r.Context(), sess, e)
	if err != nil {
		fail(w, r, log.OpDebit, err)
		return
	}
	Created(tx).Write(w)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	l, err := s.api.Ledger(r.Context(), sess)
	if err != nil {
		fail(w, r, "ledger", err)
		return
	}
	OK(ledgerResponse{User: l.User, Transactions: l.Transactions, Totals: l.Totals}).Write(w)
}

// handleReport serves GET /report?period=&type=&start=&end=&format=json|csv.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	q := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(q.Get("format")))
	if format != "" && format != "json" && format != "csv" {
		BadRequestError("format: must be json or csv").Write(w)
		return
	}

	f, err := report.ParseFilter(q.Get("period"), q.Get("type"), q.Get("start"), q.Get("end"))
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}

	rep, err := s.api.Report(r.Context(), sess, f)
	if err != nil {
		fail(w, r, log.OpReport, err)
		return
	}

	if format != "csv" {
		OK(rep).Write(w)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, rep); err != nil {
		fail(w, r, log.OpReport, err)
		return
	}
	filename := fmt.Sprintf("expense-report-%s.csv", rep.GeneratedAt.Format("2006-01-02"))
	NewResponse().
		Header("Content-Disposition", `attachment; filename="`+filename+`"`).
		Body("text/csv; charset=utf-8", buf.Bytes()).
		Write(w)
}

func (s *Server) handleQuickStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.QuickStats(r.Context())
	if err != nil {
		fail(w, r, "quick_stats", err)
		return
	}
	OK(stats).Write(w)
}

func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.SyncStats(r.Context())
	if err != nil {
		fail(w, r, log.OpSync, err)
		return
	}
	OK(syncStatsResponse{SyncStats: stats, Outstanding: stats.Outstanding()}).Write(w)
}
