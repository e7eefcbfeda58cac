package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"expensemanager/internal/dates"
)

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

const (
	// CategoryInitial tags the synthetic credit recorded at user creation.
	CategoryInitial = "Initial"
	// CategoryGeneral is the bucket for transactions without a category.
	CategoryGeneral = "General"

	DefaultCreditDescription  = "Money added"
	DefaultDebitDescription   = "Expense"
	DefaultInitialDescription = "Initial balance"

	// TimeLayout is the display-only wall-clock format of a transaction.
	TimeLayout = "15:04:05"

	maxDescriptionLen = 200
	maxCategoryLen    = 64
)

type (
	TransactionType string

	// Date is a calendar date without a time zone. The time part is always
	// midnight UTC.
	Date struct {
		time.Time
	}

	User struct {
		ID            string    `json:"id"`
		FirstName     string    `json:"first_name"`
		LastName      string    `json:"last_name"`
		PasswordHash  string    `json:"password_hash,omitempty"`
		InitialAmount Money     `json:"initial_amount"`
		Balance       Money     `json:"balance"`
		CreatedAt     time.Time `json:"created_at"`
		LastLogin     time.Time `json:"last_login,omitempty"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		Type        TransactionType `json:"type"`
		Amount      Money           `json:"amount"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		Date        Date            `json:"date"`
		Time        string          `json:"time"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	// Ledger is one user's transaction history, most recent first, with the
	// totals folded from it.
	Ledger struct {
		User         User
		Transactions []Transaction
		Totals       Summary
	}
)

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as seen in t's location.
func DateOf(t time.Time) Date {
	return Date{Time: dates.Truncate(t)}
}

// ParseDate accepts any encoding the date normalizer understands. Malformed
// input yields today and ok=false.
func ParseDate(s string) (d Date, ok bool) {
	t, ok := dates.Parse(s)
	return Date{Time: t}, ok
}

func (d Date) String() string {
	return dates.FormatISO(d.Time)
}

// DMY renders the date as DD-MM-YYYY.
func (d Date) DMY() string {
	return dates.FormatDMY(d.Time)
}

// AddDays returns the date n days later (or earlier when negative).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return NewValidationError("date", "cannot be empty")
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts any encoding the date normalizer reads, so
// snapshots written with DD-MM-YYYY dates still load. An empty string is
// the zero date; anything unparseable is an error rather than today.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, ok := ParseDate(s)
	if !ok {
		return NewValidationError("date", fmt.Sprintf("%q is not a valid date", s))
	}
	*d = parsed
	return nil
}

func (t TransactionType) IsValid() bool {
	return t == Credit || t == Debit
}

// Sign returns +1 for credits and -1 for debits.
func (t TransactionType) Sign() int64 {
	if t == Debit {
		return -1
	}
	return 1
}

// SignedAmount is the balance delta implied by the transaction.
func (tx Transaction) SignedAmount() Money {
	return Money{Cents: tx.Type.Sign() * tx.Amount.Cents}
}

// WithDefaults fills in description, category, date and time for fields the
// caller left empty.
func (tx Transaction) WithDefaults(now time.Time) Transaction {
	tx.Description = strings.TrimSpace(tx.Description)
	tx.Category = strings.TrimSpace(tx.Category)
	if tx.Description == "" {
		if tx.Type == Debit {
			tx.Description = DefaultDebitDescription
		} else {
			tx.Description = DefaultCreditDescription
		}
	}
	if tx.Category == "" {
		tx.Category = CategoryGeneral
	}
	if tx.Date.IsZero() {
		tx.Date = DateOf(now)
	}
	if tx.Time == "" {
		tx.Time = now.Format(TimeLayout)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	return tx
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.ID) == "" {
		return NewValidationError("id", "cannot be empty")
	}
	if !tx.Type.IsValid() {
		return NewValidationError("type", "must be credit or debit")
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if len(tx.Description) > maxDescriptionLen {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	if len(tx.Category) > maxCategoryLen {
		return NewValidationError("category", "too long (max 64 characters)")
	}
	return tx.Date.Validate()
}

// UserID derives the user identifier from first and last name: both
// lowercased, inner whitespace collapsed to "-", joined by "_".
func UserID(first, last string) string {
	return normalizeNamePart(first) + "_" + normalizeNamePart(last)
}

func normalizeNamePart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// FullName is "First Last", the key the remote backend matches users by.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Public returns a copy without credential material.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// ValidateNewUser checks the inputs of user registration.
func ValidateNewUser(first, last, password string, initial Money) error {
	if strings.TrimSpace(first) == "" {
		return NewValidationError("first_name", "cannot be empty")
	}
	if strings.TrimSpace(last) == "" {
		return NewValidationError("last_name", "cannot be empty")
	}
	if password == "" {
		return NewValidationError("password", "cannot be empty")
	}
	if initial.Cents < 0 {
		return NewValidationError("initial_amount", "cannot be negative")
	}
	return nil
}
