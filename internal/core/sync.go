package core

import "time"

// SyncOperation names the remote call a queued task replays.
type SyncOperation string

const (
	SyncCreateUser SyncOperation = "create_user"
	SyncCredit     SyncOperation = "credit"
	SyncDebit      SyncOperation = "debit"
	SyncDeleteUser SyncOperation = "delete_user"
)

func (o SyncOperation) IsValid() bool {
	switch o {
	case SyncCreateUser, SyncCredit, SyncDebit, SyncDeleteUser:
		return true
	}
	return false
}

// SyncOperationFor maps a transaction type to its sync operation.
func SyncOperationFor(t TransactionType) SyncOperation {
	if t == Debit {
		return SyncDebit
	}
	return SyncCredit
}

type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncTask is a queued mirror call. User is a credential-free copy taken at
// enqueue time, so the task can be replayed after the user is gone.
type SyncTask struct {
	ID            int64         `json:"id"`
	Operation     SyncOperation `json:"operation"`
	UserID        string        `json:"user_id"`
	User          User          `json:"user"`
	Transaction   *Transaction  `json:"transaction,omitempty"`
	Status        SyncStatus    `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SyncStats counts queue items by status.
type SyncStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Outstanding is the number of tasks not yet settled.
func (s SyncStats) Outstanding() int {
	return s.Pending + s.Processing
}
