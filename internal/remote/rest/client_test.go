package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"expensemanager/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeBackend imitates the legacy API closely enough for the mirror.
type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	users    string
	failWith int
	// bareUsers drops the success flag from GET /users.
	bareUsers bool
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := recorded{Method: r.Method, Path: r.URL.Path}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.requests = append(f.requests, rec)

	w.Header().Set("Content-Type", "application/json")
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"success":false,"error":"database unavailable"}`))
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users" && f.bareUsers:
		_, _ = w.Write([]byte(`{"data":` + f.users + `}`))
	case r.Method == http.MethodGet && r.URL.Path == "/users":
		_, _ = w.Write([]byte(`{"success":true,"data":` + f.users + `}`))
	case r.Method == http.MethodGet && r.URL.Path == "/quick-stats":
		_, _ = w.Write([]byte(`{"success":true,"data":{"total_users":3,"total_balance":120.5,"todays_transactions":2,"avg_expense":7.25}}`))
	default:
		_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
	}
}

func (f *fakeBackend) calls() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newTestClient(t *testing.T, f *fakeBackend) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithHTTPClient(srv.Client()))
}

var john = core.User{
	ID:            "john_doe",
	FirstName:     "John",
	LastName:      "Doe",
	InitialAmount: core.Money{Cents: 10050},
	CreatedAt:     time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
}

func TestApply_CreateUser(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)

	err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncCreateUser, UserID: john.ID, User: john})
	require.NoError(t, err)

	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/user", calls[0].Path)
	assert.Equal(t, map[string]any{
		"First_Name":   "John",
		"Last_Name":    "Doe",
		"Total_Amount": 100.5,
		"Date":         "05-03-2024",
		"Month":        "03",
		"Year":         "2024",
	}, calls[0].Body)
}

func TestApply_Credit(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)

	tx := &core.Transaction{ID: "t1", Type: core.Credit, Amount: core.Money{Cents: 2500}}
	err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncCredit, User: john, Transaction: tx})
	require.NoError(t, err)

	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/add-money-by-name", calls[0].Path)
	assert.Equal(t, 25.0, calls[0].Body["add_amount"])
	assert.Equal(t, "John", calls[0].Body["first_name"])
}

func TestApply_DebitLooksUpUserID(t *testing.T) {
	tests := []struct {
		name  string
		users string
		path  string
	}{
		{"numeric id", `[{"id":7,"First_Name":"John","Last_Name":"Doe"}]`, "/user/7/expense"},
		{"string id", `[{"id":"a1","First_Name":"Jane","Last_Name":"Doe"},{"id":"b2","First_Name":"John","Last_Name":"Doe"}]`, "/user/b2/expense"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeBackend{users: tt.users}
			c := newTestClient(t, f)

			tx := &core.Transaction{ID: "t2", Type: core.Debit, Amount: core.Money{Cents: 1234}, Category: "Food", Description: "Lunch"}
			err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDebit, User: john, Transaction: tx})
			require.NoError(t, err)

			calls := f.calls()
			require.Len(t, calls, 2)
			assert.Equal(t, "/users", calls[0].Path)
			assert.Equal(t, tt.path, calls[1].Path)
			assert.Equal(t, 12.34, calls[1].Body["expense"])
			assert.Equal(t, "Food", calls[1].Body["category"])
			assert.Equal(t, "Lunch", calls[1].Body["description"])
		})
	}
}

func TestApply_UserListWithoutSuccessFlag(t *testing.T) {
	f := &fakeBackend{users: `[{"id":7,"First_Name":"John","Last_Name":"Doe"}]`, bareUsers: true}
	c := newTestClient(t, f)

	tx := &core.Transaction{ID: "t2", Type: core.Debit, Amount: core.Money{Cents: 500}}
	require.NoError(t, c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDebit, User: john, Transaction: tx}))
	require.NoError(t, c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDeleteUser, User: john}))

	calls := f.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "/user/7/expense", calls[1].Path)
	assert.Equal(t, "/user/7", calls[3].Path)
}

func TestEnvelopeOK(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		success *bool
		method  string
		want    bool
	}{
		{"read without flag", nil, http.MethodGet, true},
		{"write without flag", nil, http.MethodPost, false},
		{"read refused", &no, http.MethodGet, false},
		{"write accepted", &yes, http.MethodDelete, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, envelope{Success: tt.success}.ok(tt.method))
		})
	}
}

func TestApply_DebitUnknownUserFails(t *testing.T) {
	f := &fakeBackend{users: `[]`}
	c := newTestClient(t, f)

	tx := &core.Transaction{ID: "t3", Type: core.Debit, Amount: core.Money{Cents: 100}}
	err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDebit, User: john, Transaction: tx})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSyncFailed)
	assert.ErrorIs(t, err, errUserNotFound)
}

func TestApply_DeleteUser(t *testing.T) {
	f := &fakeBackend{users: `[{"id":3,"First_Name":"John","Last_Name":"Doe"}]`}
	c := newTestClient(t, f)

	require.NoError(t, c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDeleteUser, User: john}))

	calls := f.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodDelete, calls[1].Method)
	assert.Equal(t, "/user/3", calls[1].Path)
}

func TestApply_DeleteMissingUserSucceeds(t *testing.T) {
	f := &fakeBackend{users: `[]`}
	c := newTestClient(t, f)

	require.NoError(t, c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDeleteUser, User: john}))
	assert.Len(t, f.calls(), 1)
}

func TestApply_BackendErrorBecomesSyncError(t *testing.T) {
	f := &fakeBackend{failWith: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncCreateUser, User: john})
	require.Error(t, err)

	var syncErr *core.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, core.SyncCreateUser, syncErr.Operation)
	assert.Equal(t, http.StatusServiceUnavailable, syncErr.Status)
	assert.Contains(t, syncErr.Message, "database unavailable")
}

func TestApply_UnknownOperation(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	err := c.Apply(context.Background(), core.SyncTask{Operation: "rename"})
	assert.ErrorIs(t, err, core.ErrSyncFailed)
}

func TestQuickStats(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})

	stats, err := c.QuickStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalUsers: 3, TotalBalance: 120.5, TodaysTransactions: 2, AvgExpense: 7.25}, stats)
}
