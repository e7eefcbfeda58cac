package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expensemanager/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var fixedNow = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func TestRowFor(t *testing.T) {
	user := core.User{ID: "john_doe", FirstName: "John", LastName: "Doe", InitialAmount: core.Money{Cents: 5000}}
	debit := &core.Transaction{
		ID:          "tx-9",
		Type:        core.Debit,
		Amount:      core.Money{Cents: 1250},
		Category:    "Food",
		Description: "Lunch",
		Date:        core.NewDate(2024, 3, 4),
	}

	tests := []struct {
		name string
		task core.SyncTask
		want []any
	}{
		{
			name: "create user",
			task: core.SyncTask{Operation: core.SyncCreateUser, UserID: "john_doe", User: user},
			want: []any{"2024-03-05T10:00:00Z", "create_user", "john_doe", "John Doe", "", "50.00", "", "", "", ""},
		},
		{
			name: "debit",
			task: core.SyncTask{Operation: core.SyncDebit, UserID: "john_doe", User: user, Transaction: debit},
			want: []any{"2024-03-05T10:00:00Z", "debit", "john_doe", "John Doe", "debit", "-12.50", "Food", "Lunch", "04-03-2024", "tx-9"},
		},
		{
			name: "delete user",
			task: core.SyncTask{Operation: core.SyncDeleteUser, UserID: "john_doe", User: user},
			want: []any{"2024-03-05T10:00:00Z", "delete_user", "john_doe", "John Doe", "", "", "", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rowFor(tt.task, fixedNow)
			if len(got) != len(tt.want) {
				t.Fatalf("row length = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("column %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{}); err == nil {
		t.Error("expected error for missing spreadsheet id")
	}
	_, err := New(ctx, Config{SpreadsheetID: "sheet"})
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("expected credentials error, got %v", err)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return &Client{svc: svc, spreadsheetID: "sheet-id", sheet: "Journal", now: func() time.Time { return fixedNow }}
}

func TestApply_AppendsRow(t *testing.T) {
	var gotPath string
	var body struct {
		Values [][]any `json:"values"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	task := core.SyncTask{Operation: core.SyncCreateUser, UserID: "john_doe", User: core.User{FirstName: "John", LastName: "Doe"}}
	if err := c.Apply(context.Background(), task); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !strings.Contains(gotPath, "sheet-id") || !strings.HasSuffix(gotPath, ":append") {
		t.Errorf("unexpected path %q", gotPath)
	}
	if len(body.Values) != 1 || body.Values[0][1] != "create_user" {
		t.Errorf("unexpected values %v", body.Values)
	}
}

func TestApply_APIErrorIsSyncError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"no access"}}`))
	})

	err := c.Apply(context.Background(), core.SyncTask{Operation: core.SyncDeleteUser, UserID: "x"})
	var syncErr *core.SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *core.SyncError, got %v", err)
	}
	if syncErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", syncErr.Status)
	}
}
