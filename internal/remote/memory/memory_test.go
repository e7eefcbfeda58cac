package memory

import (
	"context"
	"errors"
	"testing"

	"expensemanager/internal/core"
)

func TestMirror(t *testing.T) {
	m := New()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(1, boom)
	err := m.Apply(ctx, core.SyncTask{ID: 1, Operation: core.SyncCredit})
	if !errors.Is(err, core.ErrSyncFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected scripted sync failure, got %v", err)
	}

	if err := m.Apply(ctx, core.SyncTask{ID: 1, Operation: core.SyncCredit}); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if got := m.Applied(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("Applied() = %+v", got)
	}
}
