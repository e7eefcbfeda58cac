// Package remote defines the outbound port that replays queued ledger
// changes against a remote backend.
package remote

import (
	"context"

	"expensemanager/internal/core"
)

// Mirror applies one sync task remotely. Failures should be *core.SyncError
// so callers can tell them apart from local errors.
type Mirror interface {
	Apply(ctx context.Context, task core.SyncTask) error
}

// Nop discards every task. It backs the "none" mirror setting.
type Nop struct{}

func (Nop) Apply(context.Context, core.SyncTask) error { return nil }
