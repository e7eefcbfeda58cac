// Package google mirrors ledger changes into a Google Sheets journal, one
// appended row per sync task.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/remote"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var _ remote.Mirror = (*Client)(nil)

const defaultSheetName = "Journal"

// Config selects the spreadsheet and the service account used to write it.
// CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	now           func() time.Time
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = defaultSheetName
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, now: time.Now}, nil
}

// newSheetsService authenticates with service account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Apply appends the task as a journal row.
func (c *Client) Apply(ctx context.Context, task core.SyncTask) error {
	if !task.Operation.IsValid() {
		return &core.SyncError{Operation: task.Operation, Message: "unknown operation"}
	}

	vr := &gsheet.ValueRange{Values: [][]any{rowFor(task, c.now())}}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.sheet+"!A:J", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		syncErr := &core.SyncError{Operation: task.Operation, Err: err}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			syncErr.Status = apiErr.Code
		}
		return syncErr
	}
	return nil
}

// rowFor lays out one journal row:
// timestamp, operation, user id, name, type, amount, category, description,
// date (DD-MM-YYYY), transaction id.
func rowFor(task core.SyncTask, now time.Time) []any {
	row := []any{
		now.UTC().Format(time.RFC3339),
		string(task.Operation),
		task.UserID,
		task.User.FullName(),
		"", "", "", "", "", "",
	}
	if tx := task.Transaction; tx != nil {
		row[4] = string(tx.Type)
		row[5] = tx.SignedAmount().String()
		row[6] = tx.Category
		row[7] = tx.Description
		row[8] = tx.Date.DMY()
		row[9] = tx.ID
	} else if task.Operation == core.SyncCreateUser {
		row[5] = task.User.InitialAmount.String()
	}
	return row
}
