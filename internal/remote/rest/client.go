// Package rest mirrors ledger changes to the legacy expense REST backend.
//
// The backend has no idempotency keys and addresses users by numeric id,
// which is looked up by full name before each debit or delete.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/remote"
)

var _ remote.Mirror = (*Client)(nil)

var errUserNotFound = errors.New("user not found on remote backend")

// Client talks to the backend at BaseURL.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClientWithPooling(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newHTTPClientWithPooling keeps connections to the single backend host
// alive between sync batches.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

// envelope is the backend's response wrapper. Some read endpoints omit
// success and only send data.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type remoteUser struct {
	ID        json.RawMessage `json:"id"`
	FirstName string          `json:"First_Name"`
	LastName  string          `json:"Last_Name"`
}

// Stats is the backend's dashboard summary.
type Stats struct {
	TotalUsers         int     `json:"total_users"`
	TotalBalance       float64 `json:"total_balance"`
	TodaysTransactions int     `json:"todays_transactions"`
	AvgExpense         float64 `json:"avg_expense"`
}

func (c *Client) Apply(ctx context.Context, task core.SyncTask) error {
	var err error
	switch task.Operation {
	case core.SyncCreateUser:
		err = c.createUser(ctx, task)
	case core.SyncCredit:
		err = c.addMoney(ctx, task)
	case core.SyncDebit:
		err = c.addExpense(ctx, task)
	case core.SyncDeleteUser:
		err = c.deleteUser(ctx, task)
	default:
		err = fmt.Errorf("unknown operation: %s", task.Operation)
	}
	if err == nil {
		return nil
	}
	var syncErr *core.SyncError
	if errors.As(err, &syncErr) {
		syncErr.Operation = task.Operation
		return syncErr
	}
	return &core.SyncError{Operation: task.Operation, Err: err}
}

func (c *Client) createUser(ctx context.Context, task core.SyncTask) error {
	created := task.User.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	d := core.DateOf(created)
	body := map[string]any{
		"First_Name":   task.User.FirstName,
		"Last_Name":    task.User.LastName,
		"Total_Amount": task.User.InitialAmount.Float64(),
		"Date":         d.DMY(),
		"Month":        d.Format("01"),
		"Year":         d.Format("2006"),
	}
	_, err := c.do(ctx, http.MethodPost, "/user", body)
	return err
}

func (c *Client) addMoney(ctx context.Context, task core.SyncTask) error {
	if task.Transaction == nil {
		return errors.New("credit task without transaction")
	}
	body := map[string]any{
		"first_name": task.User.FirstName,
		"last_name":  task.User.LastName,
		"add_amount": task.Transaction.Amount.Float64(),
	}
	_, err := c.do(ctx, http.MethodPost, "/add-money-by-name", body)
	return err
}

func (c *Client) addExpense(ctx context.Context, task core.SyncTask) error {
	if task.Transaction == nil {
		return errors.New("debit task without transaction")
	}
	id, err := c.findUserID(ctx, task.User.FullName())
	if err != nil {
		return err
	}
	body := map[string]any{
		"expense":     task.Transaction.Amount.Float64(),
		"category":    task.Transaction.Category,
		"description": task.Transaction.Description,
	}
	_, err = c.do(ctx, http.MethodPost, "/user/"+id+"/expense", body)
	return err
}

func (c *Client) deleteUser(ctx context.Context, task core.SyncTask) error {
	id, err := c.findUserID(ctx, task.User.FullName())
	if errors.Is(err, errUserNotFound) {
		// Already gone remotely.
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, "/user/"+id, nil)
	return err
}

// findUserID resolves "First Last" to the backend's user id.
func (c *Client) findUserID(ctx context.Context, fullName string) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return "", err
	}
	var users []remoteUser
	if err := json.Unmarshal(data, &users); err != nil {
		return "", fmt.Errorf("decode users: %w", err)
	}
	for _, u := range users {
		if u.FirstName+" "+u.LastName == fullName {
			return strings.Trim(string(u.ID), `"`), nil
		}
	}
	return "", errUserNotFound
}

// QuickStats fetches the backend's own dashboard numbers.
func (c *Client) QuickStats(ctx context.Context) (Stats, error) {
	data, err := c.do(ctx, http.MethodGet, "/quick-stats", nil)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, fmt.Errorf("decode quick stats: %w", err)
	}
	return s, nil
}

// ok reports whether the backend accepted the call. A missing success flag
// passes for GET only.
func (e envelope) ok(method string) bool {
	if e.Success == nil {
		return method == http.MethodGet
	}
	return *e.Success
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Proxies answer with HTML pages on outages.
		return nil, &core.SyncError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s: non-JSON response", method, path)}
	}
	if resp.StatusCode/100 != 2 || !env.ok(method) {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &core.SyncError{Status: resp.StatusCode, Message: fmt.Sprintf("%s %s: %s", method, path, msg)}
	}
	return env.Data, nil
}
