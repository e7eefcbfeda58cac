// Command ledgerctl administers a ledger database from the shell.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"expensemanager/internal/backend"
	"expensemanager/internal/cli"
	"expensemanager/internal/config"
	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/remote/rest"
	"expensemanager/internal/report"

	"golang.org/x/term"
)

const usage = `Usage: ledgerctl [-db <path>] <command> [flags]

Commands:
  create-user   register a user (-first, -last, [-password], [-initial])
  list-users    print every user with their balance
  report        print a user's report (-first, -last, [-password], [-period], [-type], [-start], [-end], [-format])
  sync-stats    print sync queue counters
  sync-now      replay one batch of queued changes to the mirror
  retry-failed  move failed sync items back to pending
  remote-stats  print the REST backend's dashboard counters
`

func main() {
	cli.LoadEnvFile()
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	dbPath := fs.String("db", "", "Path to the SQLite database (overrides SQLITE_DB_PATH)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}

	cfg, err := loadConfig(*dbPath)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{Level: slog.LevelWarn, Component: "ledgerctl", Output: stderr})
	ctx := log.NewContext(context.Background(), logger)

	res, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	c := &command{res: res, cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}
	name, rest := fs.Arg(0), fs.Args()[1:]
	switch name {
	case "create-user":
		return c.createUser(ctx, rest)
	case "list-users":
		return c.listUsers(ctx)
	case "report":
		return c.report(ctx, rest)
	case "sync-stats":
		return c.syncStats(ctx)
	case "sync-now":
		return c.syncNow(ctx)
	case "retry-failed":
		return c.retryFailed(ctx)
	case "remote-stats":
		return c.remoteStats(ctx)
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", name)
	}
}

func loadConfig(dbPath string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.SQLiteDBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DataBackend == string(backend.MemoryBackend) {
		return nil, errors.New("ledgerctl needs persistent storage: use the sqlite or mongo backend")
	}
	return cfg, nil
}

type command struct {
	res    *backend.Result
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *command) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// password returns flagValue or prompts for one.
func (c *command) password(flagValue string) (string, error) {
	password := flagValue
	if password == "" {
		fmt.Fprint(c.stdout, "Password: ")
		var err error
		password, err = readPassword(c.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(c.stdout)
	}
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func (c *command) createUser(ctx context.Context, args []string) error {
	fs := c.flags("create-user")
	first := fs.String("first", "", "First name")
	last := fs.String("last", "", "Last name")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	initialFlag := fs.String("initial", "0", "Opening balance, e.g. 250.00")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *first == "" || *last == "" {
		fs.PrintDefaults()
		return errors.New("missing required flags: first, last")
	}

	initial, err := core.ParseMoney(*initialFlag)
	if err != nil {
		return fmt.Errorf("invalid initial amount %q: %w", *initialFlag, err)
	}
	password, err := c.password(*passwordFlag)
	if err != nil {
		return err
	}

	user, err := c.res.Service.CreateUser(ctx, *first, *last, password, initial)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Fprintf(c.stdout, "User %s created successfully with balance %s\n", user.ID, user.Balance)
	return nil
}

func (c *command) listUsers(ctx context.Context) error {
	users, err := c.res.Service.ListUsers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBALANCE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.FullName(), u.Balance, u.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func (c *command) report(ctx context.Context, args []string) error {
	fs := c.flags("report")
	first := fs.String("first", "", "First name")
	last := fs.String("last", "", "Last name")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	period := fs.String("period", "all", "all, today, week, month, year or custom")
	typ := fs.String("type", "all", "all, credit or debit")
	start := fs.String("start", "", "Custom period start date")
	end := fs.String("end", "", "Custom period end date")
	format := fs.String("format", "text", "text, csv or json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *first == "" || *last == "" {
		fs.PrintDefaults()
		return errors.New("missing required flags: first, last")
	}

	filter, err := report.ParseFilter(*period, *typ, *start, *end)
	if err != nil {
		return err
	}
	password, err := c.password(*passwordFlag)
	if err != nil {
		return err
	}

	sess, err := c.res.Service.Login(ctx, *first, *last, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer c.res.Service.Logout(ctx, sess.Token)

	rep, err := c.res.Service.Report(ctx, sess, filter)
	if err != nil {
		return err
	}

	switch *format {
	case "csv":
		return report.WriteCSV(c.stdout, rep)
	case "json":
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "text":
		return writeReportText(c.stdout, sess.User(), rep)
	default:
		return fmt.Errorf("unknown format %q: must be text, csv or json", *format)
	}
}

func writeReportText(w io.Writer, user core.User, rep report.Report) error {
	fmt.Fprintf(w, "Report for %s (%s, %s)\n\n", user.FullName(), rep.Filter.Period, rep.Filter.Type)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTYPE\tAMOUNT\tCATEGORY\tDESCRIPTION")
	for _, tx := range rep.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", tx.Date.DMY(), tx.Type, tx.Amount, tx.Category, tx.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := rep.Summary
	fmt.Fprintf(w, "\nAdded: %s  Spent: %s  Net: %s  Transactions: %d  Avg expense: %s\n",
		s.TotalAdded, s.TotalSpent, s.NetBalance, s.Count, s.AvgExpense)
	return nil
}

func (c *command) syncStats(ctx context.Context) error {
	stats, err := c.res.Service.SyncStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "pending=%d processing=%d completed=%d failed=%d\n",
		stats.Pending, stats.Processing, stats.Completed, stats.Failed)
	return nil
}

func (c *command) syncNow(ctx context.Context) error {
	processor := c.res.NewSyncProcessor(cli.SyncProcessorConfig(c.cfg))
	n := processor.ProcessBatch(ctx)
	fmt.Fprintf(c.stdout, "Synced %d item(s) to mirror %q\n", n, c.cfg.Mirror)
	return nil
}

func (c *command) retryFailed(ctx context.Context) error {
	processor := c.res.NewSyncProcessor(cli.SyncProcessorConfig(c.cfg))
	n, err := processor.RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Requeued %d failed item(s)\n", n)
	return nil
}

// remoteStats prints the totals the REST backend computes for itself.
func (c *command) remoteStats(ctx context.Context) error {
	if c.cfg.RemoteBaseURL == "" {
		return errors.New("remote-stats needs REMOTE_BASE_URL")
	}
	stats, err := rest.New(c.cfg.RemoteBaseURL).QuickStats(ctx)
	if err != nil {
		return fmt.Errorf("remote stats: %w", err)
	}
	fmt.Fprintf(c.stdout, "users=%d balance=%.2f today=%d avg_expense=%.2f\n",
		stats.TotalUsers, stats.TotalBalance, stats.TodaysTransactions, stats.AvgExpense)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Pipes and tests.
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
