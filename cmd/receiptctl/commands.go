package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"receipts/internal/cli"
	"receipts/internal/config"
	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/services"
	"receipts/internal/statement"
)

// needsDatabase marks subcommands that open the application before running.
const needsDatabase = "receiptctl/needs-database"

// session holds the application shared by every subcommand. It is opened
// before a command runs and closed after it.
type session struct {
	dbPath   string
	logLevel string
	app      *cli.App
}

func newRootCommand() *cobra.Command {
	s := &session{}

	root := &cobra.Command{
		Use:          "receiptctl",
		Short:        "Manage receipts, bank statements and reconciliations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[needsDatabase] == "" {
				return nil
			}
			return s.open(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			s.close()
		},
	}

	root.PersistentFlags().StringVar(&s.dbPath, "db", "", "SQLite database path (default SQLITE_DB_PATH)")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	for _, cmd := range []*cobra.Command{
		newImportCommand(s),
		newPreviewCommand(s),
		newExtractCommand(s),
		newLedgerCommand(s),
		newReconcileCommand(s),
		newRunsCommand(s),
	} {
		cmd.Annotations = map[string]string{needsDatabase: "true"}
		root.AddCommand(cmd)
	}
	return root
}

func (s *session) open(cmd *cobra.Command) error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(s.logLevel, log.ComponentApp)

	cfg := config.Load()
	if s.dbPath != "" {
		cfg.SQLiteDBPath = s.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Jobs are worked inline, so the queue is never used here.
	app, err := cli.NewApp(cmd.Context(), cfg, cli.AppOptions{})
	if err != nil {
		return err
	}
	logger.Debug("Opened database", "path", cfg.SQLiteDBPath)
	s.app = app
	return nil
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

func newImportCommand(s *session) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <statement.csv>...",
		Short: "Import bank statement CSV files",
		Args:  cobra.MinimumNArgs(1),
		Example: `  receiptctl import chase-2025-03.csv
  receiptctl import --format generic export.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]core.StatementImport, 0, len(args))
			for _, path := range args {
				imp, err := importFile(cmd, s, path, format)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				results = append(results, imp)
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Statement format (detected from headers when empty)")
	return cmd
}

func importFile(cmd *cobra.Command, s *session, path, format string) (core.StatementImport, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.StatementImport{}, err
	}
	defer f.Close()
	return s.app.Imports.Import(cmd.Context(), filepath.Base(path), format, f)
}

func newPreviewCommand(s *session) *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "preview <statement.csv>",
		Short: "Show the first rows of a statement and the detected format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			preview, err := s.app.Imports.Preview(f, rows)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), preview)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", statement.DefaultPreviewRows, "Number of data rows to show")
	return cmd
}

type extractOutput struct {
	File    string            `json:"file"`
	Receipt core.Receipt      `json:"receipt"`
	Entry   *core.LedgerEntry `json:"entry,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func newExtractCommand(s *session) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "extract <receipt>...",
		Short: "Store receipt files and extract ledger entries from them",
		Long: `Store each receipt file and extract vendor, amount and date into a
ledger entry. Image and PDF files go through the configured extractors;
.txt files are parsed as receipt text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]extractOutput, len(args))
			var mu sync.Mutex
			failed := 0

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for i, path := range args {
				g.Go(func() error {
					res := extractOutput{File: path}
					defer func() { out[i] = res }()

					up, err := readReceipt(path)
					if err != nil {
						// One unreadable file must not cancel the others.
						res.Error = fmt.Sprintf("read %s: %v", path, err)
						mu.Lock()
						failed++
						mu.Unlock()
						return nil
					}
					rc, entry, err := s.app.Receipts.Submit(ctx, up, true)
					res.Receipt, res.Entry = rc, entry
					if err != nil {
						res.Error = err.Error()
						mu.Lock()
						failed++
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d receipts failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Receipts extracted in parallel")
	return cmd
}

func readReceipt(path string) (services.ReceiptUpload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.ReceiptUpload{}, err
	}
	if filepath.Ext(path) == ".txt" {
		return services.ReceiptUpload{Text: string(data)}, nil
	}
	return services.ReceiptUpload{FileName: filepath.Base(path), Data: data}, nil
}

// dateFlags binds --from and --to, both optional and YYYY-MM-DD.
type dateFlags struct {
	from, to string
}

func (d *dateFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&d.to, "to", "", "End date (YYYY-MM-DD)")
}

func (d *dateFlags) parse() (from, to core.Date, err error) {
	if d.from != "" {
		if from, err = core.ParseDate(d.from); err != nil {
			return from, to, fmt.Errorf("--from %q: %w", d.from, core.ErrInvalidDate)
		}
	}
	if d.to != "" {
		if to, err = core.ParseDate(d.to); err != nil {
			return from, to, fmt.Errorf("--to %q: %w", d.to, core.ErrInvalidDate)
		}
	}
	return from, to, nil
}

func newLedgerCommand(s *session) *cobra.Command {
	var dates dateFlags
	var summary bool

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List ledger entries or summarize them by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := dates.parse()
			if err != nil {
				return err
			}
			if summary {
				sum, err := s.app.Ledger.Summary(cmd.Context(), from.Time, to.Time)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			entries, err := s.app.Ledger.List(cmd.Context(), from.Time, to.Time)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}
	dates.bind(cmd)
	cmd.Flags().BoolVar(&summary, "summary", false, "Print totals by category instead of entries")
	return cmd
}

func newReconcileCommand(s *session) *cobra.Command {
	var dates dateFlags

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match ledger entries against imported bank transactions",
		Args:  cobra.NoArgs,
		Example: `  receiptctl reconcile
  receiptctl reconcile --from 2025-03-01 --to 2025-03-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := dates.parse()
			if err != nil {
				return err
			}
			run, err := s.app.Reconcile.Reconcile(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run)
		},
	}
	dates.bind(cmd)
	return cmd
}

func newRunsCommand(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored reconciliation runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				run, err := s.app.Reconcile.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), run)
			}
			runs, err := s.app.Reconcile.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
