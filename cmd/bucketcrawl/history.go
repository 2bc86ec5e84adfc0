package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/database"
	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/report"
)

// NewHistoryCmd creates the history command.
// It reads the run history written by crawl and sync.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded crawl runs",
		Long: `History lists the crawl runs recorded in the run history database,
newest first.

Examples:
  # The last 20 runs
  bucketcrawl history

  # Runs that started at one prefix
  bucketcrawl history --prefix data/futures/

  # Full summary of one run
  bucketcrawl history show 3f0c9a1e-...

  # What changed between the latest two runs
  bucketcrawl history compare`,
		Args: cobra.NoArgs,
		RunE: runHistoryListCmd,
	}

	cmd.PersistentFlags().String("db-dir", "",
		"Directory of the run history database (default: XDG data directory)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs listed (0 lists all)")
	cmd.Flags().String("prefix", "", "Only list runs that started at this prefix")

	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryCompareCmd())

	return cmd
}

// openHistoryDB opens the existing run history. The database is created
// on demand so a first call lists nothing instead of failing.
func openHistoryDB(cmd *cobra.Command) (*database.RunDB, error) {
	dir := config.XDGDataDir()
	if v, err := cmd.Flags().GetString("db-dir"); err == nil && v != "" {
		dir = v
	}
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func runHistoryListCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return err
	}

	db, err := openHistoryDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	// Filtering by prefix happens after the query, so fetch everything then.
	queryLimit := limit
	if prefix != "" {
		queryLimit = 0
	}
	runs, err := db.ListRuns(cmd.Context(), queryLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if prefix != "" {
		runs = filterRuns(runs, prefix, limit)
	}

	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

// filterRuns keeps at most limit runs that started at prefix.
func filterRuns(runs []database.RunSummary, prefix string, limit int) []database.RunSummary {
	out := make([]database.RunSummary, 0, len(runs))
	for _, r := range runs {
		if r.StartPrefix != prefix {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// printRuns writes the run list as a fixed-width table.
func printRuns(w io.Writer, runs []database.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found in the database.")
		fmt.Fprintln(w, "\nUse 'bucketcrawl crawl' to record a run.")
		return
	}

	fmt.Fprintf(w, "Recorded runs (%d):\n\n", len(runs))
	fmt.Fprintf(w, "  %-36s  %-19s  %-15s  %8s  %6s  %8s  %s\n",
		"Run ID", "Started", "State", "Visited", "Failed", "Keys", "Prefix")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 120))
	for _, r := range runs {
		fmt.Fprintf(w, "  %-36s  %-19s  %-15s  %8d  %6d  %8d  %s\n",
			r.RunID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.State.String(),
			r.Visited,
			r.Failed,
			r.Keys,
			r.StartPrefix,
		)
	}
	fmt.Fprintln(w, "\nUse 'bucketcrawl history show <run-id>' for the full summary of a run.")
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the summary of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShowCmd,
	}
	addReportFlags(cmd)
	return cmd
}

func runHistoryShowCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openHistoryDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.GetRun(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return fmt.Errorf("run %s not found (use 'bucketcrawl history' to list runs)", args[0])
		}
		return err
	}

	return writeReport(cmd, cfg, func(w report.Writer) (int, error) {
		return w.WriteCrawl(result)
	})
}

func newHistoryCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [old-run-id new-run-id]",
		Short: "Compare two recorded runs",
		Long: `Compare shows how two runs differ: counts, and the prefixes that started
or stopped failing. Without arguments the latest two runs of --prefix
(default: any prefix) are compared.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 run IDs, received %d", len(args))
			}
			return nil
		},
		RunE: runHistoryCompareCmd,
	}
	cmd.Flags().String("prefix", "", "Compare the latest two runs of this start prefix")
	cmd.Flags().BoolP("json", "j", false, "Output the comparison as JSON")
	return cmd
}

func runHistoryCompareCmd(cmd *cobra.Command, args []string) error {
	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	db, err := openHistoryDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	oldID, newID, err := comparePair(ctx, db, args, prefix)
	if err != nil {
		return err
	}

	previous, err := db.GetRun(ctx, oldID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", oldID, err)
	}
	current, err := db.GetRun(ctx, newID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", newID, err)
	}

	result := compareRuns(previous, current)
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printComparison(cmd.OutOrStdout(), result)
	return nil
}

// comparePair resolves the runs to compare, oldest first.
func comparePair(ctx context.Context, db *database.RunDB, args []string, prefix string) (string, string, error) {
	if len(args) == 2 {
		return args[0], args[1], nil
	}

	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		return "", "", fmt.Errorf("failed to list runs: %w", err)
	}
	if prefix != "" {
		runs = filterRuns(runs, prefix, 2)
	}
	if len(runs) < 2 {
		return "", "", fmt.Errorf("at least 2 runs are required for comparison (found %d)", len(runs))
	}
	return runs[1].RunID, runs[0].RunID, nil
}

// RunComparison is the difference between two crawl runs.
type RunComparison struct {
	Previous RunMetadata `json:"previous"`
	Current  RunMetadata `json:"current"`

	// NewFailures failed in the current run but not in the previous one.
	NewFailures []string `json:"new_failures"`

	// ResolvedFailures failed in the previous run but not in the current one.
	ResolvedFailures []string `json:"resolved_failures"`
}

// RunMetadata holds the counts of one compared run.
type RunMetadata struct {
	RunID       string `json:"run_id"`
	StartPrefix string `json:"start_prefix"`
	State       string `json:"state"`
	Levels      int    `json:"levels"`
	Visited     int    `json:"visited"`
	Failed      int    `json:"failed"`
	Unvisited   int    `json:"unvisited"`
	Documents   int    `json:"documents"`
}

func runMetadata(r *model.CrawlResult) RunMetadata {
	docs := 0
	for _, paths := range r.MirrorPaths {
		docs += len(paths)
	}
	return RunMetadata{
		RunID:       r.RunID,
		StartPrefix: r.StartPrefix,
		State:       r.State.String(),
		Levels:      len(r.Levels),
		Visited:     r.Visited,
		Failed:      r.Failed,
		Unvisited:   len(r.Unvisited),
		Documents:   docs,
	}
}

// compareRuns diffs the failed crawl prefixes of two runs.
func compareRuns(previous, current *model.CrawlResult) *RunComparison {
	before := failedSubjects(previous)
	after := failedSubjects(current)

	c := &RunComparison{
		Previous:         runMetadata(previous),
		Current:          runMetadata(current),
		NewFailures:      make([]string, 0),
		ResolvedFailures: make([]string, 0),
	}
	for s := range after {
		if _, ok := before[s]; !ok {
			c.NewFailures = append(c.NewFailures, s)
		}
	}
	for s := range before {
		if _, ok := after[s]; !ok {
			c.ResolvedFailures = append(c.ResolvedFailures, s)
		}
	}
	sort.Strings(c.NewFailures)
	sort.Strings(c.ResolvedFailures)
	return c
}

func failedSubjects(r *model.CrawlResult) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range r.Failures {
		switch f.Kind {
		case model.FailureFetch, model.FailureParse, model.FailureIO:
			out[f.Subject] = struct{}{}
		}
	}
	return out
}

// printComparison writes the comparison in human-readable form.
func printComparison(w io.Writer, c *RunComparison) {
	fmt.Fprintf(w, "Comparing %s -> %s\n\n", c.Previous.RunID, c.Current.RunID)
	fmt.Fprintf(w, "  %-12s %15s %15s %8s\n", "", "Previous", "Current", "Delta")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 54))
	fmt.Fprintf(w, "  %-12s %15s %15s\n", "State", c.Previous.State, c.Current.State)
	rows := []struct {
		name      string
		prev, cur int
	}{
		{"Levels", c.Previous.Levels, c.Current.Levels},
		{"Visited", c.Previous.Visited, c.Current.Visited},
		{"Failed", c.Previous.Failed, c.Current.Failed},
		{"Unvisited", c.Previous.Unvisited, c.Current.Unvisited},
		{"Documents", c.Previous.Documents, c.Current.Documents},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-12s %15d %15d %8s\n", r.name, r.prev, r.cur, formatDelta(r.cur-r.prev))
	}

	printSubjects(w, "New failures", c.NewFailures)
	printSubjects(w, "Resolved failures", c.ResolvedFailures)
}

func printSubjects(w io.Writer, title string, subjects []string) {
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(subjects))
	for _, s := range subjects {
		fmt.Fprintf(w, "  • %s\n", s)
	}
}

// formatDelta formats a count change with an explicit sign.
func formatDelta(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d", delta)
	}
	return fmt.Sprintf("%d", delta)
}
