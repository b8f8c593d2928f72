package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"finboard/internal/core"
	"finboard/internal/dashboard"
	"finboard/internal/financeapi"
	"finboard/internal/storage"
)

type reportOptions struct {
	month       int
	monthSet    bool
	submissions int
	asJSON      bool
}

func newReportCommand(a *app) *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the dashboard for one month",
		Long: "Loads the finance API once and prints the figures, category totals and " +
			"transactions of a month. Falls back to the saved snapshot when the API is " +
			"unreachable and SNAPSHOT_DB_PATH is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.monthSet = cmd.Flags().Changed("month")
			return runReport(cmd.Context(), a, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.month, "month", 0, "month to report, 0 = January (default current month)")
	cmd.Flags().IntVar(&opts.submissions, "submissions", 10, "recent form submissions to list when a snapshot DB is configured")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the chart datasets and rows as JSON")

	return cmd
}

func runReport(ctx context.Context, a *app, out io.Writer, opts reportOptions) error {
	cfg, logger := a.cfg, a.logger
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	client, err := financeapi.New(cfg.FinanceAPIURL)
	if err != nil {
		return fmt.Errorf("finance API client: %w", err)
	}

	dopts := []dashboard.Option{dashboard.WithLocation(loc), dashboard.WithLogger(logger)}
	var store *storage.SnapshotStore
	if cfg.SnapshotDBPath != "" {
		store, err = storage.Open(cfg.SnapshotDBPath, logger)
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
		defer store.Close()
		dopts = append(dopts, dashboard.WithSnapshotStore(store))
	}
	dash := dashboard.New(client, dopts...)

	if opts.monthSet {
		if err := dash.SelectMonth(opts.month); err != nil {
			return err
		}
	}

	lctx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	loadErr := dash.Load(lctx)
	cancel()
	if loadErr != nil {
		if store == nil {
			return loadErr
		}
		ok, err := dash.Restore(ctx)
		if err != nil || !ok {
			return loadErr
		}
	}

	view := dash.View()
	if opts.asJSON {
		return writeReportJSON(out, view)
	}
	writeReport(out, view)

	if store != nil && opts.submissions > 0 {
		subs, err := store.RecentSubmissions(ctx, opts.submissions)
		if err != nil {
			return fmt.Errorf("recent submissions: %w", err)
		}
		writeSubmissions(out, subs)
	}
	return nil
}

func writeReport(out io.Writer, v dashboard.View) {
	fmt.Fprintf(out, "Finance report · %s\n", v.MonthName)
	if v.Notice != "" {
		fmt.Fprintf(out, "! %s\n", v.Notice)
	}
	if v.Source == dashboard.SourceSnapshot {
		fmt.Fprintln(out, "! showing the last saved snapshot")
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total income\t%s\n", v.Figures.Income)
	fmt.Fprintf(tw, "Total expenses\t%s\n", v.Figures.Expense)
	fmt.Fprintf(tw, "Balance\t%s\n", v.Figures.Balance)
	if v.Figures.FixedIncome != "" {
		fmt.Fprintf(tw, "Fixed income\t%s\n", v.Figures.FixedIncome)
	}
	if v.Figures.VariableIncome != "" {
		fmt.Fprintf(tw, "Variable income\t%s\n", v.Figures.VariableIncome)
	}
	_ = tw.Flush()

	fmt.Fprintln(out, "\nExpenses by category")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, s := range v.Categories {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", s.Label, s.Display, s.Color)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "Month total: %s\n", v.MonthTotal)

	fmt.Fprintln(out, "\nTransactions")
	if len(v.Rows) == 0 {
		fmt.Fprintln(out, "  none")
	} else {
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  TYPE\tAMOUNT\tCATEGORY\tDESCRIPTION")
		for _, r := range v.Rows {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.Type, r.Amount, r.Category, r.Description)
		}
		_ = tw.Flush()
	}

	if len(v.Budgets) > 0 {
		fmt.Fprintln(out, "\nBudgets")
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  CATEGORY\tLIMIT\tSPENT\tREMAINING")
		for _, b := range v.Budgets {
			mark := ""
			if b.Over {
				mark = "  over"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s%s\n", b.Category, b.Limit, b.Spent, b.Remaining, mark)
		}
		_ = tw.Flush()
	}
}

func writeSubmissions(out io.Writer, subs []core.Submission) {
	fmt.Fprintln(out, "\nRecent submissions")
	if len(subs) == 0 {
		fmt.Fprintln(out, "  none")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, s := range subs {
		status := "created"
		if !s.Created {
			status = "failed: " + s.Error
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			humanize.Time(s.SubmittedAt),
			s.Payload.Type,
			core.FormatRaw(float64(s.Payload.Amount)),
			s.Payload.Category,
			status)
	}
	_ = tw.Flush()
}

func writeReportJSON(out io.Writer, v dashboard.View) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Month     int               `json:"month"`
		MonthName string            `json:"month_name"`
		Source    dashboard.Source  `json:"source"`
		Notice    string            `json:"notice,omitempty"`
		Figures   dashboard.Figures `json:"figures"`
		Charts    dashboard.Charts  `json:"charts"`
		Rows      []dashboard.Row   `json:"rows"`
	}{
		Month:     v.Month,
		MonthName: v.MonthName,
		Source:    v.Source,
		Notice:    v.Notice,
		Figures:   v.Figures,
		Charts:    v.Charts(),
		Rows:      v.Rows,
	})
}
