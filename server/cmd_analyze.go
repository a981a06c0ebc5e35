package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		req     analysis.Request
		days    int
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run an AI analysis of one user's activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, logger, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.close() }()

			if err := a.connectStoreOnce(ctx); err != nil {
				return err
			}

			now := time.Now().UTC()
			if req.EndDate == "" {
				req.EndDate = now.Format(time.DateOnly)
			}
			if req.StartDate == "" {
				req.StartDate = now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly)
			}

			result, err := a.analysis.Analyze(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "user", "", "username to analyze (required)")
	cmd.Flags().StringVar((*string)(&req.AnalysisType), "type", string(analysis.TypeActivity), "analysis type: activity, keystroke, clipboard, screenshot")
	cmd.Flags().StringVar(&req.StartDate, "from", "", "start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&req.EndDate, "to", "", "end date (YYYY-MM-DD or RFC 3339, default today)")
	cmd.Flags().IntVar(&days, "days", 7, "window length when --from is not set")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func riskColor(level string) *color.Color {
	switch level {
	case analysis.RiskLow:
		return color.New(color.FgGreen, color.Bold)
	case analysis.RiskHigh:
		return color.New(color.FgRed, color.Bold)
	}
	return color.New(color.FgYellow, color.Bold)
}

func severityColor(s analysis.Severity) *color.Color {
	switch s {
	case analysis.SeveritySuccess:
		return color.New(color.FgGreen)
	case analysis.SeverityDanger:
		return color.New(color.FgRed)
	}
	return color.New(color.FgYellow)
}

func printResult(w io.Writer, r analysis.Result) {
	bold := color.New(color.Bold)

	fmt.Fprintln(w)
	bold.Fprintf(w, "  %s analysis for %s\n", r.AnalysisType, r.Username)
	fmt.Fprintf(w, "  %s to %s, generated %s\n", r.DateRangeStart, r.DateRangeEnd, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprint(w, "  Risk:  ")
	riskColor(r.RiskLevel).Fprintf(w, "%s (%d%%)\n", r.RiskLevel, r.RiskPercentage)
	if r.Degraded {
		color.New(color.FgYellow).Fprintln(w, "  The model response could not be parsed; showing the fallback result.")
	}

	fmt.Fprintln(w)
	bold.Fprintln(w, "  Findings")
	for _, f := range r.Findings {
		severityColor(f.Severity).Fprintf(w, "  [%s] ", f.Severity)
		fmt.Fprintf(w, "%s\n      %s\n", f.Title, f.Description)
	}

	fmt.Fprintln(w)
	bold.Fprintln(w, "  Recommendations")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
	fmt.Fprintln(w)
}
