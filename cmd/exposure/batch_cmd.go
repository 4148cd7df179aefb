package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/batch"
)

type batchOutput struct {
	*batch.Report
	Records map[int]recorded `json:"records,omitempty"`
}

func runBatch(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("batch", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		suppliersPath string
		configPath    string
		failOn        string
		workers       int
		jsonOutput    bool
		withPack      bool
		archive       bool
	)
	cmd.StringVar(&suppliersPath, "suppliers", "", "Supplier file, YAML or JSON (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.StringVar(&failOn, "fail-on", "", "Exit 1 when any supplier is at or above this level")
	cmd.IntVar(&workers, "workers", 0, "Concurrent screenings (default from BATCH_WORKERS)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.BoolVar(&withPack, "evidence", false, "Export an evidence pack per assessment")
	cmd.BoolVar(&archive, "archive", false, "Archive every assessment in the configured store")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if suppliersPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --suppliers is required")
		return 2
	}
	threshold, err := parseFailOn(failOn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	suppliers, err := batch.LoadSuppliers(suppliersPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	r, err := a.resolver(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if workers <= 0 {
		workers = a.cfg.BatchWorkers
	}
	scanner := batch.NewScanner(r,
		batch.WithWorkers(workers),
		batch.WithObservability(a.obs),
		batch.WithLogger(a.logger),
	)

	report, scanErr := scanner.Scan(ctx, suppliers)
	out := batchOutput{Report: report}

	if (withPack || archive) && scanErr == nil {
		rec, err := a.recorder(ctx, withPack, archive, r.Snapshot())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out.Records = make(map[int]recorded)
		for _, res := range report.Results {
			if res.Assessment == nil {
				continue
			}
			got, err := rec.record(ctx, report.RunID, res.Supplier, res.Assessment)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %s: %v\n", res.Supplier.Label(), err)
				return 2
			}
			out.Records[res.Index] = got
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printReport(stdout, report)
	}

	if scanErr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: batch interrupted: %v\n", scanErr)
		return 2
	}
	if threshold != 0 && len(report.Flagged(threshold)) > 0 {
		return 1
	}
	return 0
}

func printReport(w io.Writer, r *batch.Report) {
	_, _ = fmt.Fprintf(w, "%sBatch %s%s  policy %s  list %s\n", ColorBold, r.RunID, ColorReset, r.PolicyVersion, orDash(r.ListVersion))
	_, _ = fmt.Fprintf(w, "  %d suppliers: %d screened, %d failed, %d skipped, %d unverified\n",
		r.Total, r.Screened, r.Failed, r.Skipped, r.Unverified)
	for level := screening.RiskCritical; level >= screening.RiskClear; level-- {
		if n := r.Counts[level]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s%-9s%s %4d  spend %.2f\n", levelColor(level.String()), level, ColorReset, n, r.Spend[level])
		}
	}
	_, _ = fmt.Fprintf(w, "  at-risk spend: %.2f\n", r.AtRiskSpend)

	flagged := r.Flagged(screening.RiskHigh)
	if len(flagged) > 0 {
		_, _ = fmt.Fprintln(w, "  Flagged:")
		for _, res := range flagged {
			_, _ = fmt.Fprintf(w, "    %s  %s (score %.0f)\n", res.Supplier.Label(), res.Assessment.OverallRisk, res.Assessment.RiskScore)
		}
	}
	errs := r.Errors()
	labels := make([]string, 0, len(errs))
	for label := range errs {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		_, _ = fmt.Fprintf(w, "  %sFAILED%s %s: %s\n", ColorRed, ColorReset, label, errs[label])
	}
}
