package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/resolve"
)

type screenOutput struct {
	Assessment *screening.RiskAssessment `json:"assessment"`
	recorded
}

func runScreen(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("screen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		name       string
		location   string
		configPath string
		failOn     string
		jsonOutput bool
		withPack   bool
		archive    bool
	)
	cmd.StringVar(&name, "name", "", "Entity name to screen (REQUIRED)")
	cmd.StringVar(&location, "location", "", "Entity location, checked against restricted jurisdictions")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.StringVar(&failOn, "fail-on", "", "Exit 1 when the risk level is at or above this level")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.BoolVar(&withPack, "evidence", false, "Export an evidence pack (and a receipt when RECEIPT_SEED is set)")
	cmd.BoolVar(&archive, "archive", false, "Archive the assessment in the configured store")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if name == "" && cmd.NArg() > 0 {
		name = strings.Join(cmd.Args(), " ")
	}
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --name is required")
		return 2
	}
	threshold, err := parseFailOn(failOn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
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
	assessment, err := r.ResolveEntity(ctx, resolve.Request{Name: name, Location: location})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out := screenOutput{Assessment: assessment}
	if withPack || archive {
		rec, err := a.recorder(ctx, withPack, archive, r.Snapshot())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		sup := screening.Supplier{OriginalName: name, Location: location}
		if out.recorded, err = rec.record(ctx, "", sup, assessment); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printAssessment(stdout, assessment)
		printRecorded(stdout, out.recorded)
	}

	if threshold != 0 && assessment.OverallRisk >= threshold {
		return 1
	}
	return 0
}

func parseFailOn(s string) (screening.RiskLevel, error) {
	if s == "" {
		return 0, nil
	}
	return screening.ParseRiskLevel(strings.ToUpper(s))
}

func printAssessment(w io.Writer, a *screening.RiskAssessment) {
	level := a.OverallRisk.String()
	_, _ = fmt.Fprintf(w, "%s%s%s  %s%s%s\n", ColorBold, a.EntityName, ColorReset, levelColor(level), level, ColorReset)
	_, _ = fmt.Fprintf(w, "  score %.0f  confidence %.2f  policy %s  list %s\n",
		a.RiskScore, a.Confidence, a.PolicyVersion, orDash(a.ListVersion))
	if !a.Verified() {
		_, _ = fmt.Fprintf(w, "  %sUNVERIFIED%s\n", ColorYellow, ColorReset)
		for _, d := range a.DataAvailability {
			_, _ = fmt.Fprintf(w, "    - %s\n", d)
		}
	}
	if len(a.RiskFactors) > 0 {
		_, _ = fmt.Fprintln(w, "  Findings:")
		for _, f := range a.RiskFactors {
			_, _ = fmt.Fprintf(w, "    [%s] %s: %s\n", f.Severity, f.Category, f.Description)
		}
	}
	if len(a.Recommendations) > 0 {
		_, _ = fmt.Fprintln(w, "  Recommendations:")
		for _, rec := range a.Recommendations {
			_, _ = fmt.Fprintf(w, "    (%s) %s, %s\n", rec.Priority, rec.Action, rec.Timeline)
		}
	}
}

func printRecorded(w io.Writer, r recorded) {
	if r.PackRef != "" {
		_, _ = fmt.Fprintf(w, "  evidence pack: %s\n", r.PackRef)
	}
	if r.Receipt != "" {
		_, _ = fmt.Fprintf(w, "  receipt: %s\n", r.Receipt)
	}
	if r.Record != "" {
		_, _ = fmt.Fprintf(w, "  archived as: %s\n", r.Record)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
