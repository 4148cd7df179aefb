package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

func runPolicy(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: exposure policy <validate|default> [options]")
		return 2
	}
	switch args[0] {
	case "validate":
		return runPolicyValidate(args[1:], stdout, stderr)
	case "default":
		_, _ = stdout.Write(policy.DefaultYAML())
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown policy subcommand: %s\n", args[0])
		return 2
	}
}

func runPolicyValidate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "file", "", "Policy file (default: the embedded policy)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		p   *policy.Policy
		err error
	)
	if path == "" {
		p, err = policy.Default()
	} else {
		p, err = policy.Load(path)
	}

	result := map[string]any{"valid": err == nil}
	if err != nil {
		result["error"] = err.Error()
	} else {
		result["version"] = p.VersionString()
		result["jurisdictions"] = len(p.Jurisdictions)
		result["sectors"] = len(p.Sectors)
		result["custom_rules"] = len(p.CustomRules)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if err != nil {
		_, _ = fmt.Fprintf(stdout, "%s❌ %v%s\n", ColorRed, err, ColorReset)
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✅ policy %s: %d jurisdictions, %d sectors, %d custom rules%s\n",
			ColorGreen, p.VersionString(), len(p.Jurisdictions), len(p.Sectors), len(p.CustomRules), ColorReset)
	}
	if err != nil {
		return 1
	}
	return 0
}
