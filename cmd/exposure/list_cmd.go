package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/exposure/pkg/entitylist"
)

func runList(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: exposure list <verify|publish> [options]")
		_, _ = fmt.Fprintln(stderr, "")
		_, _ = fmt.Fprintln(stderr, "Subcommands:")
		_, _ = fmt.Fprintln(stderr, "  verify    Validate a list file and check its records hash")
		_, _ = fmt.Fprintln(stderr, "  publish   Seal a list file and publish it to the artifact store or SQLite")
		return 2
	}
	switch args[0] {
	case "verify":
		return runListVerify(args[1:], stdout, stderr)
	case "publish":
		return runListPublish(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown list subcommand: %s\n", args[0])
		return 2
	}
}

func runListVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		jsonOutput bool
	)
	cmd.StringVar(&path, "file", "", "Restricted list file, YAML or JSON (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if path == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	snap, err := entitylist.NewFileSource(path).Load(context.Background())
	result := map[string]any{"file": path, "valid": err == nil}
	if err != nil {
		result["error"] = err.Error()
	} else {
		result["version"] = snap.Version
		result["records"] = snap.Len()
		result["hash"] = snap.Hash
		result["sealed"] = snap.Hash != ""
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if err != nil {
		_, _ = fmt.Fprintf(stdout, "%s❌ %s: %v%s\n", ColorRed, path, err, ColorReset)
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✅ %s%s\n", ColorGreen, snap.Describe(), ColorReset)
		if snap.Hash == "" {
			_, _ = fmt.Fprintf(stdout, "   %snot sealed: run 'exposure list publish' to stamp a hash%s\n", ColorYellow, ColorReset)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func runListPublish(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list publish", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		to         string
		configPath string
	)
	cmd.StringVar(&path, "file", "", "Restricted list file, YAML or JSON (REQUIRED)")
	cmd.StringVar(&to, "to", "artifact", "Comma-separated targets: artifact, sqlite")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if path == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	snap, err := entitylist.NewFileSource(path).Load(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := snap.Seal(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	for _, target := range strings.Split(to, ",") {
		switch strings.TrimSpace(target) {
		case "artifact":
			s, err := a.artifacts(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			ref, err := entitylist.Publish(ctx, s, snap)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			_, _ = fmt.Fprintf(stdout, "artifact: %s\n", ref)
		case "sqlite":
			src, err := entitylist.OpenSQLite(ctx, a.cfg.SQLitePath, "")
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			err = src.Save(ctx, snap)
			_ = src.Close()
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			_, _ = fmt.Fprintf(stdout, "sqlite: %s version %s\n", a.cfg.SQLitePath, snap.Version)
		default:
			_, _ = fmt.Fprintf(stderr, "Error: unknown publish target %q\n", target)
			return 2
		}
	}
	_, _ = fmt.Fprintf(stdout, "records hash: %s\n", snap.Hash)
	return 0
}
