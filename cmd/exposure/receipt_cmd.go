package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/exposure/pkg/evidence"
)

func runReceipt(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "verify" {
		_, _ = fmt.Fprintln(stderr, "Usage: exposure receipt verify --receipt <jwt> [--pack <ref>] [--json]")
		return 2
	}

	cmd := flag.NewFlagSet("receipt verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receipt    string
		packRef    string
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&receipt, "receipt", "", "Signed receipt (REQUIRED)")
	cmd.StringVar(&packRef, "pack", "", "Evidence pack reference; loads and verifies the pack it names")
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	receipt = strings.TrimSpace(receipt)
	if receipt == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt is required")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	signer, err := a.signer()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if signer == nil {
		_, _ = fmt.Fprintln(stderr, "Error: RECEIPT_SEED is not set")
		return 2
	}

	claims, verr := verifyReceipt(ctx, a, signer, receipt, packRef)

	result := map[string]any{"valid": verr == nil, "key_id": signer.KeyID()}
	if verr != nil {
		result["error"] = verr.Error()
	} else {
		result["claims"] = claims
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if verr != nil {
		_, _ = fmt.Fprintf(stdout, "%s❌ receipt rejected: %v%s\n", ColorRed, verr, ColorReset)
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✅ receipt valid%s  %s %s (score %.0f, confidence %.2f)\n",
			ColorGreen, ColorReset, claims.Supplier, claims.RiskLevel, claims.RiskScore, claims.Confidence)
		_, _ = fmt.Fprintf(stdout, "   pack %s  list %s  policy %s\n", claims.PackHash, orDash(claims.ListVersion), claims.PolicyVersion)
	}
	if verr != nil {
		return 1
	}
	return 0
}

func verifyReceipt(ctx context.Context, a *app, signer *evidence.ReceiptSigner, receipt, packRef string) (*evidence.ReceiptClaims, error) {
	if packRef == "" {
		return signer.Verify(receipt)
	}
	s, err := a.artifacts(ctx)
	if err != nil {
		return nil, err
	}
	pack, err := evidence.Load(ctx, s, packRef)
	if err != nil {
		return nil, err
	}
	return signer.VerifyPack(receipt, pack)
}
