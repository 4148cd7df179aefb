package detect

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/exposure/pkg/screening"
	"github.com/Mindburn-Labs/exposure/pkg/screening/policy"
)

// celEnv declares the variables a custom rule can read.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("normalized", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("direct_matches", cel.IntType),
		cel.Variable("ownership_matches", cel.IntType),
		cel.Variable("sibling_matches", cel.IntType),
		cel.Variable("matched_names", cel.ListType(cel.StringType)),
	)
}

// NewCELRule compiles a policy custom rule. The expression must be boolean;
// when it evaluates true the rule emits one finding.
func NewCELRule(cr policy.CustomRule) (Rule, error) {
	env, err := celEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(cr.Expression)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("custom rule %q: compile: %w", cr.ID, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Rule{}, fmt.Errorf("custom rule %q: expression must be boolean, got %s", cr.ID, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return Rule{}, fmt.Errorf("custom rule %q: program: %w", cr.ID, err)
	}

	description := cr.Description
	if description == "" {
		description = "Custom rule " + cr.ID
	}
	source := "custom:" + cr.ID
	// Evaluation failures are reported under the rule's own category. They
	// are rule defects, not missing data, and must not read as advisories.
	failCategory := cr.Category
	if failCategory == screening.CategoryDataAvailability {
		failCategory = screening.CategoryRegulatory
	}

	return Rule{
		Name:        source,
		Description: description,
		Category:    cr.Category,
		Evaluate: func(in Input) []screening.Finding {
			out, _, err := prg.Eval(celActivation(in))
			if err != nil {
				return []screening.Finding{{
					Severity:    screening.SeverityInfo,
					Category:    failCategory,
					Description: fmt.Sprintf("Custom rule %s could not be evaluated", cr.ID),
					Evidence:    []string{err.Error()},
					Confidence:  1,
					Source:      source,
				}}
			}
			if fired, ok := out.Value().(bool); !ok || !fired {
				return nil
			}
			return []screening.Finding{{
				Severity:    cr.Severity,
				Category:    cr.Category,
				Description: description,
				Evidence:    []string{fmt.Sprintf("expression %q evaluated true", cr.Expression)},
				Confidence:  1,
				Source:      source,
			}}
		},
	}, nil
}

func celActivation(in Input) map[string]any {
	var direct, ownership, sibling int64
	names := make([]string, 0, len(in.Entities))
	for _, e := range in.Entities {
		switch {
		case e.MatchType.IsDirect():
			direct++
		case e.MatchType.IsOwnership():
			ownership++
		case e.MatchType == screening.MatchInferred:
			sibling++
		}
		names = append(names, e.MatchedName)
	}
	return map[string]any{
		"name":              in.Query,
		"normalized":        in.Normalized,
		"location":          in.Location,
		"direct_matches":    direct,
		"ownership_matches": ownership,
		"sibling_matches":   sibling,
		"matched_names":     names,
	}
}
