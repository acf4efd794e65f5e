package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"

	"github.com/armaturedev/armature/internal/graph"
	"github.com/armaturedev/armature/internal/schema"
)

// ValidationIssue is one problem found in an entity definition.
type ValidationIssue struct {
	Entity  string `json:"entity"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Entities []string          `json:"entities,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <spec.cue>",
		Short: "Validate entity definitions",
		Long: `Validate CUE entity definitions without running anything.

Compiles every entity under the "entity" path and builds its rule set,
so type errors, unknown rule kinds, bad bounds, and duplicate tags all
surface here.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	entities, issues, err := validateSpecFile(specPath, formatter)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "validate", err)
	}

	if len(issues) > 0 {
		return outputValidationIssues(formatter, entities, issues)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Entities: entities})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d entity definition(s) valid\n", len(entities))
	return nil
}

// validateSpecFile compiles every entity in the file. The returned
// error covers file-level problems; per-entity problems land in
// issues.
func validateSpecFile(specPath string, formatter *OutputFormatter) ([]string, []ValidationIssue, error) {
	src, err := os.ReadFile(specPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read spec: %w", err)
	}

	root := cuecontext.New().CompileBytes(src)
	if err := root.Err(); err != nil {
		return nil, nil, fmt.Errorf("compile spec: %w", err)
	}

	entitiesVal := root.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, nil, fmt.Errorf("no entity definitions found in %s", specPath)
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, nil, err
	}

	var entities []string
	var issues []ValidationIssue
	for iter.Next() {
		name := iter.Label()
		entities = append(entities, name)
		formatter.VerboseLog("Validating entity: %s", name)

		def, err := schema.Compile(iter.Value())
		if err != nil {
			issues = append(issues, toIssue(name, err))
			continue
		}
		// Build catches what Compile alone cannot: bad severities,
		// duplicate tags.
		if _, err := schema.Build(def, graph.UUIDv7Generator{}); err != nil {
			issues = append(issues, toIssue(name, err))
		}
	}

	if len(entities) == 0 {
		return nil, nil, fmt.Errorf("no entity definitions found in %s", specPath)
	}
	return entities, issues, nil
}

func toIssue(entity string, err error) ValidationIssue {
	issue := ValidationIssue{Entity: entity, Message: err.Error()}
	var cerr *schema.CompileError
	if errors.As(err, &cerr) && cerr.Pos.IsValid() {
		issue.Line = cerr.Pos.Line()
	}
	return issue
}

func outputValidationIssues(formatter *OutputFormatter, entities []string, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Entities: entities, Errors: issues},
			Error: &CLIError{
				Code:    ErrCodeGeneric,
				Message: issues[0].Message,
			},
		}
		enc := jsonEncoder(formatter)
		if err := enc.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s (line %d)\n", issue.Entity, issue.Line)
		} else {
			fmt.Fprintf(formatter.Writer, "%s\n", issue.Entity)
		}
		fmt.Fprintf(formatter.Writer, "  %s\n\n", issue.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
