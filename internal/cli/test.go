package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/armaturedev/armature/internal/harness"
)

// TestSummary is the JSON payload of the test command.
type TestSummary struct {
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []TestResult `json:"results"`
}

// TestResult is the outcome of one scenario.
type TestResult struct {
	Scenario string   `json:"scenario"`
	File     string   `json:"file"`
	Pass     bool     `json:"pass"`
	Errors   []string `json:"errors,omitempty"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <scenario.yaml | dir>",
		Short: "Run scenarios and report pass/fail",
		Long: `Run one scenario file, or every *.yaml scenario in a directory,
and report a pass/fail summary. Exits non-zero when any scenario
fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runTest(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files, err := collectScenarioFiles(path)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "test", err)
	}

	summary := TestSummary{Total: len(files)}
	for _, file := range files {
		result := runOneScenario(formatter, file)
		if result.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}

	if formatter.Format == "json" {
		status := "ok"
		if summary.Failed > 0 {
			status = "error"
		}
		if err := jsonEncoder(formatter).Encode(CLIResponse{Status: status, Data: summary}); err != nil {
			return err
		}
	} else {
		for _, r := range summary.Results {
			mark := "✓"
			if !r.Pass {
				mark = "✗"
			}
			fmt.Fprintf(formatter.Writer, "%s %s (%s)\n", mark, r.Scenario, r.File)
			for _, e := range r.Errors {
				fmt.Fprintf(formatter.Writer, "    %s\n", e)
			}
		}
		fmt.Fprintf(formatter.Writer, "\n%d scenario(s): %d passed, %d failed\n",
			summary.Total, summary.Passed, summary.Failed)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return nil
}

func runOneScenario(formatter *OutputFormatter, file string) TestResult {
	result := TestResult{Scenario: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		result.Errors = []string{err.Error()}
		return result
	}
	result.Scenario = scenario.Name

	formatter.VerboseLog("Running scenario: %s", scenario.Name)
	run, err := harness.Run(scenario)
	if err != nil {
		result.Errors = []string{err.Error()}
		return result
	}

	result.Pass = run.Pass
	result.Errors = run.Errors
	return result
}

// collectScenarioFiles resolves the argument to an ordered list of
// scenario files. Directories are scanned non-recursively for *.yaml.
func collectScenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", path)
	}
	sort.Strings(matches)
	return matches, nil
}
