package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armaturedev/armature/internal/harness"
)

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print its trace",
		Long: `Run a scenario file against its entity definition and print the
resulting trace: every property write and the observable state after
it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runRun(opts *RootOptions, scenarioPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run", err)
	}

	formatter.VerboseLog("Running scenario: %s", scenario.Name)
	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run", err)
	}

	if formatter.Format == "json" {
		out := RunOutput{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Trace:    result.Trace,
			Errors:   result.Errors,
		}
		if err := jsonEncoder(formatter).Encode(CLIResponse{Status: "ok", Data: out}); err != nil {
			return err
		}
	} else {
		printTrace(formatter, scenario.Name, result)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func printTrace(formatter *OutputFormatter, name string, result *harness.Result) {
	fmt.Fprintf(formatter.Writer, "Scenario: %s\n\n", name)
	for _, ev := range result.Trace {
		switch ev.Type {
		case "set":
			fmt.Fprintf(formatter.Writer, "[%d] set %s = %s\n", ev.Seq, ev.Property, ev.Value)
		case "run_all":
			fmt.Fprintf(formatter.Writer, "[%d] run all rules\n", ev.Seq)
		case "state":
			if len(ev.Messages) == 0 {
				fmt.Fprintf(formatter.Writer, "      no messages, valid=%v\n", ev.Valid)
				continue
			}
			for _, m := range ev.Messages {
				fmt.Fprintf(formatter.Writer, "      %s %s: %s\n", m.Severity, m.Property, m.Text)
			}
			fmt.Fprintf(formatter.Writer, "      valid=%v\n", ev.Valid)
		}
	}
	fmt.Fprintln(formatter.Writer)
	if result.Pass {
		fmt.Fprintln(formatter.Writer, "✓ pass")
	} else {
		fmt.Fprintln(formatter.Writer, "✗ fail")
		for _, e := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", e)
		}
	}
}
