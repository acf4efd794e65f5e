package cli

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"

	"github.com/armaturedev/armature/internal/graph"
	"github.com/armaturedev/armature/internal/props"
	"github.com/armaturedev/armature/internal/schema"
	"github.com/armaturedev/armature/internal/store"
	"github.com/armaturedev/armature/internal/wire"
)

// ReplayOutput is the JSON payload of the replay command.
type ReplayOutput struct {
	Entity     string          `json:"entity"`
	Batches    int             `json:"batches"`
	Applied    int             `json:"applied"`
	Mismatches []wire.Mismatch `json:"mismatches,omitempty"`
	Messages   []props.Message `json:"messages"`
	Valid      bool            `json:"valid"`
}

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	SpecPath   string
	EntityPath string
	EntityName string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <journal.db>",
		Short: "Replay journaled message batches into a fresh entity",
		Long: `Rebuild an entity from its definition and replay every journaled
message batch for it, in sequence order. Reports what landed and what
could not be correlated.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpecPath, "spec", "", "CUE file holding the entity definition (required)")
	cmd.Flags().StringVar(&opts.EntityPath, "entity", "", `CUE path of the entity, e.g. "entity.Person" (required)`)
	cmd.Flags().StringVar(&opts.EntityName, "name", "", "journal entity name (defaults to the compiled entity name)")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

func runReplay(rootOpts *RootOptions, opts *ReplayOptions, dbPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	node, err := buildReplayEntity(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay", err)
	}

	if _, err := os.Stat(dbPath); err != nil {
		_ = formatter.Error(ErrCodeLoad, fmt.Sprintf("journal not found: %s", dbPath), nil)
		return WrapExitError(ExitCommandError, "replay", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay", err)
	}
	defer st.Close()

	entityName := opts.EntityName
	if entityName == "" {
		entityName = node.Name()
	}

	ctx := cmd.Context()
	batches, err := st.ReadBatches(ctx, entityName)
	if err != nil {
		_ = formatter.Error(ErrCodeReplay, err.Error(), nil)
		return WrapExitError(ExitCommandError, "replay", err)
	}
	formatter.VerboseLog("Replaying %d batch(es) for %s", len(batches), entityName)

	result, err := st.ReplayInto(ctx, node.Rules(), entityName)
	if err != nil {
		_ = formatter.Error(ErrCodeReplay, err.Error(), nil)
		return WrapExitError(ExitFailure, "replay", err)
	}

	out := ReplayOutput{
		Entity:     entityName,
		Batches:    len(batches),
		Applied:    result.Applied,
		Mismatches: result.Mismatches,
		Messages:   node.State().AllMessages(),
		Valid:      node.IsValid(),
	}

	if formatter.Format == "json" {
		return jsonEncoder(formatter).Encode(CLIResponse{Status: "ok", Data: out})
	}

	fmt.Fprintf(formatter.Writer, "Replayed %d batch(es) for %s: %d record(s) applied, %d mismatch(es)\n",
		out.Batches, out.Entity, out.Applied, len(out.Mismatches))
	for _, mm := range out.Mismatches {
		if mm.RuleKey != "" {
			fmt.Fprintf(formatter.Writer, "  dropped: key %s on %s: %s\n", mm.RuleKey, mm.Property, mm.Text)
		} else {
			fmt.Fprintf(formatter.Writer, "  dropped: index %d on %s: %s\n", mm.RuleIndex, mm.Property, mm.Text)
		}
	}
	for _, m := range out.Messages {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", m.Severity, m.Property, m.Text)
	}
	fmt.Fprintf(formatter.Writer, "valid=%v\n", out.Valid)
	return nil
}

func buildReplayEntity(opts *ReplayOptions) (*graph.Node, error) {
	src, err := os.ReadFile(opts.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	v := cuecontext.New().CompileBytes(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile spec: %w", err)
	}
	def, err := schema.Compile(v.LookupPath(cue.ParsePath(opts.EntityPath)))
	if err != nil {
		return nil, fmt.Errorf("compile entity %s: %w", opts.EntityPath, err)
	}
	return schema.Build(def, graph.UUIDv7Generator{})
}
