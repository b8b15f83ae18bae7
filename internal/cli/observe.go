package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	observeSession    string
	observeSource     string
	observeConfidence float64
	observeTargetKey  string
	ingestSession     string
)

var observeCmd = &cobra.Command{
	Use:   "observe [text]",
	Short: "Record an observation for triage",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runObserve,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [transcript.jsonl]",
	Short: "Extract observations from a JSONL conversation transcript",
	Long: "Reads a transcript on the server's filesystem and records each first-person statement the user " +
		"made (\"I prefer...\", \"my dad...\") as a pending observation.",
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	observeCmd.Flags().StringVarP(&observeSession, "session", "s", "", "session id")
	observeCmd.Flags().StringVar(&observeSource, "source", "cli", "observation source")
	observeCmd.Flags().Float64VarP(&observeConfidence, "confidence", "c", -1, "confidence in [0,1] (default: estimated from the text)")
	observeCmd.Flags().StringVarP(&observeTargetKey, "key", "k", "", "fact key to write on promotion")

	ingestCmd.Flags().StringVarP(&ingestSession, "session", "s", "", "session id (default: file name)")
}

func runObserve(cmd *cobra.Command, args []string) error {
	meta := map[string]any{}
	if observeConfidence >= 0 {
		meta["confidence"] = observeConfidence
	}
	if observeTargetKey != "" {
		meta["target_key"] = observeTargetKey
	}

	ctx, cancel := requestContext()
	defer cancel()
	id, err := apiClient().Observe(ctx, strings.Join(args, " "), observeSource, observeSession, meta)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded observation %d\n", id)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	res, err := apiClient().Ingest(ctx, path, ingestSession)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s turns read, %s observations recorded\n",
		humanize.Comma(int64(res.Turns)), humanize.Comma(int64(res.Statements)))
	return nil
}
