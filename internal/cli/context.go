package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/hippocampus/internal/assemble"
)

var (
	contextLevel  string
	contextBudget int
	contextJSON   bool
)

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Assemble the context block for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runContext,
}

func init() {
	contextCmd.Flags().StringVarP(&contextLevel, "level", "l", "L2", "verbosity level: L1, L2 or L3")
	contextCmd.Flags().IntVarP(&contextBudget, "budget", "b", 0, "token budget (0 = level default)")
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "print the full result as JSON")
}

func runContext(cmd *cobra.Command, args []string) error {
	level, err := assemble.ParseLevel(contextLevel)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	res, err := apiClient().Context(ctx, strings.Join(args, " "), level, contextBudget)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	out := cmd.OutOrStdout()
	if contextJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Text == "" {
		fmt.Fprintln(out, "(no relevant context)")
	} else {
		fmt.Fprintln(out, res.Text)
	}
	fmt.Fprintf(out, "\n-- %s, %d/%d tokens, %d facts", res.Level, res.Tokens, res.Budget, len(res.AccessedKeys))
	if res.Fallback {
		fmt.Fprint(out, ", keyword-only")
	}
	fmt.Fprintln(out)
	for _, t := range res.Threads {
		if t.Status != assemble.OutcomeIncluded && t.Status != assemble.OutcomeEmpty {
			fmt.Fprintf(out, "   %s: %s %s\n", t.ID, t.Status, t.Error)
		}
	}
	return nil
}
