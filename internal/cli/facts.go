package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	searchLimit int
	unprotect   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Rank stored facts against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var forgetCmd = &cobra.Command{
	Use:   "forget [profile] [key]",
	Short: "Delete a fact (protected facts cannot be deleted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := apiClient().Forget(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("forget: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %s/%s\n", args[0], args[1])
		return nil
	},
}

var protectCmd = &cobra.Command{
	Use:   "protect [profile] [key]",
	Short: "Protect a fact from deletion and decay",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := apiClient().Protect(ctx, args[0], args[1], !unprotect); err != nil {
			return fmt.Errorf("protect: %w", err)
		}
		state := "protected"
		if unprotect {
			state = "unprotected"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s\n", args[0], args[1], state)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LLM.AnthropicKey != "" {
			cfg.LLM.AnthropicKey = "redacted"
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
	protectCmd.Flags().BoolVar(&unprotect, "off", false, "clear the protected flag")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	results, err := apiClient().Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Key)
		text := r.Fact.Standard
		if text == "" {
			text = r.Fact.Brief
		}
		fmt.Fprintf(out, "   %s (weight %.2f)\n", ellipsize(text, 200), r.Fact.Weight)
	}
	return nil
}
