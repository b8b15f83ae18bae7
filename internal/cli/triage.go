package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	triageStatuses []string
	triageLimit    int
	rejectReason   string
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Review pending observations",
}

var triageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observations (default: pending and pending_review)",
	RunE:  runTriageList,
}

var triageApproveCmd = &cobra.Command{
	Use:   "approve [id...]",
	Short: "Approve observations for the next promotion run",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTriageApprove,
}

var triageRejectCmd = &cobra.Command{
	Use:   "reject [id...]",
	Short: "Reject observations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTriageReject,
}

var triagePromoteCmd = &cobra.Command{
	Use:   "promote [id...]",
	Short: "Approve and promote observations into facts now",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTriagePromote,
}

func init() {
	triageListCmd.Flags().StringSliceVar(&triageStatuses, "status", nil, "statuses to list")
	triageListCmd.Flags().IntVarP(&triageLimit, "limit", "n", 50, "max observations")
	triageRejectCmd.Flags().StringVarP(&rejectReason, "reason", "r", "", "rejection reason")

	triageCmd.AddCommand(triageListCmd)
	triageCmd.AddCommand(triageApproveCmd)
	triageCmd.AddCommand(triageRejectCmd)
	triageCmd.AddCommand(triagePromoteCmd)
}

func runTriageList(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	obs, err := apiClient().Observations(ctx, triageLimit, triageStatuses...)
	if err != nil {
		return fmt.Errorf("list observations: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(obs) == 0 {
		fmt.Fprintln(out, "No observations.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCONF\tSCORE\tAGE\tTEXT")
	for _, o := range obs {
		score := "-"
		if o.Score != nil {
			score = strconv.FormatFloat(*o.Score, 'f', 2, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%s\t%s\n", o.ID, o.Status, o.Confidence, score,
			humanize.Time(time.UnixMilli(o.CreatedAt)), ellipsize(o.Text, 60))
	}
	return tw.Flush()
}

func runTriageApprove(cmd *cobra.Command, args []string) error {
	return eachID(args, func(id int64) error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := apiClient().Approve(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d approved\n", id)
		return nil
	})
}

func runTriageReject(cmd *cobra.Command, args []string) error {
	return eachID(args, func(id int64) error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := apiClient().Reject(ctx, id, rejectReason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rejected\n", id)
		return nil
	})
}

func runTriagePromote(cmd *cobra.Command, args []string) error {
	return eachID(args, func(id int64) error {
		ctx, cancel := requestContext()
		defer cancel()
		f, err := apiClient().Promote(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%d discarded (score too low)\n", id)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d -> %s (weight %.1f)\n", id, f.Key, f.Weight)
		return nil
	})
}

// eachID runs fn for every numeric argument and reports the first failure
// after trying them all.
func eachID(args []string, fn func(id int64) error) error {
	var firstErr error
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err == nil {
			err = fn(id)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", a, err)
		}
	}
	return firstErr
}
