package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/hippocampus/internal/consolidate"
	"github.com/lazypower/hippocampus/internal/store"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show thread health, counts and background jobs",
	RunE:  runHealth,
}

var consolidateCmd = &cobra.Command{
	Use:       "consolidate [job]",
	Short:     "Run background jobs now (default: consolidate then promote)",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: consolidate.Jobs,
	RunE:      runConsolidate,
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext()
	defer cancel()
	c := apiClient()
	out := cmd.OutOrStdout()

	health, err := c.ThreadHealth(ctx)
	if err != nil {
		return fmt.Errorf("thread health: %w", err)
	}
	st, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	jobs, err := c.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("jobs: %w", err)
	}

	ids := make([]string, 0, len(health))
	for id := range health {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tSTATUS\tFACTS")
	for _, id := range ids {
		h := health[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, h.Status, humanize.Comma(int64(h.Facts)))
	}
	tw.Flush()

	fmt.Fprintf(out, "\nfacts: %s  concepts: %s  links: %s  summaries: %d\n",
		humanize.Comma(int64(st.Facts)), humanize.Comma(int64(st.Concepts)),
		humanize.Comma(int64(st.Links)), st.Summaries)
	fmt.Fprint(out, "observations:")
	for _, s := range []store.Status{store.StatusPending, store.StatusPendingReview, store.StatusApproved,
		store.StatusRejected, store.StatusConsolidated} {
		fmt.Fprintf(out, " %s=%d", s, st.Observations[s])
	}
	fmt.Fprintln(out)
	if !st.EmbedderEnabled {
		fmt.Fprintln(out, "embeddings: disabled (keyword-only scoring)")
	}
	if st.AccessDropped > 0 {
		fmt.Fprintf(out, "access updates dropped: %s\n", humanize.Comma(st.AccessDropped))
	}

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tEVERY\tRUNS\tFAILS\tLAST RUN\tLAST ERROR")
	for _, j := range jobs {
		every := "off"
		if j.Enabled {
			every = j.Interval.String()
		}
		last := "never"
		if !j.LastRun.IsZero() {
			last = humanize.Time(j.LastRun) + " (" + j.LastDuration.Round(time.Millisecond).String() + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", j.Name, every, j.Runs, j.Failures, last, ellipsize(j.LastError, 40))
	}
	return tw.Flush()
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	names := []string{consolidate.JobConsolidate, consolidate.JobPromote}
	if len(args) == 1 {
		names = args
	}
	ctx, cancel := requestContext()
	defer cancel()
	c := apiClient()
	for _, name := range names {
		st, err := c.RunJob(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: done in %s\n", name, st.LastDuration.Round(time.Millisecond))
	}
	return nil
}
