package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/drill/internal/domain"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show review statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			stats, err := a.service.Stats(cmd.Context(), learner, a.today())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Review Statistics for %s\n", stats.LearnerID)
			fmt.Fprintln(out, "==========================")
			fmt.Fprintf(out, "Items:            %d (%d new, %d learning, %d reviewing)\n",
				stats.TotalItems, stats.New, stats.Learning, stats.Reviewing)
			fmt.Fprintf(out, "Due today:        %d (%d overdue)\n", stats.DueToday, stats.Overdue)
			fmt.Fprintf(out, "Average mastery:  %s %.0f%%\n",
				renderProgressBar(stats.AverageMastery/float64(domain.MaxMastery), 20), stats.AverageMastery)
			fmt.Fprintf(out, "Reviews:          %d (%d in the last 7 days)\n", stats.TotalReviews, stats.ReviewsLast7Days)
			fmt.Fprintf(out, "Average rating:   %.1f\n", stats.AverageRating)
			fmt.Fprintf(out, "Lapses:           %d\n", stats.Lapses)
			fmt.Fprintf(out, "Time spent:       %dm\n", stats.TimeSpentSecs/60)

			if len(stats.Categories) > 0 {
				fmt.Fprintln(out, "\nCategories")
				fmt.Fprintln(out, "----------")
				for _, c := range stats.Categories {
					fmt.Fprintf(out, "%-20s %s weakness %3d (%d items) %s\n",
						c.Category, renderProgressBar(float64(c.Weakness)/100, 20), c.Weakness, c.Items, c.Trend)
				}
			}
			return nil
		},
	}
}

func newWeaknessCmd(a *app) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "weakness",
		Short: "Show categories that need the most reinforcement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			var scores []domain.WeaknessScore
			if refresh {
				scores, err = a.service.RefreshWeakness(cmd.Context(), learner)
			} else {
				scores, err = a.service.Weakness(cmd.Context(), learner)
			}
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reviews recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tSCORE\tFAILURES\tATTEMPTS")
			for _, ws := range scores {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", ws.Category, ws.Score, ws.Failures, ws.Attempts)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute scores from the full review history")
	return cmd
}

func newLearnersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "learners",
		Short: "List learners with stored reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learners, err := a.handle.Learners(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range learners {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := min(max(int(value*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
