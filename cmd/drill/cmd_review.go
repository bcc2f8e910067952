package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

func newReviewCmd(a *app) *cobra.Command {
	var (
		timeSpent  time.Duration
		autoEnroll bool
		category   string
	)

	cmd := &cobra.Command{
		Use:   "review <item> <rating>",
		Short: "Record a 0-5 review of an item",
		Long: `Record a review and reschedule the item.

Ratings below 3 count as failures and restart the item tomorrow.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: rating %q is not a number", domain.ErrInvalidRating, args[1])
			}
			if timeSpent < 0 {
				return fmt.Errorf("%w: --time must not be negative", domain.ErrInvalidInput)
			}

			result, err := a.service.Record(cmd.Context(), review.RecordRequest{
				LearnerID:  learner,
				ItemID:     args[0],
				Rating:     rating,
				TimeSpent:  timeSpent,
				AutoEnroll: autoEnroll,
				Category:   category,
			})
			if err != nil {
				return err
			}

			item := result.Item
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d (%s) for %s. Next review in %d day(s) on %s.\n",
				result.Log.Rating, result.Log.Rating, item.ItemID, item.IntervalDays, item.NextReviewDate)
			if result.From != result.To {
				fmt.Fprintf(cmd.OutOrStdout(), "Status: %s -> %s\n", result.From, result.To)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeSpent, "time", "t", 0, "time spent on the item, e.g. 12m")
	cmd.Flags().BoolVar(&autoEnroll, "enroll", false, "enroll the item if it is not tracked yet")
	cmd.Flags().StringVar(&category, "category", "", "category when enrolling (default: item ID prefix)")
	return cmd
}

func newDueCmd(a *app) *cobra.Command {
	var (
		date  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "due",
		Short: "Show items due for review, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			today := a.today()
			if date != "" {
				if today, err = domain.ParseDate(date); err != nil {
					return fmt.Errorf("%w: --date %q", domain.ErrInvalidInput, date)
				}
			}

			items, err := a.service.DailyQueue(cmd.Context(), learner, today, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintf(out, "Nothing due on %s.\n", today)
				return nil
			}

			fmt.Fprintf(out, "%d item(s) due on %s:\n\n", len(items), today)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tITEM\tCATEGORY\tOVERDUE\tMASTERY\tLAST RATING")
			for i, item := range items {
				last := "-"
				if item.LastRating != nil {
					last = item.LastRating.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%dd\t%d%%\t%s\n",
					i+1, item.ItemID, item.Category, item.DaysOverdue(today), item.MasteryLevel, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to plan for as YYYY-MM-DD (default: today)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of items (default: daily capacity)")
	return cmd
}
