package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

func newEnrollCmd(a *app) *cobra.Command {
	var planID, category string

	cmd := &cobra.Command{
		Use:   "enroll <item>...",
		Short: "Start tracking practice items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, itemID := range args {
				item, created, err := a.service.Enroll(cmd.Context(), review.EnrollRequest{
					LearnerID: learner,
					ItemID:    itemID,
					PlanID:    planID,
					Category:  category,
				})
				if err != nil {
					return fmt.Errorf("enroll %s: %w", itemID, err)
				}
				if created {
					fmt.Fprintf(out, "Enrolled %s (%s), first review %s\n", item.ItemID, item.Category, item.NextReviewDate)
				} else {
					fmt.Fprintf(out, "Already tracking %s, next review %s\n", item.ItemID, item.NextReviewDate)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planID, "plan", "", "study plan the items belong to")
	cmd.Flags().StringVar(&category, "category", "", "category (default: item ID prefix)")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tracked item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			items, err := a.service.ListItems(cmd.Context(), learner)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items tracked yet. Add one with 'drill enroll <item>'.")
				return nil
			}

			printItems(cmd, items, a.today())
			return nil
		},
	}
}

func printItems(cmd *cobra.Command, items []domain.ReviewItem, today domain.Date) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tCATEGORY\tSTATUS\tREP\tEASE\tINTERVAL\tNEXT REVIEW\tMASTERY")
	for _, item := range items {
		next := item.NextReviewDate.String()
		if overdue := item.DaysOverdue(today); overdue > 0 {
			next = fmt.Sprintf("%s (%dd overdue)", next, overdue)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%dd\t%s\t%d%%\n",
			item.ItemID, item.Category, item.Status(), item.Repetition,
			item.EaseFactor, item.IntervalDays, next, item.MasteryLevel)
	}
	w.Flush()
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <item>",
		Short: "Show past reviews of an item, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			logs, err := a.service.History(cmd.Context(), learner, args[0], limit)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has not been reviewed yet.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REVIEWED\tRATING\tINTERVAL\tEASE\tMASTERY\tTIME")
			for _, log := range logs {
				fmt.Fprintf(w, "%s\t%d %s\t%dd -> %dd\t%.2f\t%d%%\t%s\n",
					log.ReviewedAt.Local().Format("2006-01-02 15:04"),
					log.Rating, log.Rating,
					log.Before.IntervalDays, log.After.IntervalDays,
					log.After.EaseFactor, log.After.MasteryLevel, log.TimeSpent)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of reviews to show (0 for all)")
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <item>",
		Short: "Show when an item would be due again for each rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			outcomes, err := a.service.Preview(cmd.Context(), learner, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RATING\tINTERVAL\tNEXT REVIEW\tEASE\tMASTERY")
			for rating := domain.Rating(domain.MaxRating); int(rating) >= domain.MinRating; rating-- {
				item, ok := outcomes[rating]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%d %s\t%dd\t%s\t%.2f\t%d%%\n",
					rating, rating, item.IntervalDays, item.NextReviewDate, item.EaseFactor, item.MasteryLevel)
			}
			return w.Flush()
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <item>",
		Short: "Recompute an item's schedule from its review history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}

			item, err := a.service.Rebuild(cmd.Context(), learner, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s: repetition %d, interval %dd, next review %s\n",
				item.ItemID, item.Repetition, item.IntervalDays, item.NextReviewDate)
			return nil
		},
	}
}
