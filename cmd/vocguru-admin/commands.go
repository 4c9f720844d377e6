package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reprocessLimit int

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Synthesize feedback that was stored but never processed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, e *env) error {
			res, err := e.pipeline.Reprocess(ctx, reprocessLimit)
			if err != nil && res.Processed+res.Errors == 0 {
				return err
			}
			if jsonOut {
				return errors.Join(err, printJSON(res))
			}
			fmt.Printf("processed: %d\nerrors:    %d\n", res.Processed, res.Errors)
			return err
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source-id> <target-id>",
	Short: "Merge one feature into another",
	Long: "Moves every feedback link from the source feature to the target, " +
		"recomputes the target's aggregates and declines the source.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := parseID(args[0])
		if err != nil {
			return err
		}
		tgt, err := parseID(args[1])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env) error {
			target, err := e.pipeline.Merge(ctx, src, tgt)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(target)
			}
			fmt.Printf("merged %s into %s (%q)\n", src, target.ID, target.Title)
			fmt.Printf("feedback: %d  arr: %.2f  weight: %.2f\n", target.FeedbackCount, target.TotalARR, target.TotalWeight)
			return nil
		})
	},
}

var similarThreshold float64

var similarCmd = &cobra.Command{
	Use:   "similar <feature-id>",
	Short: "List features that look like duplicates of a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env) error {
			threshold := similarThreshold
			if threshold <= 0 {
				threshold = e.pipeline.Config().SimilarThreshold
			}
			similar, err := e.pipeline.SimilarFeatures(ctx, id, threshold)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(similar)
			}
			if len(similar) == 0 {
				fmt.Printf("no features closer than %s\n", strconv.FormatFloat(threshold, 'f', -1, 64))
				return nil
			}
			for _, s := range similar {
				fmt.Printf("%s  %.3f  %-10s %s\n", s.ID, s.Similarity, s.Status, s.Title)
			}
			return nil
		})
	},
}

var recalcCmd = &cobra.Command{
	Use:   "recalc <feature-id>",
	Short: "Recompute a feature's aggregates from its linked feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, e *env) error {
			f, err := e.pipeline.Recalculate(ctx, id)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(f)
			}
			fmt.Printf("%s  feedback: %d  arr: %.2f  weight: %.2f\n", f.ID, f.FeedbackCount, f.TotalARR, f.TotalWeight)
			return nil
		})
	},
}

func init() {
	reprocessCmd.Flags().IntVar(&reprocessLimit, "limit", 0, "Maximum items to process (default: reprocess_batch_size)")
	similarCmd.Flags().Float64Var(&similarThreshold, "threshold", 0, "Maximum cosine distance (default: similar_threshold)")
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid feature id %q: %w", raw, err)
	}
	return id, nil
}
