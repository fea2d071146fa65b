// Package main runs a plan of shell commands in batches, rolling back the
// failed batch and the plan's root rollback command on the first failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	parallelize "github.com/coupa-ops/cap-ext-parallelize"
	"github.com/coupa-ops/cap-ext-parallelize/internal/logging"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the parallelize command tree
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "parallelize",
		Short:        "Run commands in parallel batches with rollback",
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCmd(), newCheckCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			planFile, err := cmd.Flags().GetString("plan")
			if err != nil {
				return err
			}
			plan, err := loadPlan(planFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("batch-size") {
				if plan.BatchSize, err = cmd.Flags().GetInt("batch-size"); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("log-level") {
				level, err := cmd.Flags().GetString("log-level")
				if err != nil {
					return err
				}
				if err := plan.LogLevel.UnmarshalText([]byte(level)); err != nil {
					return fmt.Errorf("invalid log level %q: %w", level, err)
				}
			}
			if err := plan.Validate(); err != nil {
				return fmt.Errorf("invalid plan: %w", err)
			}

			lggr, err := logging.New(logging.DevelopmentConfig(plan.LogLevel))
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = lggr.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, lggr.Named("parallelize"), plan)
		},
	}
	cmd.Flags().String("plan", "plan.toml", "path to plan file")
	cmd.Flags().Int("batch-size", 0, "number of tasks per batch, overrides the plan")
	cmd.Flags().String("log-level", zapcore.InfoLevel.String(), "log level, overrides the plan")
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a plan and print its batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			planFile, err := cmd.Flags().GetString("plan")
			if err != nil {
				return err
			}
			plan, err := loadPlan(planFile)
			if err != nil {
				return err
			}
			if err := plan.Validate(); err != nil {
				return fmt.Errorf("invalid plan: %w", err)
			}
			return printBatches(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().String("plan", "plan.toml", "path to plan file")
	return cmd
}

func printBatches(w io.Writer, plan *Plan) error {
	batches, err := parallelize.Partition(plan.collection(zap.NewNop()).Units(), plan.BatchSize)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if _, err := fmt.Fprintf(w, "batch %d:", batch.Index+1); err != nil {
			return err
		}
		for _, u := range batch.Units {
			if _, err := fmt.Fprintf(w, " %s", u.Name); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, lggr *zap.Logger, plan *Plan) error {
	opts, release, err := plan.Options()
	if err != nil {
		return err
	}
	defer release()

	ctx = parallelize.WithRootJournal(ctx)
	plan.registerRootRollback(ctx, lggr)

	runner := parallelize.New(parallelize.ReplayRollbacker{},
		append(opts,
			parallelize.WithLogger(lggr),
			parallelize.WithMetrics(parallelize.NewMetricLabeler("cli")),
		)...)
	res, err := runner.Run(ctx, plan.collection(lggr))
	if err != nil {
		return err
	}
	lggr.Info("Plan finished", zap.Stringer("run_id", res.ID), zap.Int("tasks", len(res.Outcomes())))
	return nil
}
