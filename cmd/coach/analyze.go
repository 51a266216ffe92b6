package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/notation"
)

func Analyze() *cobra.Command {
	var (
		fen   string
		depth int
		lines int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyzes a position and prints the principal variations",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if depth <= 0 {
				depth = rt.cfg.AnalysisDepth
			}
			if lines <= 0 {
				lines = rt.cfg.AnalysisLines
			}

			lease, err := rt.pool.Acquire(ctx, rt.engineOptions(lines))
			if err != nil {
				return err
			}
			a, err := analysis.NewAnalyzer(lease.Session(), notation.NewChessOracle(),
				analysis.Config{Depth: depth, Lines: lines}, rt.analyzerOptions()...)
			if err != nil {
				lease.Return(err)
				return err
			}

			snap, err := runAnalysis(cmd, a, fen)
			a.Close()
			lease.Return(err)
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&fen, "fen", notation.StartPosition, "position to analyze")
	cmd.Flags().IntVar(&depth, "depth", 0, "search depth (default from config)")
	cmd.Flags().IntVar(&lines, "lines", 0, "number of lines (default from config)")
	return cmd
}

// runAnalysis blocks until the analysis settles or the command is canceled.
func runAnalysis(cmd *cobra.Command, a *analysis.Analyzer, fen string) (analysis.Snapshot, error) {
	ctx := cmd.Context()
	if _, err := a.Analyze(ctx, fen); err != nil {
		return analysis.Snapshot{}, err
	}
	updates := a.Updates()
	for {
		snap := a.Snapshot()
		switch snap.State {
		case analysis.StateStable:
			return snap, nil
		case analysis.StateFailed:
			return snap, snap.Err
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return a.Snapshot(), analysis.ErrClosed
			}
		}
	}
}

func printSnapshot(cmd *cobra.Command, snap analysis.Snapshot) {
	out := cmd.OutOrStdout()
	src := "engine"
	if snap.Cached {
		src = "cache"
	}
	fmt.Fprintf(out, "eval %s  depth %d  best %s  (%s)\n", snap.Eval, snap.Depth, snap.BestMoveSAN, src)
	for _, l := range snap.Lines {
		if len(l.Moves) == 0 {
			continue
		}
		fmt.Fprintf(out, "%2d. %-7s d%-3d %s\n", l.Rank, l.Eval, l.Depth, strings.Join(l.Moves, " "))
	}
}
