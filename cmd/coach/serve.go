package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/drill"
	"github.com/park285/cheese-coach/internal/feed"
	"github.com/park285/cheese-coach/internal/obslog"
)

func Serve() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves live analysis and drill verdicts over WebSocket",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.cfg.FeedAddr
			}
			drillCfg := drill.ConfigFromTuning(rt.cfg.Drill)
			if err := drillCfg.Validate(); err != nil {
				return err
			}
			srv := feed.NewServer(analyzerFactory(rt),
				feed.WithLogger(obslog.Named("feed")),
				feed.WithDrill(drillCfg))
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// analyzerFactory gives every connection its own pooled engine session.
func analyzerFactory(rt *app) feed.AnalyzerFactory {
	oracle := notation.NewChessOracle()
	acfg := analysis.Config{Depth: rt.cfg.AnalysisDepth, Lines: rt.cfg.AnalysisLines}
	return func(ctx context.Context) (*analysis.Analyzer, func(), error) {
		lease, err := rt.pool.Acquire(ctx, rt.engineOptions(acfg.Lines))
		if err != nil {
			return nil, nil, err
		}
		a, err := analysis.NewAnalyzer(lease.Session(), oracle, acfg, rt.analyzerOptions()...)
		if err != nil {
			lease.Return(err)
			return nil, nil, err
		}
		return a, func() {
			a.Close()
			lease.Return(nil)
		}, nil
	}
}
