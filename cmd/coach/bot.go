package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/bot"
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/openingbook"
	"github.com/park285/cheese-coach/internal/obslog"
)

func Bot() *cobra.Command {
	var (
		fen      string
		depth    int
		moveTime time.Duration
		level    string
		noBook   bool
	)
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Picks the bot's move in a position",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if depth <= 0 && moveTime <= 0 {
				depth = rt.cfg.BotDepth
			}
			opts := []bot.Option{bot.WithLogger(obslog.Named("bot"))}
			if !noBook {
				if book := loadBook(rt); book != nil {
					opts = append(opts, bot.WithBook(book))
				}
			}

			pcfg := bot.Config{
				Options:        rt.engineOptions(rt.cfg.BotLines),
				Depth:          depth,
				MoveTimeMillis: int(moveTime / time.Millisecond),
				WindowCP:       rt.cfg.BotEqualityWindowCP,
			}
			if level != "" {
				l, err := bot.LookupLevel(level)
				if err != nil {
					return fmt.Errorf("%w (levels: %s)", err, strings.Join(bot.LevelNames(), ", "))
				}
				pcfg = l.Config(rt.cfg.EngineThreads)
			}

			player, err := bot.NewPlayer(rt.pool, pcfg, opts...)
			if err != nil {
				return err
			}

			d, err := player.Move(ctx, fen)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", d.Move, d.Source)
			for _, c := range d.Candidates {
				if c.HasScore {
					fmt.Fprintf(out, "  %d. %s %s\n", c.Rank, c.Move, c.Score)
				} else {
					fmt.Fprintf(out, "  %d. %s\n", c.Rank, c.Move)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fen, "fen", notation.StartPosition, "position to move in")
	cmd.Flags().IntVar(&depth, "depth", 0, "search depth (default from config)")
	cmd.Flags().DurationVar(&moveTime, "movetime", 0, "search time per move, e.g. 500ms")
	cmd.Flags().StringVar(&level, "level", "", "playing strength preset, e.g. level3 or beginner")
	cmd.Flags().BoolVar(&noBook, "no-book", false, "ignore the opening book")
	return cmd
}

func loadBook(rt *app) *openingbook.Book {
	path, err := openingbook.ResolvePath(rt.cfg.BookPath)
	if err != nil {
		rt.logger.Warn("opening book unavailable", zap.Error(err))
		return nil
	}
	book, err := openingbook.Load(path)
	if err != nil {
		rt.logger.Warn("opening book load failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	return book
}
