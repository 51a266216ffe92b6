package feed

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
	"github.com/park285/cheese-coach/internal/drill"
)

var ErrNotAnalyzed = errors.New("drill needs a stable analysis of the start position")

func parseHero(v string, fen string) (score.Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return notation.SideToMove(fen), nil
	case "white", "w":
		return score.White, nil
	case "black", "b":
		return score.Black, nil
	}
	return score.White, fmt.Errorf("unknown hero %q", v)
}

// startDrill opens an attempt from the current stable snapshot.
func (c *client) startDrill(msg Message) (drill.Verdict, error) {
	snap := c.a.Snapshot()
	if snap.State != analysis.StateStable {
		return drill.Verdict{}, ErrNotAnalyzed
	}
	hero, err := parseHero(msg.Hero, snap.FEN)
	if err != nil {
		return drill.Verdict{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eval == nil {
		ev, err := drill.NewEvaluator(c.s.drillCfg)
		if err != nil {
			return drill.Verdict{}, err
		}
		c.eval = ev
	}
	id := c.eval.Start(drill.Attempt{
		Hero:        hero,
		InitialEval: snap.EvalFor(hero),
		MaxMoves:    msg.MaxMoves,
	})
	c.hero = hero
	c.startGen = snap.Generation
	c.tickFEN = ""
	c.moves = 0
	c.phase = drill.PhaseMiddlegame
	c.logger.Debug("drill attempt opened", zap.String("attempt", id), zap.Stringer("hero", hero))
	return c.eval.Verdict(), nil
}

func (c *client) stopDrill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eval != nil {
		c.eval.Reset()
	}
}

// track records the attempt progress claimed by an analyze request.
func (c *client) track(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eval == nil || c.eval.AttemptID() == "" {
		return
	}
	c.tickFEN = msg.FEN
	c.moves = msg.Moves
	c.phase = drill.PhaseMiddlegame
	if msg.Endgame {
		c.phase = drill.PhaseEndgame
	}
}

// judge feeds a stable snapshot of the tracked position to the attempt.
func (c *client) judge(snap analysis.Snapshot) (drill.Verdict, bool) {
	if snap.State != analysis.StateStable {
		return drill.Verdict{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eval == nil || c.eval.AttemptID() == "" || snap.Generation <= c.startGen || snap.FEN != c.tickFEN {
		return drill.Verdict{}, false
	}

	terminal := drill.TerminalNone
	if board, err := c.s.oracle.Open(snap.FEN); err == nil {
		terminal = drill.TerminalFromOutcome(board.Outcome(), c.hero)
	}
	v := c.eval.Update(drill.Tick{
		AttemptID:   c.eval.AttemptID(),
		CurrentEval: snap.EvalFor(c.hero),
		Depth:       snap.Depth,
		Moves:       c.moves,
		Phase:       c.phase,
		Terminal:    terminal,
	})
	return v, true
}
