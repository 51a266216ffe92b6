// Package drill judges a practice attempt from a prepared position as it is
// played out.
package drill

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/score"
	"github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/obslog"
)

const (
	ReasonHungMate      = "allowed a forced mate"
	ReasonMissedMate    = "let the forced mate slip"
	ReasonLostPiece     = "lost a piece"
	ReasonConverted     = "converted the advantage"
	ReasonWonGame       = "won the game"
	ReasonWinSlipped    = "let the win slip to a draw"
	ReasonHeldDraw      = "held the draw"
	ReasonSavedGame     = "saved the game"
	ReasonLostGame      = "lost the game"
	ReasonDrifted       = "drifted into a lost position"
	ReasonMateOnBoard   = "forced mate on the board"
	ReasonKeptAdvantage = "kept the advantage"
	ReasonHeldPosition  = "held the position"
)

// Config holds the bands, in centipawns, that decide a verdict.
type Config struct {
	MinDepth      int
	HungMateBand  int
	LostPieceBand int
	WinBand       int
	DrawBand      int
	MaxMoves      int
}

func ConfigFromTuning(t config.DrillTuning) Config {
	return Config{
		MinDepth:      t.MinDepth,
		HungMateBand:  t.HungMateBand,
		LostPieceBand: t.LostPieceBand,
		WinBand:       t.WinBand,
		DrawBand:      t.DrawBand,
		MaxMoves:      t.MaxMoves,
	}
}

func (c Config) Validate() error {
	if c.LostPieceBand <= 0 || c.HungMateBand < c.LostPieceBand {
		return fmt.Errorf("invalid loss bands: lost_piece=%d hung_mate=%d", c.LostPieceBand, c.HungMateBand)
	}
	if c.DrawBand < 0 || c.WinBand < c.DrawBand {
		return fmt.Errorf("invalid outcome bands: win=%d draw=%d", c.WinBand, c.DrawBand)
	}
	if c.MaxMoves <= 0 {
		return fmt.Errorf("max moves must be positive: %d", c.MaxMoves)
	}
	return nil
}

// Attempt is captured once when a drill starts. Evals are hero-relative.
type Attempt struct {
	Hero        score.Side
	InitialEval score.Eval
	// MaxMoves overrides the configured budget when positive.
	MaxMoves int
}

// Tick is the live state after a move. CurrentEval must already be
// relative to the hero.
type Tick struct {
	AttemptID   string
	CurrentEval score.Eval
	Depth       int
	Moves       int
	Phase       Phase
	Terminal    Terminal
}

// Expect derives the target outcome from the starting evaluation.
func Expect(cfg Config, initial score.Eval) Expectation {
	cp := initial.Centipawns()
	switch {
	case cp >= cfg.WinBand:
		return ExpectWin
	case cp > -cfg.DrawBand:
		return ExpectDraw
	default:
		return ExpectHold
	}
}

// Evaluate applies the verdict rules to one tick. The first matching rule
// wins and an undecided tick is pending.
func Evaluate(cfg Config, a Attempt, t Tick) Verdict {
	expected := Expect(cfg, a.InitialEval)
	drop := a.InitialEval.Centipawns() - t.CurrentEval.Centipawns()
	v := Verdict{AttemptID: t.AttemptID, Expected: expected}

	if t.Moves <= 0 {
		return v
	}
	if t.Terminal == TerminalNone {
		if t.Depth < cfg.MinDepth {
			return v
		}
		v.Drop = drop
		switch {
		case t.CurrentEval.MatedFor() && !a.InitialEval.MatedFor():
			return decide(v, ResultFail, ReasonHungMate)
		case drop >= cfg.HungMateBand:
			if a.InitialEval.IsMate && a.InitialEval.Mate > 0 {
				return decide(v, ResultFail, ReasonMissedMate)
			}
			return decide(v, ResultFail, ReasonHungMate)
		case drop >= cfg.LostPieceBand:
			return decide(v, ResultFail, ReasonLostPiece)
		}
	}

	switch t.Terminal {
	case TerminalWon:
		if expected == ExpectWin {
			return decide(v, ResultPass, ReasonConverted)
		}
		return decide(v, ResultPass, ReasonWonGame)
	case TerminalDrawn:
		switch expected {
		case ExpectWin:
			return decide(v, ResultFail, ReasonWinSlipped)
		case ExpectHold:
			return decide(v, ResultPass, ReasonSavedGame)
		default:
			return decide(v, ResultPass, ReasonHeldDraw)
		}
	case TerminalLost:
		return decide(v, ResultFail, ReasonLostGame)
	}

	cp := t.CurrentEval.Centipawns()
	switch expected {
	case ExpectWin:
		if cp <= cfg.DrawBand {
			return decide(v, ResultFail, ReasonWinSlipped)
		}
		if t.Phase == PhaseEndgame && t.CurrentEval.IsMate && t.CurrentEval.Mate > 0 {
			return decide(v, ResultPass, ReasonMateOnBoard)
		}
	case ExpectDraw:
		if cp <= -cfg.WinBand {
			return decide(v, ResultFail, ReasonDrifted)
		}
	}

	budget := cfg.MaxMoves
	if a.MaxMoves > 0 {
		budget = a.MaxMoves
	}
	if t.Moves >= budget {
		switch expected {
		case ExpectWin:
			return decide(v, ResultPass, ReasonKeptAdvantage)
		case ExpectDraw:
			return decide(v, ResultPass, ReasonHeldDraw)
		default:
			return decide(v, ResultPass, ReasonHeldPosition)
		}
	}
	return v
}

func decide(v Verdict, r Result, reason string) Verdict {
	v.Result = r
	v.Reason = reason
	return v
}

// Evaluator tracks the verdict of the current attempt. A verdict, once
// reached, holds until the next Start or Reset.
type Evaluator struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	id      string
	attempt Attempt
	verdict Verdict
}

func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, logger: obslog.Named("drill")}, nil
}

// Start begins a new attempt and clears any previous verdict in the same
// step. The returned ID must accompany every tick of this attempt.
func (e *Evaluator) Start(a Attempt) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.id = id
	e.attempt = a
	e.verdict = Verdict{AttemptID: id, Expected: Expect(e.cfg, a.InitialEval)}
	e.mu.Unlock()
	e.logger.Debug("drill started",
		zap.String("attempt", id),
		zap.Stringer("hero", a.Hero),
		zap.Stringer("initial", a.InitialEval))
	return id
}

// Update re-evaluates the attempt. Ticks for any other attempt are ignored
// and the current verdict is returned unchanged.
func (e *Evaluator) Update(t Tick) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.id == "" || t.AttemptID != e.id || e.verdict.Final() {
		return e.verdict
	}
	v := Evaluate(e.cfg, e.attempt, t)
	e.verdict = v
	if v.Final() {
		e.logger.Info("drill decided",
			zap.String("attempt", e.id),
			zap.Stringer("result", v.Result),
			zap.String("reason", v.Reason),
			zap.Int("moves", t.Moves))
	}
	return v
}

// Reset drops the current attempt. Later ticks for it are ignored.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.id = ""
	e.attempt = Attempt{}
	e.verdict = Verdict{}
	e.mu.Unlock()
}

func (e *Evaluator) Verdict() Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verdict
}

func (e *Evaluator) AttemptID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}
