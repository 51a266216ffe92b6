package drill

import (
	"fmt"

	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
)

type Result int

const (
	ResultPending Result = iota
	ResultPass
	ResultFail
)

func (r Result) String() string {
	switch r {
	case ResultPass:
		return "pass"
	case ResultFail:
		return "fail"
	default:
		return "pending"
	}
}

func (r Result) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Result) UnmarshalText(b []byte) error {
	for _, c := range []Result{ResultPending, ResultPass, ResultFail} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown drill result %q", string(b))
}

// Expectation is what the practicing side should achieve from the start
// position.
type Expectation int

const (
	ExpectNone Expectation = iota
	ExpectWin
	ExpectDraw
	ExpectHold
)

func (e Expectation) String() string {
	switch e {
	case ExpectWin:
		return "win"
	case ExpectDraw:
		return "draw"
	case ExpectHold:
		return "hold"
	default:
		return "none"
	}
}

func (e Expectation) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Expectation) UnmarshalText(b []byte) error {
	for _, c := range []Expectation{ExpectNone, ExpectWin, ExpectDraw, ExpectHold} {
		if c.String() == string(b) {
			*e = c
			return nil
		}
	}
	return fmt.Errorf("unknown drill expectation %q", string(b))
}

type Phase int

const (
	PhaseMiddlegame Phase = iota
	PhaseEndgame
)

// Terminal is a finished game from the practicing side's point of view.
type Terminal int

const (
	TerminalNone Terminal = iota
	TerminalWon
	TerminalDrawn
	TerminalLost
)

func (t Terminal) String() string {
	switch t {
	case TerminalWon:
		return "won"
	case TerminalDrawn:
		return "drawn"
	case TerminalLost:
		return "lost"
	default:
		return "none"
	}
}

// TerminalFromOutcome maps a board outcome onto the hero's result.
func TerminalFromOutcome(o notation.Outcome, hero score.Side) Terminal {
	switch o {
	case notation.OutcomeDraw:
		return TerminalDrawn
	case notation.OutcomeWhiteWon:
		if hero == score.White {
			return TerminalWon
		}
		return TerminalLost
	case notation.OutcomeBlackWon:
		if hero == score.Black {
			return TerminalWon
		}
		return TerminalLost
	default:
		return TerminalNone
	}
}

type Verdict struct {
	AttemptID string      `json:"attempt_id,omitempty"`
	Result    Result      `json:"result"`
	Reason    string      `json:"reason,omitempty"`
	Expected  Expectation `json:"expected"`
	// Drop is how many centipawns the hero has lost since the start.
	Drop int `json:"drop"`
}

func (v Verdict) Final() bool {
	return v.Result != ResultPending
}

func (v Verdict) String() string {
	if v.Reason == "" {
		return fmt.Sprintf("%s (expected %s)", v.Result, v.Expected)
	}
	return fmt.Sprintf("%s: %s (expected %s)", v.Result, v.Reason, v.Expected)
}
