// Package score holds the engine evaluation value shared by the analysis,
// bot and drill packages.
package score

import "fmt"

// MateValue is the centipawn magnitude a forced mate is mapped to.
const MateValue = 30000

// Eval is either a centipawn score or a mate distance, never both.
// Mate > 0 means the favoured side mates in Mate moves. Mate 0 is a mate
// already on the board: suffered by the favoured side unless Delivered.
type Eval struct {
	CP        int  `json:"cp"`
	Mate      int  `json:"mate,omitempty"`
	IsMate    bool `json:"is_mate,omitempty"`
	Delivered bool `json:"delivered,omitempty"`
}

func Centipawns(cp int) Eval { return Eval{CP: cp} }

func MateIn(n int) Eval { return Eval{Mate: n, IsMate: true} }

func (e Eval) Negate() Eval {
	if e.IsMate {
		return Eval{Mate: -e.Mate, IsMate: true, Delivered: e.Mate == 0 && !e.Delivered}
	}
	return Eval{CP: -e.CP}
}

// Centipawns maps the value onto a single comparable scale. Shorter mates
// score further from zero than longer ones.
func (e Eval) Centipawns() int {
	if !e.IsMate {
		return e.CP
	}
	switch {
	case e.Mate > 0:
		return MateValue - e.Mate
	case e.Mate < 0:
		return -MateValue - e.Mate
	case e.Delivered:
		return MateValue
	default:
		return -MateValue
	}
}

// MatedFor reports whether the value is a forced mate against the favoured side.
func (e Eval) MatedFor() bool {
	return e.IsMate && (e.Mate < 0 || (e.Mate == 0 && !e.Delivered))
}

func (e Eval) String() string {
	if e.IsMate {
		if e.Delivered {
			return "#+0"
		}
		return fmt.Sprintf("#%d", e.Mate)
	}
	return fmt.Sprintf("%+.2f", float64(e.CP)/100)
}

// Side names the two players. White is the fixed reference side of every
// normalized evaluation.
type Side int

const (
	White Side = iota
	Black
)

func (s Side) String() string {
	if s == Black {
		return "black"
	}
	return "white"
}

func (s Side) Opponent() Side {
	if s == Black {
		return White
	}
	return Black
}

// Normalize converts a side-to-move relative engine score into the
// white-positive convention.
func Normalize(e Eval, toMove Side) Eval {
	if toMove == Black {
		return e.Negate()
	}
	return e
}

// ForSide converts a white-positive score into one relative to side.
func ForSide(e Eval, side Side) Eval {
	if side == Black {
		return e.Negate()
	}
	return e
}
