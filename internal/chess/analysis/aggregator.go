package analysis

import (
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
)

// Update describes what one accepted line changed.
type Update struct {
	Line PVLine
	// BestMove is set only when the rank 1 line starts with a move that
	// differs from the last one reported.
	BestMove    string
	BestMoveSAN string
}

// Aggregator keeps the ranked lines of a single position. Lines are
// normalized to the white-positive convention before they are stored.
// Parse only reads fields fixed at construction; Accept is not safe for
// concurrent use.
type Aggregator struct {
	oracle notation.Oracle
	base   string
	toMove score.Side

	slots    []PVLine
	lastBest string
}

func NewAggregator(oracle notation.Oracle, basePosition string, toMove score.Side, lines int) *Aggregator {
	if lines < 1 {
		lines = 1
	}
	return &Aggregator{
		oracle: oracle,
		base:   basePosition,
		toMove: toMove,
		slots:  placeholders(lines),
	}
}

// Parse converts a raw engine line into a normalized PVLine.
func (a *Aggregator) Parse(raw string) (PVLine, bool) {
	line, ok := ParseLine(raw, a.base, a.oracle)
	if !ok {
		return PVLine{}, false
	}
	line.Eval = score.Normalize(line.Eval, a.toMove)
	return line, true
}

// Accept merges an already parsed line.
func (a *Aggregator) Accept(line PVLine) (Update, bool) {
	if !Merge(a.slots, line) {
		return Update{}, false
	}
	upd := Update{Line: line}
	if line.Rank == 1 && len(line.Tokens) > 0 && line.Tokens[0] != a.lastBest {
		a.lastBest = line.Tokens[0]
		upd.BestMove = line.Tokens[0]
		upd.BestMoveSAN = line.Moves[0]
	}
	return upd, true
}

func (a *Aggregator) Feed(raw string) (Update, bool) {
	line, ok := a.Parse(raw)
	if !ok {
		return Update{}, false
	}
	return a.Accept(line)
}

// Lines returns a copy of the slots in rank order.
func (a *Aggregator) Lines() []PVLine {
	out := make([]PVLine, len(a.slots))
	for i, l := range a.slots {
		out[i] = l.clone()
	}
	return out
}

func (a *Aggregator) BestMove() string {
	return a.lastBest
}

func (a *Aggregator) Base() string {
	return a.base
}

func (a *Aggregator) ToMove() score.Side {
	return a.toMove
}
