package analysis

import (
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
	"github.com/park285/cheese-coach/internal/chess/uci"
)

// PVLine is one ranked engine continuation. Moves holds the SAN of the
// translatable prefix of the engine line and Tokens the matching
// coordinate moves.
type PVLine struct {
	Rank      int        `json:"rank"`
	Depth     int        `json:"depth"`
	Eval      score.Eval `json:"eval"`
	Moves     []string   `json:"moves"`
	Tokens    []string   `json:"tokens"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Placeholder reports whether the slot has not received a line yet.
func (l PVLine) Placeholder() bool {
	return l.Depth == 0 && len(l.Tokens) == 0
}

func (l PVLine) clone() PVLine {
	l.Moves = append([]string(nil), l.Moves...)
	l.Tokens = append([]string(nil), l.Tokens...)
	return l
}

// ParseLine turns an info line into a PVLine for the position it was
// searched from. Lines without a move list or without a score are
// rejected. The score is left relative to the side to move.
func ParseLine(raw, basePosition string, oracle notation.Oracle) (PVLine, bool) {
	info, ok := uci.ParseInfo(raw)
	if !ok || len(info.PV) == 0 {
		return PVLine{}, false
	}
	eval, ok := info.Eval()
	if !ok {
		return PVLine{}, false
	}
	tr := notation.TranslateSequence(oracle, basePosition, info.PV)
	return PVLine{
		Rank:      info.MultiPV,
		Depth:     info.Depth,
		Eval:      eval,
		Moves:     tr.SAN,
		Tokens:    tr.Applied,
		Truncated: tr.Truncated,
	}, true
}

// Merge stores incoming in its rank slot unless the slot already holds a
// deeper line. It reports whether the slot changed.
func Merge(slots []PVLine, incoming PVLine) bool {
	idx := incoming.Rank - 1
	if idx < 0 || idx >= len(slots) {
		return false
	}
	if incoming.Depth < slots[idx].Depth {
		return false
	}
	slots[idx] = incoming
	return true
}

func placeholders(n int) []PVLine {
	slots := make([]PVLine, n)
	for i := range slots {
		slots[i] = PVLine{Rank: i + 1}
	}
	return slots
}
