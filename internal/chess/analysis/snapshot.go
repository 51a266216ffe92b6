package analysis

import (
	"context"
	"fmt"

	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
)

type State int

const (
	StateIdle State = iota
	StateRequested
	StateStreaming
	StateStable
	StateSuperseded
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRequested:  "requested",
	StateStreaming:  "streaming",
	StateStable:     "stable",
	StateSuperseded: "superseded",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown analysis state %q", string(b))
}

// Snapshot is what the analyzer exposes upward. Every evaluation in it is
// white-positive.
type Snapshot struct {
	Generation        uint64             `json:"generation"`
	FEN               string             `json:"fen"`
	State             State              `json:"state"`
	Lines             []PVLine           `json:"lines"`
	BestMove          string             `json:"best_move,omitempty"`
	BestMoveSAN       string             `json:"best_move_san,omitempty"`
	BestMoveHighlight notation.Highlight `json:"best_move_highlight"`
	Eval              score.Eval         `json:"eval"`
	Depth             int                `json:"depth"`
	Cached            bool               `json:"cached,omitempty"`
	Error             string             `json:"error,omitempty"`
	Err               error              `json:"-"`
}

// EvalFor returns the headline evaluation from side's point of view.
func (s Snapshot) EvalFor(side score.Side) score.Eval {
	return score.ForSide(s.Eval, side)
}

type CacheKey struct {
	FEN   string
	Depth int
	Lines int
}

// SnapshotStore persists stable snapshots. Load returns nil, nil on a miss.
type SnapshotStore interface {
	Load(ctx context.Context, key CacheKey) (*Snapshot, error)
	Save(ctx context.Context, key CacheKey, snap Snapshot) error
}
