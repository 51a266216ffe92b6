// Package bot picks the bot's reply among near-equal engine moves.
package bot

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-coach/internal/chess/score"
)

var (
	ErrNoCandidates = errors.New("no candidates to choose from")
	ErrCanceled     = errors.New("bot turn canceled")
)

const (
	SourceSearch = "search"
	SourceBook   = "book"
)

// Candidate is one ranked engine move. Score is from the bot's point of
// view and only meaningful when HasScore is set.
type Candidate struct {
	Rank      int
	Move      string
	Score     score.Eval
	HasScore  bool
	Principal []string
}

type Decision struct {
	Move string
	// Candidates is the set the move was drawn from, in rank order.
	Candidates []Candidate
	Source     string
}

// Selector draws uniformly among every ranked move within WindowCP of the
// top-ranked move.
type Selector struct {
	window int

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewSelector(windowCP int) *Selector {
	if windowCP < 0 {
		windowCP = 0
	}
	return &Selector{
		window: windowCP,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Selector) SetRandomSeed(seed int64) {
	s.randMu.Lock()
	s.rand = rand.New(rand.NewSource(seed))
	s.randMu.Unlock()
}

func (s *Selector) Window() int { return s.window }

// CandidateSet returns the moves eligible for selection, in rank order.
func (s *Selector) CandidateSet(ranked map[int]Candidate) ([]Candidate, error) {
	ordered := make([]Candidate, 0, len(ranked))
	for rank, c := range ranked {
		if c.Move == "" {
			continue
		}
		c.Rank = rank
		ordered = append(ordered, c)
	}
	if len(ordered) == 0 {
		return nil, ErrNoCandidates
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rank < ordered[j].Rank })

	top := ordered[0]
	if !top.HasScore {
		return ordered[:1], nil
	}
	topCP := top.Score.Centipawns()
	set := make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		if !c.HasScore {
			continue
		}
		d := int64(topCP) - int64(c.Score.Centipawns())
		if d < 0 {
			d = -d
		}
		if d <= int64(s.window) {
			set = append(set, c)
		}
	}
	return set, nil
}

func (s *Selector) Select(ranked map[int]Candidate) (Decision, error) {
	set, err := s.CandidateSet(ranked)
	if err != nil {
		return Decision{}, err
	}
	chosen := set[0]
	if len(set) > 1 {
		s.randMu.Lock()
		chosen = set[s.rand.Intn(len(set))]
		s.randMu.Unlock()
	}
	return Decision{Move: chosen.Move, Candidates: set, Source: SourceSearch}, nil
}
