package uci

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/score"
)

type SearchRequest struct {
	FEN     string
	Moves   []string
	Limits  Limits
	MultiPV int
}

// Candidate is the deepest line seen for one multipv rank. Score is relative
// to the side to move.
type Candidate struct {
	Rank      int
	Move      string
	Score     score.Eval
	Depth     int
	Principal []string
}

type SearchResponse struct {
	BestMove   string
	Ponder     string
	Candidates []Candidate
}

// Search runs one request to completion and collects the final lines. It
// shares the request lock with RequestAnalysis, so it must not be mixed
// with a live subscription-driven analysis on the same session.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if err := s.usable(); err != nil {
		return SearchResponse{}, err
	}
	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	err := s.requestLocked(ctx, AnalysisRequest{
		FEN:     req.FEN,
		Moves:   req.Moves,
		Limits:  req.Limits,
		MultiPV: req.MultiPV,
	})
	if err != nil {
		return SearchResponse{}, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
	defer cancel()

	barriers := 0
	candidates := make(map[int]Candidate)
	for {
		select {
		case line, ok := <-sub.Lines():
			if !ok {
				if err := s.usable(); err != nil {
					return SearchResponse{}, err
				}
				return SearchResponse{}, ErrEngineUnavailable
			}
			switch Classify(line) {
			case LineReadyOK:
				barriers++
			case LineInfo:
				if barriers < BarriersPerRequest {
					continue
				}
				if c, ok := candidateFromInfo(line); ok {
					if prev, seen := candidates[c.Rank]; !seen || c.Depth >= prev.Depth {
						candidates[c.Rank] = c
					}
				}
			case LineBestMove:
				if barriers < BarriersPerRequest {
					continue
				}
				best, ponder, _ := ParseBestMove(line)
				return SearchResponse{
					BestMove:   best,
					Ponder:     ponder,
					Candidates: collapseCandidates(candidates),
				}, nil
			}
		case <-searchCtx.Done():
			s.Stop()
			if ctx.Err() != nil {
				return SearchResponse{}, ctx.Err()
			}
			s.logger.Warn("search timed out",
				zap.String("fen", req.FEN),
				zap.Int("depth", req.Limits.Depth))
			return SearchResponse{}, fmt.Errorf("%w: fen=%s", ErrSearchTimeout, req.FEN)
		}
	}
}

func candidateFromInfo(line string) (Candidate, bool) {
	info, ok := ParseInfo(line)
	if !ok || len(info.PV) == 0 || info.Bound != BoundExact {
		return Candidate{}, false
	}
	eval, ok := info.Eval()
	if !ok {
		return Candidate{}, false
	}
	return Candidate{
		Rank:      info.MultiPV,
		Move:      info.PV[0],
		Score:     eval,
		Depth:     info.Depth,
		Principal: info.PV,
	}, true
}

func collapseCandidates(m map[int]Candidate) []Candidate {
	if len(m) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
