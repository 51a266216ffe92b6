package uci_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/chess/uci/ucitest"
)

var testOptions = uci.Options{Threads: 1, HashMB: 16, MultiPV: 2}

func attach(t *testing.T, eng *ucitest.Engine, opts ...uci.SessionOption) *uci.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := eng.Attach(ctx, testOptions, opts...)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

// next reads one line or fails the test after a second.
func next(t *testing.T, sub *uci.Subscription) (string, bool) {
	t.Helper()
	select {
	case line, ok := <-sub.Lines():
		return line, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for engine output")
		return "", false
	}
}

func TestHandshakeAppliesOptions(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng)

	want := []string{
		"uci",
		"setoption name Threads value 1",
		"setoption name Hash value 16",
		"setoption name MultiPV value 2",
		"isready",
	}
	if got := eng.Commands(); !reflect.DeepEqual(got, want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	st := s.State()
	if !st.Ready || st.Unusable || st.LastCommand != "isready" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestHandshakeWithoutUCIOK(t *testing.T) {
	eng := ucitest.New(nil)
	eng.SkipHandshake = true
	stdin, stdout := eng.Start()

	_, err := uci.Attach(context.Background(), stdin, stdout, testOptions, uci.WithReadyTimeout(50*time.Millisecond))
	if !errors.Is(err, uci.ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestReadyTimeoutMarksSessionUnusable(t *testing.T) {
	eng := ucitest.New(nil)
	eng.MuteReady = true
	stdin, stdout := eng.Start()

	_, err := uci.Attach(context.Background(), stdin, stdout, testOptions, uci.WithReadyTimeout(50*time.Millisecond))
	if !errors.Is(err, uci.ErrReadyTimeout) {
		t.Fatalf("expected ErrReadyTimeout, got %v", err)
	}
}

func TestRequestAnalysisCommandOrder(t *testing.T) {
	eng := ucitest.New(ucitest.Lines("info depth 10 multipv 1 score cp 35 pv e2e4 e7e5"))
	eng.HoldSearch = true
	s := attach(t, eng)

	sub := s.Subscribe()
	defer sub.Unsubscribe()

	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	err := s.RequestAnalysis(context.Background(), uci.AnalysisRequest{FEN: fen, Limits: uci.Limits{Depth: 10}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var seen []string
	for {
		line, ok := next(t, sub)
		if !ok {
			t.Fatal("subscription closed early")
		}
		seen = append(seen, line)
		if strings.HasPrefix(line, "info") {
			break
		}
	}
	if want := []string{"readyok", "readyok", "info depth 10 multipv 1 score cp 35 pv e2e4 e7e5"}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("subscriber saw %v, want %v", seen, want)
	}

	cmds := eng.Commands()[5:]
	want := []string{"stop", "isready", "ucinewgame", "position fen " + fen, "isready", "go depth 10"}
	if !reflect.DeepEqual(cmds, want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
}

func TestPreviousSearchOutputPrecedesBarriers(t *testing.T) {
	eng := ucitest.New(func(position string, _ []string) []string {
		if strings.Contains(position, "e2e4") {
			return []string{"info depth 3 score cp -20 pv e7e5", "bestmove e7e5"}
		}
		return []string{"info depth 3 score cp 30 pv e2e4", "bestmove e2e4"}
	})
	eng.HoldSearch = true
	s := attach(t, eng)
	ctx := context.Background()

	if err := s.RequestAnalysis(ctx, uci.AnalysisRequest{Limits: uci.Limits{Depth: 3}}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	sub := s.Subscribe()
	defer sub.Unsubscribe()
	if err := s.RequestAnalysis(ctx, uci.AnalysisRequest{Moves: []string{"e2e4"}, Limits: uci.Limits{Depth: 3}}); err != nil {
		t.Fatalf("second request: %v", err)
	}

	barriers := 0
	var stale, fresh []string
	for len(fresh) == 0 {
		line, ok := next(t, sub)
		if !ok {
			t.Fatal("subscription closed early")
		}
		switch uci.Classify(line) {
		case uci.LineReadyOK:
			barriers++
		default:
			if barriers < uci.BarriersPerRequest {
				stale = append(stale, line)
			} else {
				fresh = append(fresh, line)
			}
		}
	}
	for _, line := range stale {
		if strings.Contains(line, "e7e5") {
			t.Fatalf("new search output arrived before the barriers: %v", stale)
		}
	}
	if fresh[0] != "info depth 3 score cp -20 pv e7e5" {
		t.Fatalf("first armed line = %q", fresh[0])
	}
}

func TestSearchCollectsDeepestCandidates(t *testing.T) {
	eng := ucitest.New(ucitest.Lines(
		"info depth 8 multipv 1 score cp 20 pv d2d4",
		"info depth 8 multipv 2 score cp 15 pv e2e4",
		"info depth 10 multipv 1 score cp 31 pv e2e4 e7e5",
		"info depth 10 multipv 2 score cp 28 pv d2d4 d7d5",
		"info depth 11 multipv 1 score cp 40 lowerbound pv c2c4",
		"bestmove e2e4 ponder e7e5",
	))
	s := attach(t, eng)

	resp, err := s.Search(context.Background(), uci.SearchRequest{Limits: uci.Limits{Depth: 10}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.BestMove != "e2e4" || resp.Ponder != "e7e5" {
		t.Fatalf("best = %q ponder = %q", resp.BestMove, resp.Ponder)
	}
	if len(resp.Candidates) != 2 {
		t.Fatalf("candidates = %+v", resp.Candidates)
	}
	if c := resp.Candidates[0]; c.Rank != 1 || c.Move != "e2e4" || c.Depth != 10 || c.Score.CP != 31 {
		t.Fatalf("rank 1 = %+v", c)
	}
	if c := resp.Candidates[1]; c.Rank != 2 || c.Move != "d2d4" || c.Score.CP != 28 {
		t.Fatalf("rank 2 = %+v", c)
	}
}

func TestSearchRejectsMissingLimits(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng)
	before := len(eng.Commands())

	_, err := s.Search(context.Background(), uci.SearchRequest{})
	if !errors.Is(err, uci.ErrNoSearchLimits) {
		t.Fatalf("expected ErrNoSearchLimits, got %v", err)
	}
	if after := len(eng.Commands()); after != before {
		t.Fatalf("no command should be sent, got %v", eng.Commands()[before:])
	}
}

func TestSearchHonorsCancellation(t *testing.T) {
	eng := ucitest.New(ucitest.Lines("info depth 1 score cp 5 pv e2e4", "bestmove e2e4"))
	eng.HoldSearch = true
	s := attach(t, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.Search(ctx, uci.SearchRequest{Limits: uci.Limits{Depth: 30}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := s.State().LastCommand; got != "stop" {
		t.Fatalf("canceled search should send stop, last command %q", got)
	}

	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("session should stay usable: %v", err)
	}
}

func TestStopOnIdleSessionIsNoop(t *testing.T) {
	s := attach(t, ucitest.New(nil))
	s.Stop()
	s.Stop()
	if err := s.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
}

func TestUnsubscribedReaderDoesNotStallOthers(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng, uci.WithSubscriberBuffer(1))

	idle := s.Subscribe()
	active := s.Subscribe()
	defer active.Unsubscribe()

	go eng.Emit("info string one", "info string two", "info string three")
	if line, _ := next(t, active); line != "info string one" {
		t.Fatalf("got %q", line)
	}
	idle.Unsubscribe()
	if line, _ := next(t, active); line != "info string two" {
		t.Fatalf("got %q", line)
	}
	if line, _ := next(t, active); line != "info string three" {
		t.Fatalf("got %q", line)
	}

	drained := 0
	for range idle.Lines() {
		drained++
	}
	if drained != 0 {
		t.Fatalf("received %d lines after Unsubscribe", drained)
	}
}

func TestUnsubscribeDropsBufferedLines(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng)

	sub := s.Subscribe()
	witness := s.Subscribe()
	defer witness.Unsubscribe()

	eng.Emit("info depth 1 score cp 10 pv e2e4", "info depth 2 score cp 12 pv e2e4")
	// the witness seeing both lines means sub has them buffered too
	next(t, witness)
	next(t, witness)

	sub.Unsubscribe()
	got := 0
	for range sub.Lines() {
		got++
	}
	if got != 0 {
		t.Fatalf("received %d lines after Unsubscribe", got)
	}
}

func TestEngineCrashClosesSubscriptions(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng)
	sub := s.Subscribe()

	eng.Crash()
	for {
		if _, ok := next(t, sub); !ok {
			break
		}
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}

	st := s.State()
	if !st.Unusable || !errors.Is(st.Err, uci.ErrEngineUnavailable) {
		t.Fatalf("unexpected state after crash: %+v", st)
	}
	err := s.RequestAnalysis(context.Background(), uci.AnalysisRequest{Limits: uci.Limits{Depth: 1}})
	if !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, ok := <-s.Subscribe().Lines(); ok {
		t.Fatal("subscribing to a dead session should yield a closed channel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := ucitest.New(nil)
	s := attach(t, eng)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case <-eng.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not receive quit")
	}
	if got := eng.Commands(); got[len(got)-1] != "quit" {
		t.Fatalf("last command = %q", got[len(got)-1])
	}
	if !errors.Is(s.State().Err, uci.ErrSessionClosed) {
		t.Fatalf("state err = %v", s.State().Err)
	}
}
