package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/chess/uci/ucitest"
	"github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/drill"
)

func testFactory(r ucitest.Responder) AnalyzerFactory {
	return func(ctx context.Context) (*analysis.Analyzer, func(), error) {
		s, err := ucitest.New(r).Attach(ctx, uci.Options{Threads: 1, HashMB: 16, MultiPV: 1})
		if err != nil {
			return nil, nil, err
		}
		a, err := analysis.NewAnalyzer(s, notation.NewChessOracle(), analysis.Config{Depth: 8, Lines: 1})
		if err != nil {
			s.Shutdown()
			return nil, nil, err
		}
		return a, func() {
			a.Close()
			s.Shutdown()
		}, nil
	}
}

func dial(t *testing.T, factory AnalyzerFactory, opts ...Option) (*websocket.Conn, context.Context) {
	t.Helper()
	opts = append([]Option{WithPingInterval(0)}, opts...)
	srv := httptest.NewServer(NewServer(factory, opts...).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, cond func(Event) bool) Event {
	t.Helper()
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if cond(ev) {
			return ev
		}
	}
}

func TestFeedStreamsSnapshots(t *testing.T) {
	conn, ctx := dial(t, testFactory(ucitest.Lines(
		"info depth 8 multipv 1 score cp 25 pv g1f3 d7d5",
		"bestmove g1f3",
	)))

	if err := wsjson.Write(ctx, conn, Message{Type: MessageAnalyze, FEN: "startpos"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntil(t, ctx, conn, func(ev Event) bool {
		return ev.Type == EventSnapshot && ev.Snapshot.State == analysis.StateStable
	})
	snap := ev.Snapshot
	if snap.BestMoveSAN != "Nf3" || snap.Depth != 8 || snap.Eval.CP != 25 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.BestMoveHighlight.Valid || snap.BestMoveHighlight.From != "g1" {
		t.Fatalf("highlight = %+v", snap.BestMoveHighlight)
	}
}

func TestFeedJudgesDrillAttempt(t *testing.T) {
	responder := func(position string, _ []string) []string {
		if strings.HasPrefix(position, "startpos") {
			return []string{"info depth 12 multipv 1 score cp 25 pv g1f3", "bestmove g1f3"}
		}
		return []string{"info depth 12 multipv 1 score cp 400 pv e7e5", "bestmove e7e5"}
	}
	cfg := drill.ConfigFromTuning(config.Defaults().Drill)
	cfg.MinDepth = 1
	conn, ctx := dial(t, testFactory(responder), WithDrill(cfg))

	if err := wsjson.Write(ctx, conn, Message{Type: MessageDrill}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventError })
	if ev.Error != ErrNotAnalyzed.Error() {
		t.Fatalf("event = %+v", ev)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: MessageAnalyze, FEN: "startpos"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, ctx, conn, func(ev Event) bool {
		return ev.Type == EventSnapshot && ev.Snapshot.State == analysis.StateStable
	})

	if err := wsjson.Write(ctx, conn, Message{Type: MessageDrill, Hero: "white"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventVerdict })
	opened := ev.Verdict
	if opened.AttemptID == "" || opened.Result != drill.ResultPending || opened.Expected != drill.ExpectDraw {
		t.Fatalf("opening verdict = %+v", opened)
	}

	const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	if err := wsjson.Write(ctx, conn, Message{Type: MessageAnalyze, FEN: afterE4, Moves: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventVerdict })
	v := ev.Verdict
	if v.AttemptID != opened.AttemptID || v.Result != drill.ResultFail || v.Reason != drill.ReasonLostPiece {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Drop != 425 {
		t.Fatalf("drop = %d, want 425", v.Drop)
	}
}

func TestParseHero(t *testing.T) {
	if side, err := parseHero("", "8/8/8/8/8/8/8/K6k b - - 0 1"); err != nil || side != score.Black {
		t.Fatalf("empty hero = %v, %v", side, err)
	}
	if side, err := parseHero("W", ""); err != nil || side != score.White {
		t.Fatalf("W = %v, %v", side, err)
	}
	if _, err := parseHero("red", ""); err == nil {
		t.Fatalf("expected error for unknown hero")
	}
}

func TestFeedReportsBadInput(t *testing.T) {
	conn, ctx := dial(t, testFactory(nil))

	if err := wsjson.Write(ctx, conn, Message{Type: MessageAnalyze, FEN: "nonsense"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventError })
	if ev.Error != "invalid position" || ev.Retryable {
		t.Fatalf("event = %+v", ev)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventError })
	if !strings.Contains(ev.Error, "dance") {
		t.Fatalf("event = %+v", ev)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: MessageRetry}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readUntil(t, ctx, conn, func(ev Event) bool { return ev.Type == EventError })
	if ev.Error != analysis.ErrNoPosition.Error() {
		t.Fatalf("event = %+v", ev)
	}
}

func TestFeedWithoutEngine(t *testing.T) {
	failing := func(context.Context) (*analysis.Analyzer, func(), error) {
		return nil, nil, uci.ErrEngineUnavailable
	}
	conn, ctx := dial(t, failing)

	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventError || !ev.Retryable {
		t.Fatalf("event = %+v", ev)
	}
	err := wsjson.Read(ctx, conn, &ev)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Fatalf("expected try-again-later close, got %v", err)
	}
}

func TestErrorEvent(t *testing.T) {
	ev := errorEvent(errors.Join(analysis.ErrAnalysisFailed, uci.ErrEngineUnavailable))
	if !ev.Retryable {
		t.Fatalf("failed analysis should be retryable: %+v", ev)
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(testFactory(nil)).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
