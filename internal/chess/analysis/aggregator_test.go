package analysis

import (
	"reflect"
	"testing"

	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
)

const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"

func TestParseLineFromStartPosition(t *testing.T) {
	line, ok := ParseLine("info depth 10 multipv 1 score cp 35 pv e2e4 e7e5", notation.StartPosition, notation.NewChessOracle())
	if !ok {
		t.Fatal("expected line to parse")
	}
	if line.Rank != 1 || line.Depth != 10 || line.Eval != score.Centipawns(35) {
		t.Fatalf("unexpected line: %+v", line)
	}
	if want := []string{"e4", "e5"}; !reflect.DeepEqual(line.Moves, want) {
		t.Fatalf("moves = %v, want %v", line.Moves, want)
	}
	if line.Truncated {
		t.Fatal("line should not be truncated")
	}
}

func TestParseLineRejectsIncompleteLines(t *testing.T) {
	oracle := notation.NewChessOracle()
	for _, raw := range []string{
		"info depth 10 multipv 1 score cp 35",
		"info depth 10 multipv 1 pv e2e4",
		"info string hello",
		"bestmove e2e4",
		"garbage",
	} {
		if _, ok := ParseLine(raw, notation.StartPosition, oracle); ok {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestParseLineKeepsTranslatablePrefix(t *testing.T) {
	line, ok := ParseLine("info depth 4 score mate 2 pv e2e4 e2e4 g1f3", notation.StartPosition, notation.NewChessOracle())
	if !ok {
		t.Fatal("partial line should still be usable")
	}
	if !line.Truncated || len(line.Moves) != 1 || line.Moves[0] != "e4" {
		t.Fatalf("unexpected line: %+v", line)
	}
	if !line.Eval.IsMate || line.Eval.Mate != 2 {
		t.Fatalf("eval = %+v", line.Eval)
	}
}

func TestMergeIsDepthMonotonic(t *testing.T) {
	slots := placeholders(2)
	depths := []int{5, 9, 7, 9, 12, 3}
	shown := 0
	for _, d := range depths {
		Merge(slots, PVLine{Rank: 2, Depth: d})
		if slots[1].Depth < shown {
			t.Fatalf("depth went backwards: %d after %d", slots[1].Depth, shown)
		}
		shown = slots[1].Depth
	}
	if shown != 12 {
		t.Fatalf("final depth = %d, want 12", shown)
	}
	if Merge(slots, PVLine{Rank: 3, Depth: 20}) || Merge(slots, PVLine{Rank: 0, Depth: 20}) {
		t.Fatal("out of range ranks must be ignored")
	}
	if !slots[0].Placeholder() {
		t.Fatal("rank 1 slot should be untouched")
	}
}

func TestAggregatorReportsBestMoveOnce(t *testing.T) {
	agg := NewAggregator(notation.NewChessOracle(), notation.StartPosition, score.White, 2)

	upd, ok := agg.Feed("info depth 8 multipv 1 score cp 20 pv e2e4 e7e5")
	if !ok || upd.BestMove != "e2e4" || upd.BestMoveSAN != "e4" {
		t.Fatalf("first rank 1 line should report best move: %+v", upd)
	}
	upd, ok = agg.Feed("info depth 9 multipv 1 score cp 22 pv e2e4 c7c5")
	if !ok || upd.BestMove != "" {
		t.Fatalf("same leading move must not be reported again: %+v", upd)
	}
	upd, ok = agg.Feed("info depth 9 multipv 2 score cp 18 pv d2d4")
	if !ok || upd.BestMove != "" {
		t.Fatalf("rank 2 never reports a best move: %+v", upd)
	}
	if _, ok := agg.Feed("info depth 7 multipv 1 score cp 90 pv g1f3"); ok {
		t.Fatal("shallower line should not merge")
	}
	upd, ok = agg.Feed("info depth 10 multipv 1 score cp 25 pv d2d4 d7d5")
	if !ok || upd.BestMove != "d2d4" || upd.BestMoveSAN != "d4" {
		t.Fatalf("new leading move should be reported: %+v", upd)
	}
	if agg.BestMove() != "d2d4" {
		t.Fatalf("best = %q", agg.BestMove())
	}

	lines := agg.Lines()
	if lines[0].Depth != 10 || lines[1].Depth != 9 {
		t.Fatalf("unexpected lines: %+v", lines)
	}
	lines[0].Moves[0] = "mutated"
	if agg.Lines()[0].Moves[0] != "d4" {
		t.Fatal("Lines must return a copy")
	}
}

func TestAggregatorNormalizesBlackToMove(t *testing.T) {
	agg := NewAggregator(notation.NewChessOracle(), afterE4, score.Black, 1)

	upd, ok := agg.Feed("info depth 12 multipv 1 score cp 50 pv e7e5 g1f3")
	if !ok {
		t.Fatal("expected merge")
	}
	if upd.Line.Eval != score.Centipawns(-50) {
		t.Fatalf("eval = %+v, want -50 from white's view", upd.Line.Eval)
	}
	if want := []string{"e5", "Nf3"}; !reflect.DeepEqual(upd.Line.Moves, want) {
		t.Fatalf("moves = %v", upd.Line.Moves)
	}

	upd, _ = agg.Feed("info depth 13 multipv 1 score mate 3 pv d8h4")
	if !upd.Line.Eval.IsMate || upd.Line.Eval.Mate != -3 {
		t.Fatalf("mate for black should be negative: %+v", upd.Line.Eval)
	}
}
