package uci_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/chess/uci/ucitest"
)

func newTestPool(t *testing.T, capacity int) *uci.Pool {
	t.Helper()
	pool, err := uci.NewPool(uci.PoolConfig{
		PerKeyCapacity: capacity,
		Launcher:       ucitest.Launcher(ucitest.Lines("info depth 1 score cp 10 pv e2e4", "bestmove e2e4")),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestPoolReusesReturnedSession(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	first.Return(nil)
	first.Return(nil)

	second, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Session() != second.Session() {
		t.Fatal("expected the idle session to be reused")
	}
	second.Return(nil)
}

func TestPoolRetiresFailedSession(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	first, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	first.Return(errors.New("search failed"))
	if !first.Session().State().Unusable {
		t.Fatal("retired session should be closed")
	}

	second, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire after retire: %v", err)
	}
	if first.Session() == second.Session() {
		t.Fatal("retired session must not be handed out again")
	}
	second.Return(nil)
}

func TestPoolReturnStopsRunningSearch(t *testing.T) {
	var eng *ucitest.Engine
	launch := ucitest.Launcher(ucitest.Lines("info depth 1 score cp 10 pv e2e4", "bestmove e2e4"), func(e *ucitest.Engine) {
		e.HoldSearch = true
		eng = e
	})
	pool, err := uci.NewPool(uci.PoolConfig{PerKeyCapacity: 1, Launcher: launch})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	lease, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err = lease.Session().RequestAnalysis(ctx, uci.AnalysisRequest{FEN: "startpos", Limits: uci.Limits{Depth: 5}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	lease.Return(nil)

	cmds := eng.Commands()
	if n := len(cmds); n < 3 || cmds[n-3] != "go depth 5" || cmds[n-2] != "stop" || cmds[n-1] != "isready" {
		t.Fatalf("commands after return = %v", cmds)
	}

	again, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if again.Session() != lease.Session() {
		t.Fatal("quiet session should be reused")
	}
	again.Return(nil)
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	pool := newTestPool(t, 1)

	held, err := pool.Acquire(context.Background(), testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx, testOptions); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded at capacity, got %v", err)
	}

	other := testOptions
	other.MultiPV = 4
	l, err := pool.Acquire(context.Background(), other)
	if err != nil {
		t.Fatalf("different option set should have its own group: %v", err)
	}
	l.Return(nil)

	got := make(chan *uci.Lease, 1)
	go func() {
		l, err := pool.Acquire(context.Background(), testOptions)
		if err != nil {
			t.Errorf("waiting acquire: %v", err)
		}
		got <- l
	}()
	held.Return(nil)
	select {
	case l := <-got:
		if l != nil {
			if l.Session() != held.Session() {
				t.Fatal("waiter should receive the returned session")
			}
			l.Return(nil)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by return")
	}
}

func TestPoolClose(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	idle, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	leased, err := pool.Acquire(ctx, testOptions)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	idle.Return(nil)

	if err := pool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !idle.Session().State().Unusable {
		t.Fatal("idle session should be closed with the pool")
	}
	if leased.Session().State().Unusable {
		t.Fatal("leased session stays with its holder")
	}
	leased.Return(nil)
	if !leased.Session().State().Unusable {
		t.Fatal("session returned to a closed pool should be closed")
	}
	if _, err := pool.Acquire(ctx, testOptions); !errors.Is(err, uci.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestNewPoolRequiresBinary(t *testing.T) {
	if _, err := uci.NewPool(uci.PoolConfig{}); !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := uci.NewPool(uci.PoolConfig{BinaryPath: "/nonexistent/stockfish"}); !errors.Is(err, uci.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}
