// Package analysis turns the raw output of one engine session into ranked,
// white-positive lines for the position currently being studied.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/obslog"
)

var (
	ErrAnalysisFailed = errors.New("analysis failed")
	ErrClosed         = errors.New("analyzer closed")
	ErrNoPosition     = errors.New("no position to analyze")
)

const (
	defaultHighlightColor = "#15781B80"
	storeTimeout          = 2 * time.Second
)

// Engine is the part of a uci.Session the analyzer drives. The analyzer
// must be the only writer to it.
type Engine interface {
	Subscribe() *uci.Subscription
	RequestAnalysis(ctx context.Context, req uci.AnalysisRequest) error
	Stop()
}

type Config struct {
	Depth          int
	Lines          int
	HighlightColor string
}

type Option func(*Analyzer)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithStore(store SnapshotStore) Option {
	return func(a *Analyzer) { a.store = store }
}

// Analyzer runs one subject at a time on an exclusively owned engine. Each
// Analyze call starts a new generation; output of older generations is
// dropped where it is consumed.
type Analyzer struct {
	engine Engine
	oracle notation.Oracle
	cfg    Config
	logger *zap.Logger
	store  SnapshotStore

	requestMu sync.Mutex
	publishMu sync.Mutex
	wg        sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	state     State
	agg       *Aggregator
	fen       string
	best      string
	bestSAN   string
	highlight notation.Highlight
	cached    bool
	err       error
	sub       *uci.Subscription
	closed    bool

	updates chan Snapshot
}

func NewAnalyzer(engine Engine, oracle notation.Oracle, cfg Config, opts ...Option) (*Analyzer, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle required")
	}
	if cfg.Depth <= 0 {
		return nil, fmt.Errorf("depth must be positive")
	}
	if cfg.Lines <= 0 {
		return nil, fmt.Errorf("lines must be positive")
	}
	if cfg.HighlightColor == "" {
		cfg.HighlightColor = defaultHighlightColor
	}
	a := &Analyzer{
		engine:  engine,
		oracle:  oracle,
		cfg:     cfg,
		logger:  obslog.Named("analysis"),
		state:   StateIdle,
		updates: make(chan Snapshot, 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Analyze supersedes the current subject with fen and returns the new
// generation. It returns once the engine has started searching.
func (a *Analyzer) Analyze(ctx context.Context, fen string) (uint64, error) {
	a.requestMu.Lock()
	defer a.requestMu.Unlock()
	return a.analyzeLocked(ctx, fen)
}

// Retry analyzes the current position again.
func (a *Analyzer) Retry(ctx context.Context) (uint64, error) {
	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	a.mu.Lock()
	fen := a.fen
	a.mu.Unlock()
	if fen == "" {
		return 0, ErrNoPosition
	}
	return a.analyzeLocked(ctx, fen)
}

func (a *Analyzer) analyzeLocked(ctx context.Context, fen string) (uint64, error) {
	board, err := a.oracle.Open(fen)
	if err != nil {
		return 0, err
	}
	toMove := board.SideToMove()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, ErrClosed
	}
	a.gen++
	g := a.gen
	old := a.sub
	a.sub = nil
	a.fen = fen
	a.agg = NewAggregator(a.oracle, fen, toMove, a.cfg.Lines)
	a.state = StateRequested
	a.best = ""
	a.bestSAN = ""
	a.highlight = notation.Highlight{}
	a.cached = false
	a.err = nil
	a.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
		a.engine.Stop()
	}
	a.publish()

	if a.loadCached(ctx, g, fen) {
		return g, nil
	}

	sub := a.engine.Subscribe()
	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	a.wg.Add(1)
	go a.consume(g, sub)

	err = a.engine.RequestAnalysis(ctx, uci.AnalysisRequest{
		FEN:     fen,
		Limits:  uci.Limits{Depth: a.cfg.Depth},
		MultiPV: a.cfg.Lines,
	})
	if err != nil {
		ferr := fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
		a.mu.Lock()
		if a.gen == g {
			a.state = StateFailed
			a.err = ferr
			a.sub = nil
		}
		a.mu.Unlock()
		sub.Unsubscribe()
		a.publish()
		a.logger.Warn("analysis request failed", zap.Uint64("generation", g), zap.String("fen", fen), zap.Error(err))
		return g, ferr
	}
	a.logger.Debug("analysis started", zap.Uint64("generation", g), zap.String("fen", fen), zap.Int("depth", a.cfg.Depth))
	return g, nil
}

func (a *Analyzer) consume(g uint64, sub *uci.Subscription) {
	defer a.wg.Done()

	barriers := 0
	for line := range sub.Lines() {
		switch uci.Classify(line) {
		case uci.LineReadyOK:
			barriers++
		case uci.LineInfo:
			if barriers >= uci.BarriersPerRequest {
				a.applyInfo(g, line)
			}
		case uci.LineBestMove:
			if barriers >= uci.BarriersPerRequest {
				a.applyBestMove(g, line)
			}
		}
	}

	a.mu.Lock()
	lost := a.gen == g && (a.state == StateRequested || a.state == StateStreaming)
	if lost {
		a.state = StateFailed
		a.err = fmt.Errorf("%w: %v", ErrAnalysisFailed, uci.ErrEngineUnavailable)
		a.sub = nil
	}
	a.mu.Unlock()
	if lost {
		a.logger.Warn("engine output ended mid-analysis", zap.Uint64("generation", g))
		a.publish()
	}
}

func (a *Analyzer) applyInfo(g uint64, raw string) {
	a.mu.Lock()
	if a.gen != g {
		a.mu.Unlock()
		return
	}
	agg := a.agg
	a.mu.Unlock()

	line, ok := agg.Parse(raw)
	if !ok {
		return
	}

	a.mu.Lock()
	if a.gen != g || a.state == StateStable {
		a.mu.Unlock()
		return
	}
	upd, changed := agg.Accept(line)
	if !changed {
		a.mu.Unlock()
		return
	}
	a.state = StateStreaming
	if upd.BestMove != "" {
		a.best = upd.BestMove
		a.bestSAN = upd.BestMoveSAN
		a.highlight = notation.TokenToHighlight(upd.BestMove, a.cfg.HighlightColor)
	}
	a.mu.Unlock()
	a.publish()
}

func (a *Analyzer) applyBestMove(g uint64, raw string) {
	best, _, ok := uci.ParseBestMove(raw)
	if !ok {
		return
	}

	a.mu.Lock()
	if a.gen != g || a.state == StateStable {
		a.mu.Unlock()
		return
	}
	if best != "" && a.best == "" {
		a.best = best
		a.highlight = notation.TokenToHighlight(best, a.cfg.HighlightColor)
		tr := notation.TranslateSequence(a.oracle, a.fen, []string{best})
		if len(tr.SAN) == 1 {
			a.bestSAN = tr.SAN[0]
		}
	}
	a.state = StateStable
	a.mu.Unlock()

	snap := a.publish()
	a.logger.Debug("analysis stable",
		zap.Uint64("generation", g),
		zap.Int("depth", snap.Depth),
		zap.String("best", snap.BestMoveSAN),
		zap.Stringer("eval", snap.Eval))
	a.saveCached(snap)
}

// Snapshot returns the state of the current subject.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Analyzer) snapshotLocked() Snapshot {
	snap := Snapshot{
		Generation:        a.gen,
		FEN:               a.fen,
		State:             a.state,
		BestMove:          a.best,
		BestMoveSAN:       a.bestSAN,
		BestMoveHighlight: a.highlight,
		Cached:            a.cached,
		Err:               a.err,
	}
	if a.err != nil {
		snap.Error = a.err.Error()
	}
	if a.agg == nil {
		return snap
	}
	snap.Lines = a.agg.Lines()
	if len(snap.Lines) > 0 {
		snap.Eval = snap.Lines[0].Eval
		snap.Depth = snap.Lines[0].Depth
	}
	return snap
}

// Updates delivers the latest snapshot after every change. Only the most
// recent unread snapshot is kept.
func (a *Analyzer) Updates() <-chan Snapshot {
	return a.updates
}

func (a *Analyzer) publish() Snapshot {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()

	snap := a.Snapshot()
	select {
	case a.updates <- snap:
		return snap
	default:
	}
	select {
	case <-a.updates:
	default:
	}
	select {
	case a.updates <- snap:
	default:
	}
	return snap
}

// Close retires the current subject, stops the engine and closes Updates.
// The engine itself is left to its owner.
func (a *Analyzer) Close() {
	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	sub := a.sub
	a.sub = nil
	if a.state == StateRequested || a.state == StateStreaming {
		a.state = StateSuperseded
	}
	a.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		a.engine.Stop()
	}
	a.wg.Wait()

	a.publishMu.Lock()
	close(a.updates)
	a.publishMu.Unlock()
}

func (a *Analyzer) cacheKey(fen string) CacheKey {
	return CacheKey{FEN: fen, Depth: a.cfg.Depth, Lines: a.cfg.Lines}
}

func (a *Analyzer) loadCached(ctx context.Context, g uint64, fen string) bool {
	if a.store == nil {
		return false
	}
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	snap, err := a.store.Load(loadCtx, a.cacheKey(fen))
	if err != nil {
		a.logger.Warn("snapshot cache load failed", zap.String("fen", fen), zap.Error(err))
		return false
	}
	if snap == nil || snap.Depth < a.cfg.Depth || len(snap.Lines) < a.cfg.Lines {
		return false
	}

	a.mu.Lock()
	if a.gen != g {
		a.mu.Unlock()
		return false
	}
	agg := a.agg
	for _, l := range snap.Lines[:a.cfg.Lines] {
		agg.Accept(l)
	}
	a.best = snap.BestMove
	a.bestSAN = snap.BestMoveSAN
	a.highlight = snap.BestMoveHighlight
	a.state = StateStable
	a.cached = true
	a.mu.Unlock()

	a.publish()
	a.logger.Debug("analysis served from cache", zap.Uint64("generation", g), zap.String("fen", fen))
	return true
}

func (a *Analyzer) saveCached(snap Snapshot) {
	if a.store == nil || snap.Cached || snap.Depth < a.cfg.Depth {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.store.Save(ctx, a.cacheKey(snap.FEN), snap); err != nil {
		a.logger.Warn("snapshot cache save failed", zap.String("fen", snap.FEN), zap.Error(err))
	}
}
