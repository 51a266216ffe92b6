package bot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/chess/openingbook"
	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/obslog"
)

type Config struct {
	Options        uci.Options
	Depth          int
	MoveTimeMillis int
	WindowCP       int
}

type Option func(*Player)

func WithBook(book *openingbook.Book) Option {
	return func(p *Player) { p.book = book }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithSelector(s *Selector) Option {
	return func(p *Player) {
		if s != nil {
			p.selector = s
		}
	}
}

// Player searches on pooled sessions that are never shared with position
// analysis, one session per turn.
type Player struct {
	pool     *uci.Pool
	opt      uci.Options
	limits   uci.Limits
	selector *Selector
	book     *openingbook.Book
	logger   *zap.Logger

	mu     sync.Mutex
	turn   uint64
	cancel context.CancelFunc
}

func NewPlayer(pool *uci.Pool, cfg Config, opts ...Option) (*Player, error) {
	if pool == nil {
		return nil, fmt.Errorf("engine pool required")
	}
	limits := uci.Limits{Depth: cfg.Depth, MoveTimeMillis: cfg.MoveTimeMillis}
	if limits.Depth <= 0 && limits.MoveTimeMillis <= 0 {
		return nil, uci.ErrNoSearchLimits
	}
	p := &Player{
		pool:     pool,
		opt:      cfg.Options,
		limits:   limits,
		selector: NewSelector(cfg.WindowCP),
		logger:   obslog.Named("bot"),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Move picks the bot's reply in fen. Starting a new turn cancels the
// previous one.
func (p *Player) Move(ctx context.Context, fen string) (Decision, error) {
	if res, ok, err := p.book.Lookup(fen); err != nil {
		p.logger.Warn("book lookup failed", zap.String("fen", fen), zap.Error(err))
	} else if ok {
		c := Candidate{Rank: 1, Move: res.Move}
		return Decision{Move: res.Move, Candidates: []Candidate{c}, Source: SourceBook}, nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.turn++
	mine := p.turn
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.turn == mine {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	lease, err := p.pool.Acquire(turnCtx, p.opt)
	if err != nil {
		return Decision{}, p.canceledOr(ctx, turnCtx, err)
	}
	var releaseErr error
	defer func() {
		lease.Return(releaseErr)
	}()

	resp, err := lease.Session().Search(turnCtx, uci.SearchRequest{
		FEN:     fen,
		Limits:  p.limits,
		MultiPV: p.opt.MultiPV,
	})
	if err != nil {
		if turnCtx.Err() == nil {
			releaseErr = err
		}
		return Decision{}, p.canceledOr(ctx, turnCtx, err)
	}
	if turnCtx.Err() != nil {
		return Decision{}, p.canceledOr(ctx, turnCtx, turnCtx.Err())
	}

	decision, err := p.selector.Select(rankedFromSearch(resp))
	if err != nil {
		return Decision{}, err
	}
	p.logger.Debug("bot move selected",
		zap.String("fen", fen),
		zap.String("move", decision.Move),
		zap.Int("candidates", len(decision.Candidates)))
	return decision, nil
}

// Cancel aborts the turn in flight, if any. The aborted Move returns
// ErrCanceled.
func (p *Player) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Player) canceledOr(parent, turn context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if turn.Err() != nil {
		return ErrCanceled
	}
	return err
}

func rankedFromSearch(resp uci.SearchResponse) map[int]Candidate {
	ranked := make(map[int]Candidate, len(resp.Candidates))
	for _, c := range resp.Candidates {
		ranked[c.Rank] = Candidate{
			Rank:      c.Rank,
			Move:      c.Move,
			Score:     c.Score,
			HasScore:  true,
			Principal: append([]string(nil), c.Principal...),
		}
	}
	if len(ranked) == 0 && resp.BestMove != "" {
		ranked[1] = Candidate{Rank: 1, Move: resp.BestMove}
	}
	return ranked
}
