// Package feed streams analysis snapshots to browser clients over a
// WebSocket, one exclusively owned engine per connection.
package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/notation"
	"github.com/park285/cheese-coach/internal/chess/score"
	"github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/drill"
	"github.com/park285/cheese-coach/internal/obslog"
)

const (
	MessageAnalyze   = "analyze"
	MessageRetry     = "retry"
	MessageDrill     = "drill"
	MessageDrillStop = "drill_stop"

	EventSnapshot = "snapshot"
	EventVerdict  = "verdict"
	EventError    = "error"
)

// Message is sent by the client. Moves and Endgame describe the drill
// attempt at the position being analyzed.
type Message struct {
	Type     string `json:"type"`
	FEN      string `json:"fen,omitempty"`
	Hero     string `json:"hero,omitempty"`
	MaxMoves int    `json:"max_moves,omitempty"`
	Moves    int    `json:"moves,omitempty"`
	Endgame  bool   `json:"endgame,omitempty"`
}

// Event is sent to the client.
type Event struct {
	Type      string             `json:"type"`
	Snapshot  *analysis.Snapshot `json:"snapshot,omitempty"`
	Verdict   *drill.Verdict     `json:"verdict,omitempty"`
	Error     string             `json:"error,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
}

// AnalyzerFactory hands out an analyzer bound to its own engine. release
// closes the analyzer and returns the engine.
type AnalyzerFactory func(ctx context.Context) (a *analysis.Analyzer, release func(), err error)

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithDrill sets the bands used to judge drill attempts.
func WithDrill(cfg drill.Config) Option {
	return func(s *Server) { s.drillCfg = cfg }
}

type Server struct {
	factory      AnalyzerFactory
	oracle       notation.Oracle
	drillCfg     drill.Config
	logger       *zap.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
}

func NewServer(factory AnalyzerFactory, opts ...Option) *Server {
	s := &Server{
		factory:      factory,
		oracle:       notation.NewChessOracle(),
		drillCfg:     drill.ConfigFromTuning(config.Defaults().Drill),
		logger:       obslog.Named("feed"),
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler serves the socket on /ws and a liveness check on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// client is the state of one connection.
type client struct {
	s      *Server
	conn   *websocket.Conn
	a      *analysis.Analyzer
	logger *zap.Logger

	mu       sync.Mutex
	eval     *drill.Evaluator
	hero     score.Side
	startGen uint64
	tickFEN  string
	moves    int
	phase    drill.Phase
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	logger := s.logger.With(zap.String("conn", uuid.NewString()))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	a, release, err := s.factory(ctx)
	if err != nil {
		logger.Warn("no engine for connection", zap.Error(err))
		s.write(ctx, conn, Event{Type: EventError, Error: "engine unavailable", Retryable: true})
		conn.Close(websocket.StatusTryAgainLater, "engine unavailable")
		return
	}
	logger.Debug("connection opened")

	c := &client{s: s, conn: conn, a: a, logger: logger}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(ctx); err != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, conn, logger)
	}()

	c.readLoop(ctx)

	cancel()
	release()
	wg.Wait()
	logger.Debug("connection closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

func (c *client) writeLoop(ctx context.Context) error {
	for snap := range c.a.Updates() {
		if err := c.s.write(ctx, c.conn, Event{Type: EventSnapshot, Snapshot: &snap}); err != nil {
			return err
		}
		if v, ok := c.judge(snap); ok {
			if err := c.s.write(ctx, c.conn, Event{Type: EventVerdict, Verdict: &v}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *client) readLoop(ctx context.Context) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			c.logger.Debug("websocket read ended", zap.Error(err))
			return
		}

		var err error
		switch msg.Type {
		case MessageAnalyze:
			c.track(msg)
			_, err = c.a.Analyze(ctx, msg.FEN)
		case MessageRetry:
			_, err = c.a.Retry(ctx)
		case MessageDrill:
			var v drill.Verdict
			v, err = c.startDrill(msg)
			if err == nil {
				c.s.write(ctx, c.conn, Event{Type: EventVerdict, Verdict: &v})
			}
		case MessageDrillStop:
			c.stopDrill()
		default:
			c.s.write(ctx, c.conn, Event{Type: EventError, Error: "unknown message type " + msg.Type})
			continue
		}
		if err != nil {
			c.s.write(ctx, c.conn, errorEvent(err))
		}
	}
}

func errorEvent(err error) Event {
	ev := Event{Type: EventError, Error: err.Error()}
	switch {
	case errors.Is(err, notation.ErrInvalidPosition):
		ev.Error = "invalid position"
	case errors.Is(err, analysis.ErrAnalysisFailed):
		ev.Retryable = true
	}
	return ev
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	if s.pingInterval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// ListenAndServe runs the feed until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("feed listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
