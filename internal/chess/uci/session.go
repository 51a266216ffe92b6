package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrHandshake         = errors.New("engine handshake failed")
	ErrReadyTimeout      = errors.New("engine ready timeout")
	ErrSessionClosed     = errors.New("engine session closed")
	ErrSearchTimeout     = errors.New("engine search timeout")
)

// BarriersPerRequest is the number of readyok lines a subscriber sees between
// subscribing and the first line of the search it asked for.
const BarriersPerRequest = 2

const (
	defaultReadyTimeout     = 4 * time.Second
	defaultSubscriberBuffer = 256
	quitGrace               = time.Second
	maxLineBytes            = 1 << 20
)

type Options struct {
	Threads    int
	HashMB     int
	MultiPV    int
	SkillLevel int
	Elo        int
}

type SessionOption func(*Session)

func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithReadyTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

func WithSubscriberBuffer(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.subBuffer = n
		}
	}
}

// Session owns one engine process. Output is read by a single goroutine and
// fanned out to subscribers; commands may be sent from any goroutine.
type Session struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	logger       *zap.Logger
	readyTimeout time.Duration
	subBuffer    int

	writeMu     sync.Mutex
	lastCommand string

	// serializes request sequences so barrier counts stay attributable
	requestMu sync.Mutex

	stateMu   sync.Mutex
	ready     bool
	unusable  bool
	failure   error
	uciok     bool
	multiPV   int
	readySent uint64
	readySeen uint64
	notify    chan struct{}

	subMu      sync.RWMutex
	subs       map[*Subscription]struct{}
	readerDone bool

	done      chan struct{}
	closeOnce sync.Once
}

type State struct {
	Ready       bool
	Unusable    bool
	LastCommand string
	Err         error
}

// NewSession launches the engine binary and completes the handshake. ctx
// bounds the launch and handshake only; the process lives until Close.
func NewSession(ctx context.Context, binaryPath string, opt Options, opts ...SessionOption) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("%w: binary path required", ErrEngineUnavailable)
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrEngineUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrEngineUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrEngineUnavailable, binaryPath, err)
	}

	s := newSession(stdin, stdout, opts...)
	s.cmd = cmd
	if err := s.start(ctx, opt); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Attach runs the handshake over an already connected transport.
func Attach(ctx context.Context, stdin io.WriteCloser, stdout io.Reader, opt Options, opts ...SessionOption) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	s := newSession(stdin, stdout, opts...)
	if err := s.start(ctx, opt); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(stdin io.WriteCloser, stdout io.Reader, opts ...SessionOption) *Session {
	s := &Session{
		stdin:        stdin,
		logger:       zap.NewNop(),
		readyTimeout: defaultReadyTimeout,
		subBuffer:    defaultSubscriberBuffer,
		notify:       make(chan struct{}),
		subs:         make(map[*Subscription]struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.readLoop(stdout)
	return s
}

func (s *Session) start(ctx context.Context, opt Options) error {
	if err := s.send("uci"); err != nil {
		return err
	}
	if err := s.waitFor(ctx, func() bool { return s.uciok }); err != nil {
		if errors.Is(err, ErrReadyTimeout) {
			err = fmt.Errorf("%w: no uciok within %s", ErrHandshake, s.readyTimeout)
			s.fail(err)
		}
		return err
	}
	for _, line := range optionCommands(opt) {
		if err := s.send(line); err != nil {
			return err
		}
	}
	if err := s.barrier(ctx); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.ready = true
	s.multiPV = opt.MultiPV
	s.stateMu.Unlock()
	s.logger.Debug("engine ready", zap.Int("threads", opt.Threads), zap.Int("multipv", opt.MultiPV))
	return nil
}

func (s *Session) readLoop(stdout io.Reader) {
	defer close(s.done)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if ce := s.logger.Check(zap.DebugLevel, "engine >"); ce != nil {
			ce.Write(zap.String("line", line))
		}
		switch Classify(line) {
		case LineUCIOK:
			s.stateMu.Lock()
			s.uciok = true
			s.broadcastLocked()
			s.stateMu.Unlock()
		case LineReadyOK:
			s.stateMu.Lock()
			s.readySeen++
			s.broadcastLocked()
			s.stateMu.Unlock()
		}
		s.dispatch(line)
	}

	cause := sc.Err()
	if cause == nil {
		cause = io.EOF
	}
	s.fail(fmt.Errorf("%w: output closed: %v", ErrEngineUnavailable, cause))
	s.closeSubscribers()
}

func (s *Session) broadcastLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// fail marks the session unusable. The first failure wins.
func (s *Session) fail(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.unusable {
		return
	}
	s.unusable = true
	s.ready = false
	s.failure = err
	s.broadcastLocked()
	s.logger.Warn("engine session unusable", zap.Error(err))
}

func (s *Session) usable() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.unusable {
		return s.failure
	}
	return nil
}

func (s *Session) waitFor(ctx context.Context, cond func() bool) error {
	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	for {
		s.stateMu.Lock()
		if cond() {
			s.stateMu.Unlock()
			return nil
		}
		if s.unusable {
			err := s.failure
			s.stateMu.Unlock()
			return err
		}
		ch := s.notify
		s.stateMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrReadyTimeout
		}
	}
}

// barrier sends isready and waits for the readyok answering it. Every
// barrier is numbered, so a late readyok from an abandoned wait cannot
// satisfy a newer one.
func (s *Session) barrier(ctx context.Context) error {
	s.stateMu.Lock()
	if s.unusable {
		err := s.failure
		s.stateMu.Unlock()
		return err
	}
	s.readySent++
	target := s.readySent
	s.stateMu.Unlock()

	if err := s.send("isready"); err != nil {
		return err
	}
	err := s.waitFor(ctx, func() bool { return s.readySeen >= target })
	if errors.Is(err, ErrReadyTimeout) {
		err = fmt.Errorf("%w: isready #%d unanswered after %s", ErrReadyTimeout, target, s.readyTimeout)
		s.fail(err)
	}
	return err
}

// EnsureReady checks that the engine still answers isready.
func (s *Session) EnsureReady(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.requestMu.Lock()
	defer s.requestMu.Unlock()
	return s.barrier(ctx)
}

func (s *Session) send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		werr := fmt.Errorf("%w: write %q: %v", ErrEngineUnavailable, cmd, err)
		s.fail(werr)
		return werr
	}
	s.lastCommand = cmd
	s.logger.Debug("engine <", zap.String("cmd", cmd))
	return nil
}

type AnalysisRequest struct {
	FEN     string
	Moves   []string
	Limits  Limits
	MultiPV int
}

// RequestAnalysis stops any running search, drains it behind a ready
// barrier, loads the position behind a second barrier and starts the new
// search. Output is delivered to subscribers only.
func (s *Session) RequestAnalysis(ctx context.Context, req AnalysisRequest) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.requestMu.Lock()
	defer s.requestMu.Unlock()
	return s.requestLocked(ctx, req)
}

func (s *Session) requestLocked(ctx context.Context, req AnalysisRequest) error {
	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return err
	}
	if req.MultiPV < 0 {
		return fmt.Errorf("multipv must be positive")
	}

	if err := s.send("stop"); err != nil {
		return err
	}
	if err := s.barrier(ctx); err != nil {
		return err
	}
	if err := s.send("ucinewgame"); err != nil {
		return err
	}

	s.stateMu.Lock()
	setLines := req.MultiPV > 0 && req.MultiPV != s.multiPV
	s.stateMu.Unlock()
	if setLines {
		if err := s.send("setoption name MultiPV value " + strconv.Itoa(req.MultiPV)); err != nil {
			return err
		}
		s.stateMu.Lock()
		s.multiPV = req.MultiPV
		s.stateMu.Unlock()
	}

	if err := s.send(buildPositionCommand(req.FEN, req.Moves)); err != nil {
		return err
	}
	if err := s.barrier(ctx); err != nil {
		return err
	}
	return s.send(strings.Join(goTokens, " "))
}

// Stop asks the engine to end the current search. It is a no-op on an idle
// or closed session.
func (s *Session) Stop() {
	if s.usable() != nil {
		return
	}
	_ = s.send("stop")
}

// Shutdown is Close for callers that cannot act on the error.
func (s *Session) Shutdown() {
	_ = s.Close()
}

// Close sends quit, closes stdin and reaps the process, killing it if it
// does not exit within a second. Safe to call more than once.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		live := s.usable() == nil
		s.fail(ErrSessionClosed)
		if live {
			_ = s.send("quit")
		}
		_ = s.stdin.Close()

		if s.cmd == nil {
			return
		}
		waitCh := make(chan error, 1)
		go func() { waitCh <- s.cmd.Wait() }()
		select {
		case err := <-waitCh:
			closeErr = ignoreExit(err)
		case <-time.After(quitGrace):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			closeErr = ignoreExit(<-waitCh)
		}
	})
	return closeErr
}

func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Done is closed once the engine output stream has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	s.stateMu.Lock()
	st := State{Ready: s.ready, Unusable: s.unusable, Err: s.failure}
	s.stateMu.Unlock()

	s.writeMu.Lock()
	st.LastCommand = s.lastCommand
	s.writeMu.Unlock()
	return st
}

func validateOptions(opt Options) error {
	if opt.Threads <= 0 {
		return fmt.Errorf("threads must be positive")
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash must be positive")
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be positive")
	}
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level out of range: %d", opt.SkillLevel)
	}
	if opt.Elo < 0 {
		return fmt.Errorf("elo must be non-negative")
	}
	return nil
}

// optionCommands leaves skill and strength alone unless set, so analysis
// sessions run at full strength.
func optionCommands(opt Options) []string {
	cmds := []string{
		"setoption name Threads value " + strconv.Itoa(opt.Threads),
		"setoption name Hash value " + strconv.Itoa(opt.HashMB),
		"setoption name MultiPV value " + strconv.Itoa(opt.MultiPV),
	}
	if opt.SkillLevel > 0 {
		cmds = append(cmds, "setoption name Skill Level value "+strconv.Itoa(opt.SkillLevel))
	}
	if opt.Elo > 0 {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true",
			"setoption name UCI_Elo value "+strconv.Itoa(opt.Elo))
	}
	return cmds
}
