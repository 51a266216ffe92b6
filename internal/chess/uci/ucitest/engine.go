// Package ucitest provides a scripted in-process UCI engine for tests.
package ucitest

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/park285/cheese-coach/internal/chess/uci"
)

// Responder returns the output for one "go" command. position is the last
// "position" command received, with the "position " prefix removed.
type Responder func(position string, goArgs []string) []string

// Engine answers the handshake and isready itself and delegates searches to
// its Responder. Set the behavior fields before Start.
type Engine struct {
	Responder Responder
	// HoldSearch keeps each search running, holding back its bestmove line
	// until a "stop" arrives.
	HoldSearch bool
	// MuteReady leaves isready unanswered.
	MuteReady bool
	// SkipHandshake leaves uci unanswered.
	SkipHandshake bool

	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	mu       sync.Mutex
	commands []string
	position string
	held     string
	done     chan struct{}
}

func New(r Responder) *Engine {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &Engine{
		Responder: r,
		inR:       inR,
		inW:       inW,
		outR:      outR,
		outW:      outW,
		done:      make(chan struct{}),
	}
}

// Lines is a Responder that answers every search with the same output.
func Lines(lines ...string) Responder {
	return func(string, []string) []string { return lines }
}

// Start runs the command loop and returns the session side of the pipes.
func (e *Engine) Start() (io.WriteCloser, io.Reader) {
	go e.loop()
	return e.inW, e.outR
}

// Attach starts the engine and connects a session to it.
func (e *Engine) Attach(ctx context.Context, opt uci.Options, opts ...uci.SessionOption) (*uci.Session, error) {
	stdin, stdout := e.Start()
	return uci.Attach(ctx, stdin, stdout, opt, opts...)
}

// Launcher returns a pool launcher that starts a fresh engine per session.
// configure runs on each engine before it starts.
func Launcher(r Responder, configure ...func(*Engine)) uci.Launcher {
	return func(ctx context.Context, opt uci.Options) (*uci.Session, error) {
		e := New(r)
		for _, fn := range configure {
			fn(e)
		}
		return e.Attach(ctx, opt)
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	defer e.outW.Close()

	sc := bufio.NewScanner(e.inR)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		e.mu.Lock()
		e.commands = append(e.commands, cmd)
		e.mu.Unlock()

		fields := strings.Fields(cmd)
		switch fields[0] {
		case "uci":
			if e.SkipHandshake {
				continue
			}
			e.write("id name ucitest", "id author cheese-coach", "option name MultiPV type spin default 1 min 1 max 500", "uciok")
		case "isready":
			if !e.MuteReady {
				e.write("readyok")
			}
		case "position":
			e.mu.Lock()
			e.position = strings.TrimPrefix(cmd, "position ")
			e.mu.Unlock()
		case "go":
			e.search(fields[1:])
		case "stop":
			e.mu.Lock()
			held := e.held
			e.held = ""
			e.mu.Unlock()
			if held != "" {
				e.write(held)
			}
		case "quit":
			_ = e.inR.Close()
			return
		}
	}
}

func (e *Engine) search(args []string) {
	e.mu.Lock()
	pos := e.position
	e.mu.Unlock()

	var out []string
	if e.Responder != nil {
		out = e.Responder(pos, args)
	}
	best := "bestmove (none)"
	body := make([]string, 0, len(out))
	for _, line := range out {
		if strings.HasPrefix(line, "bestmove") {
			best = line
			continue
		}
		body = append(body, line)
	}
	e.write(body...)
	if e.HoldSearch {
		e.mu.Lock()
		e.held = best
		e.mu.Unlock()
		return
	}
	e.write(best)
}

// Emit writes raw output lines as if the engine produced them.
func (e *Engine) Emit(lines ...string) {
	e.write(lines...)
}

func (e *Engine) write(lines ...string) {
	for _, line := range lines {
		if _, err := io.WriteString(e.outW, line+"\n"); err != nil {
			return
		}
	}
}

// Commands returns every command received so far.
func (e *Engine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Crash ends the engine output as if the process died.
func (e *Engine) Crash() {
	_ = e.outW.CloseWithError(io.ErrUnexpectedEOF)
	_ = e.inR.Close()
}

// Done is closed when the command loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}
