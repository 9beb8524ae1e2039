// Owns one engine process, speaks UCI over stdin/stdout, and exposes the
// parsed output stream plus position evaluation and MultiPV search.

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

type connState int32

const (
	stateUninitialized connState = iota
	stateHandshaking
	stateReady
	stateDisposed
)

const (
	processHandshakeTimeout = 10 * time.Second
	pipeHandshakeTimeout    = 30 * time.Second // in-host workers may still be compiling
	disposeKillGrace        = 2 * time.Second
	stopReportGrace         = 500 * time.Millisecond
)

// Conn is one engine connection. Only a Ready connection accepts analysis
// commands; a connection whose stream has ended must not be reused.
type Conn struct {
	cmd *exec.Cmd // nil for pipe-backed connections

	mu    sync.Mutex // guards in and state transitions
	in    *bufio.Writer
	inc   io.Closer
	state atomic.Int32

	searchMu sync.Mutex // one outstanding search at a time

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	streamDone chan struct{} // closed when the output stream ends
	procDone   chan struct{} // closed when the process is reaped
	disposing  sync.Once

	handshakeTimeout time.Duration
	stopGrace        time.Duration
	log              zerolog.Logger
}

// EvalOutcome is the result of evaluating a single position.
type EvalOutcome struct {
	Score models.UCIScore
	PV    []string
	Depth int
	Nodes int64
}

// NewConn spawns the engine binary at path. Binary-resolution failures are
// reported synchronously, wrapped in ErrProcessSpawn.
func NewConn(path string, log zerolog.Logger) (*Conn, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}

	c := newConn(stdout, stdin, log)
	c.cmd = cmd
	c.handshakeTimeout = processHandshakeTimeout
	go func() {
		_ = cmd.Wait()
		close(c.procDone)
	}()
	return c, nil
}

// NewPipeConn wraps an already-connected reader/writer pair, used for
// in-host background workers and tests. No process is managed.
func NewPipeConn(r io.Reader, w io.Writer, log zerolog.Logger) *Conn {
	c := newConn(r, w, log)
	close(c.procDone)
	return c
}

func newConn(r io.Reader, w io.Writer, log zerolog.Logger) *Conn {
	c := &Conn{
		in:               bufio.NewWriter(w),
		subs:             make(map[*subscriber]struct{}),
		streamDone:       make(chan struct{}),
		procDone:         make(chan struct{}),
		handshakeTimeout: pipeHandshakeTimeout,
		stopGrace:        stopReportGrace,
		log:              log,
	}
	if wc, ok := w.(io.Closer); ok {
		c.inc = wc
	}
	go c.readLoop(r)
	return c
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		msg := ParseEngineLine(scanner.Text())
		c.subMu.Lock()
		for s := range c.subs {
			s.push(msg)
		}
		c.subMu.Unlock()
	}
	close(c.streamDone)
	c.subMu.Lock()
	for s := range c.subs {
		s.close()
	}
	c.subMu.Unlock()
}

// Alive reports whether the output stream is still open.
func (c *Conn) Alive() bool {
	select {
	case <-c.streamDone:
		return false
	default:
		return true
	}
}

// Subscribe attaches an observer to the parsed output stream. Every
// observer sees every line in order; delivery is buffered without bound so
// a slow observer never blocks engine I/O. The cancel function detaches
// and closes the channel.
func (c *Conn) Subscribe() (<-chan EngineMessage, func()) {
	s := newSubscriber()
	c.subMu.Lock()
	if !c.Alive() {
		c.subMu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	c.subs[s] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		delete(c.subs, s)
		c.subMu.Unlock()
		s.detach()
	}
	return s.ch, cancel
}

// Send writes one command line to the engine. It silently no-ops once the
// connection is disposed.
func (c *Conn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connState(c.state.Load()) == stateDisposed {
		return nil
	}
	if _, err := fmt.Fprintln(c.in, text); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerDisconnected, err)
	}
	if err := c.in.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerDisconnected, err)
	}
	return nil
}

// WaitForReady performs the UCI handshake: uci -> uciok, isready ->
// readyok. A timeout fails with ErrHandshakeTimeout; the caller should
// dispose the connection and may retry with a fresh one.
func (c *Conn) WaitForReady(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateUninitialized), int32(stateHandshaking)) {
		if connState(c.state.Load()) == stateReady {
			return nil
		}
		return ErrNotReady
	}

	ch, cancel := c.Subscribe()
	defer cancel()

	deadline := time.NewTimer(c.handshakeTimeout)
	defer deadline.Stop()

	if err := c.Send("uci"); err != nil {
		return err
	}
	if err := c.await(ctx, ch, deadline.C, MsgUCIOk); err != nil {
		return err
	}
	if err := c.Send("isready"); err != nil {
		return err
	}
	if err := c.await(ctx, ch, deadline.C, MsgReadyOk); err != nil {
		return err
	}
	c.state.Store(int32(stateReady))
	return nil
}

func (c *Conn) await(ctx context.Context, ch <-chan EngineMessage, deadline <-chan time.Time, kind MsgKind) error {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ErrWorkerDisconnected
			}
			if msg.Kind == kind {
				return nil
			}
		case <-deadline:
			return ErrHandshakeTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetOption sends a UCI setoption command.
func (c *Conn) SetOption(name string, value any) error {
	return c.Send(fmt.Sprintf("setoption name %s value %v", name, value))
}

// EvalPosition evaluates one position to the given depth. The score is
// from the side to move's point of view, per UCI convention.
func (c *Conn) EvalPosition(ctx context.Context, fen string, depth int) (EvalOutcome, error) {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()

	if connState(c.state.Load()) != stateReady {
		return EvalOutcome{}, ErrNotReady
	}

	ch, cancel := c.Subscribe()
	defer cancel()

	// an earlier discovery search may have left MultiPV widened
	if err := c.SetOption("MultiPV", 1); err != nil {
		return EvalOutcome{}, err
	}
	if err := c.Send(fmt.Sprintf("position fen %s", fen)); err != nil {
		return EvalOutcome{}, err
	}
	if err := c.Send(fmt.Sprintf("go depth %d", depth)); err != nil {
		return EvalOutcome{}, err
	}

	var out EvalOutcome
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return EvalOutcome{}, ErrWorkerDisconnected
			}
			switch msg.Kind {
			case MsgInfo:
				// MultiPV lines beyond the first are not this search's eval
				if msg.Info.MultiPV > 1 {
					continue
				}
				out.Score.CP = msg.Info.CP
				out.Score.Mate = msg.Info.Mate
				out.Depth = msg.Info.Depth
				out.Nodes = msg.Info.Nodes
				if len(msg.Info.PV) > 0 {
					out.PV = msg.Info.PV
				}
			case MsgBestMove:
				out.Score.Best = msg.BestMove
				return out, nil
			}
		case <-ctx.Done():
			// ask the engine to wrap up, then give it a moment to report
			_ = c.Send("stop")
			grace := time.After(c.stopGrace)
			for {
				select {
				case msg, ok := <-ch:
					if !ok {
						return EvalOutcome{}, ErrWorkerDisconnected
					}
					if msg.Kind == MsgBestMove {
						return EvalOutcome{}, ctx.Err()
					}
				case <-grace:
					// the stream still carries this search; a reused
					// connection would read its late bestmove as the
					// next search's result
					c.abandonSearch()
					return EvalOutcome{}, ctx.Err()
				}
			}
		}
	}
}

// SearchMultiPV runs a MultiPV search, returning one ranked line per
// requested PV with scores normalized to White's point of view.
func (c *Conn) SearchMultiPV(ctx context.Context, fen string, depth, lines int) (models.DiscoveryResult, error) {
	c.searchMu.Lock()
	defer c.searchMu.Unlock()

	if connState(c.state.Load()) != stateReady {
		return models.DiscoveryResult{}, ErrNotReady
	}
	if lines < 1 {
		lines = 1
	}

	ch, cancel := c.Subscribe()
	defer cancel()

	if err := c.SetOption("MultiPV", lines); err != nil {
		return models.DiscoveryResult{}, err
	}
	if err := c.Send(fmt.Sprintf("position fen %s", fen)); err != nil {
		return models.DiscoveryResult{}, err
	}
	if err := c.Send(fmt.Sprintf("go depth %d", depth)); err != nil {
		return models.DiscoveryResult{}, err
	}

	blackToMove := sideToMove(fen) == "b"
	byRank := make(map[int]*InfoLine)
	res := models.DiscoveryResult{FEN: fen, Depth: depth}
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return models.DiscoveryResult{}, ErrWorkerDisconnected
			}
			switch msg.Kind {
			case MsgInfo:
				rank := msg.Info.MultiPV
				if rank == 0 {
					rank = 1
				}
				prev := byRank[rank]
				if prev == nil || msg.Info.Depth >= prev.Depth {
					byRank[rank] = msg.Info
				}
			case MsgBestMove:
				res.BestMove = msg.BestMove
				for rank := 1; rank <= lines; rank++ {
					info := byRank[rank]
					if info == nil {
						continue
					}
					line := models.DiscoveryLine{
						Rank:        rank,
						Depth:       info.Depth,
						Score:       models.UCIScore{CP: info.CP, Mate: info.Mate},
						Moves:       info.PV,
						Nodes:       info.Nodes,
						NodesPerSec: info.NodesPerSec,
					}
					if blackToMove {
						line.Score = line.Score.Negate()
					}
					res.Lines = append(res.Lines, line)
				}
				return res, nil
			}
		case <-ctx.Done():
			_ = c.Send("stop")
			grace := time.After(c.stopGrace)
			for {
				select {
				case msg, ok := <-ch:
					if !ok {
						return models.DiscoveryResult{}, ErrWorkerDisconnected
					}
					if msg.Kind == MsgBestMove {
						return models.DiscoveryResult{}, ctx.Err()
					}
				case <-grace:
					c.abandonSearch()
					return models.DiscoveryResult{}, ctx.Err()
				}
			}
		}
	}
}

// StopSearch asks the engine to finish its current search immediately.
func (c *Conn) StopSearch() {
	_ = c.Send("stop")
}

// abandonSearch retires a connection whose engine never acknowledged
// stop: the protocol stream is out of sync and any further command would
// read the wrong reply. The pool respawns instead of reusing it.
func (c *Conn) abandonSearch() {
	c.state.Store(int32(stateDisposed))
	go c.Dispose()
}

// Dispose shuts the connection down. Idempotent. The process path sends
// quit, then SIGTERM, then SIGKILL after a short grace period; the pipe
// path just closes the input.
func (c *Conn) Dispose() {
	c.disposing.Do(func() {
		_ = c.Send("quit")
		c.mu.Lock()
		c.state.Store(int32(stateDisposed))
		c.mu.Unlock()

		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-c.procDone:
			case <-time.After(disposeKillGrace):
				_ = c.cmd.Process.Kill()
				<-c.procDone
			}
		}
		if c.inc != nil {
			_ = c.inc.Close()
		}
	})
}

// subscriber buffers messages without bound between the read loop and one
// observer, preserving order.
type subscriber struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []EngineMessage
	done     bool
	ch       chan EngineMessage
	quit     chan struct{}
	quitOnce sync.Once
}

func newSubscriber() *subscriber {
	s := &subscriber{ch: make(chan EngineMessage), quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscriber) push(msg EngineMessage) {
	s.mu.Lock()
	if !s.done {
		s.pending = append(s.pending, msg)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// close marks end of stream: buffered messages still drain, then the
// channel closes.
func (s *subscriber) close() {
	s.mu.Lock()
	s.done = true
	s.cond.Signal()
	s.mu.Unlock()
}

// detach is observer-initiated cancellation: pending messages are dropped
// and the pump exits even if nobody is reading.
func (s *subscriber) detach() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	s.done = true
	s.pending = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		msg := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		select {
		case s.ch <- msg:
		case <-s.quit:
			close(s.ch)
			return
		}
	}
}
