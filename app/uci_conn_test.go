package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newScriptedConn wires a Conn to a fake engine: every line the Conn sends
// is handed to script together with an emit function for replies.
func newScriptedConn(t *testing.T, script func(line string, emit func(string))) *Conn {
	t.Helper()
	engIn, connIn := io.Pipe()   // conn -> engine
	connOut, engOut := io.Pipe() // engine -> conn

	conn := NewPipeConn(connOut, connIn, zerolog.Nop())
	emit := func(s string) { _, _ = fmt.Fprintln(engOut, s) }
	go func() {
		scanner := bufio.NewScanner(engIn)
		for scanner.Scan() {
			script(scanner.Text(), emit)
		}
		_ = engOut.Close()
	}()
	t.Cleanup(func() {
		conn.Dispose()
		_ = engIn.Close()
	})
	return conn
}

// handshakeAndGo answers the handshake and delegates searches.
func handshakeAndGo(onGo func(fen string, depth int, emit func(string))) func(string, func(string)) {
	var fen string
	return func(line string, emit func(string)) {
		switch {
		case line == "uci":
			emit("id name faketofish")
			emit("uciok")
		case line == "isready":
			emit("readyok")
		case strings.HasPrefix(line, "position fen "):
			fen = strings.TrimPrefix(line, "position fen ")
		case strings.HasPrefix(line, "go depth "):
			d, _ := strconv.Atoi(strings.TrimPrefix(line, "go depth "))
			onGo(fen, d, emit)
		}
	}
}

func TestWaitForReadyHandshake(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(nil))
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}
	// already ready: second call is a no-op
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady twice: %v", err)
	}
}

func TestWaitForReadyTimeout(t *testing.T) {
	conn := newScriptedConn(t, func(line string, emit func(string)) {
		// engine that never answers
	})
	conn.handshakeTimeout = 50 * time.Millisecond
	err := conn.WaitForReady(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestEvalPositionParsesFinalScore(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(func(fen string, depth int, emit func(string)) {
		emit("info depth 8 score cp 11 pv e2e4")
		emit(fmt.Sprintf("info depth %d score cp 23 nodes 4000 pv e2e4 e7e5", depth))
		emit("bestmove e2e4 ponder e7e5")
	}))
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	out, err := conn.EvalPosition(context.Background(), "some-fen", 12)
	if err != nil {
		t.Fatalf("EvalPosition: %v", err)
	}
	if out.Score.CP == nil || *out.Score.CP != 23 {
		t.Fatalf("score = %+v, want cp 23", out.Score)
	}
	if out.Score.Best != "e2e4" || out.Depth != 12 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(out.PV) != 2 || out.PV[0] != "e2e4" {
		t.Fatalf("unexpected pv %v", out.PV)
	}
}

func TestEvalPositionNotReady(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(nil))
	if _, err := conn.EvalPosition(context.Background(), "fen", 10); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSearchMultiPVNormalizesForBlack(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(func(fen string, depth int, emit func(string)) {
		emit("info depth 10 multipv 1 score cp 40 nodes 1000 nps 90000 pv e7e5 g1f3")
		emit("info depth 10 multipv 2 score mate 3 nodes 800 nps 90000 pv d7d5")
		emit("bestmove e7e5")
	}))
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	res, err := conn.SearchMultiPV(context.Background(),
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1", 10, 2)
	if err != nil {
		t.Fatalf("SearchMultiPV: %v", err)
	}
	if len(res.Lines) != 2 || res.BestMove != "e7e5" {
		t.Fatalf("unexpected result %+v", res)
	}
	// black to move: +40 for black is -40 from White's point of view
	if *res.Lines[0].Score.CP != -40 {
		t.Fatalf("rank 1 score = %d, want -40", *res.Lines[0].Score.CP)
	}
	if *res.Lines[1].Score.Mate != -3 {
		t.Fatalf("rank 2 mate = %d, want -3", *res.Lines[1].Score.Mate)
	}
	if res.Lines[0].Moves[0] != "e7e5" || res.Lines[0].NodesPerSec != 90000 {
		t.Fatalf("unexpected line %+v", res.Lines[0])
	}
}

func TestObserversSeeOrderedStream(t *testing.T) {
	outR, outW := io.Pipe()
	var sb strings.Builder
	conn := NewPipeConn(outR, &sb, zerolog.Nop())

	ch1, cancel1 := conn.Subscribe()
	ch2, cancel2 := conn.Subscribe()
	defer cancel1()
	defer cancel2()

	go func() {
		_, _ = fmt.Fprintln(outW, "readyok")
		_, _ = fmt.Fprintln(outW, "info depth 1 score cp 5")
		_, _ = fmt.Fprintln(outW, "bestmove e2e4")
		_ = outW.Close()
	}()

	wantKinds := []MsgKind{MsgReadyOk, MsgInfo, MsgBestMove}
	for _, ch := range []<-chan EngineMessage{ch1, ch2} {
		for i, want := range wantKinds {
			msg, ok := <-ch
			if !ok {
				t.Fatalf("stream closed early at message %d", i)
			}
			if msg.Kind != want {
				t.Fatalf("message %d kind = %v, want %v", i, msg.Kind, want)
			}
		}
		if _, ok := <-ch; ok {
			t.Fatalf("expected closed channel after stream end")
		}
	}
	if conn.Alive() {
		t.Fatalf("conn should not be alive after stream end")
	}
}

func TestStreamEndSurfacesAsDisconnect(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(func(fen string, depth int, emit func(string)) {
		// die mid-search: no reply, and the test closes the stream below
	}))
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conn.EvalPosition(context.Background(), "fen", 10)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	conn.Dispose() // closes the engine side, ending the stream

	select {
	case err := <-done:
		if !errors.Is(err, ErrWorkerDisconnected) {
			t.Fatalf("expected ErrWorkerDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("EvalPosition did not observe stream end")
	}
}

func TestCancelledSearchWithoutReportRetiresConn(t *testing.T) {
	conn := newScriptedConn(t, func(line string, emit func(string)) {
		switch {
		case line == "uci":
			emit("uciok")
		case line == "isready":
			emit("readyok")
		case line == "stop":
			go func() {
				// report long after the caller stopped waiting
				time.Sleep(150 * time.Millisecond)
				emit("bestmove h7h5")
			}()
		}
	})
	conn.stopGrace = 20 * time.Millisecond
	if err := conn.WaitForReady(context.Background()); err != nil {
		t.Fatalf("WaitForReady: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := conn.EvalPosition(ctx, "fen", 10); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// the stream still carries the abandoned search; its late bestmove
	// must not become the next search's result
	time.Sleep(200 * time.Millisecond)
	out, err := conn.EvalPosition(context.Background(), "fen2", 12)
	if err == nil {
		t.Fatalf("reused a connection with a search still in flight: %+v", out)
	}
	if out.Score.Best == "h7h5" {
		t.Fatalf("stale bestmove leaked into a new search")
	}
}

func TestSendAfterDisposeIsNoOp(t *testing.T) {
	conn := newScriptedConn(t, handshakeAndGo(nil))
	conn.Dispose()
	conn.Dispose() // idempotent
	if err := conn.Send("go depth 1"); err != nil {
		t.Fatalf("Send after dispose should no-op, got %v", err)
	}
}
