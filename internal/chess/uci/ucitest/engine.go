// Package ucitest provides a scripted UCI engine for tests. A test binary
// re-executes itself with EnvMode set and calls Run from TestMain.
package ucitest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/blundrbot/internal/position"
)

const EnvMode = "BLUNDR_FAKE_ENGINE"

const (
	// ModeMaterial answers with material in centipawns, mate when a reply
	// mates, and mate 0 for checkmated positions.
	ModeMaterial = "material"
	// ModeHang never finishes a search until told to stop.
	ModeHang = "hang"
	// ModeHangOnce hangs the first search only.
	ModeHangOnce = "hang-once"
	// ModeDeaf never finishes a search and ignores stop.
	ModeDeaf = "deaf"
	// ModeNoScore finishes searches without any score line.
	ModeNoScore = "no-score"
	// ModeBadHandshake reports an error instead of uciok.
	ModeBadHandshake = "bad-handshake"
	// ModeSilent never writes anything.
	ModeSilent = "silent"
	// ModeCrash exits during the handshake.
	ModeCrash = "crash"
	// ModeCrashSearch exits when asked to search.
	ModeCrashSearch = "crash-search"
	// ModeIgnoreQuit plays normally but ignores quit and stdin EOF.
	ModeIgnoreQuit = "ignore-quit"
)

// Env returns the environment entries that select mode.
func Env(mode string) []string {
	return []string{EnvMode + "=" + mode}
}

// Binary is the executable tests should launch: the running test binary.
func Binary() string {
	return os.Args[0]
}

// Main runs the stub if EnvMode is set and reports whether it did.
func Main() (int, bool) {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return 0, false
	}
	return Run(mode, os.Stdin, os.Stdout), true
}

type engine struct {
	mode     string
	out      *bufio.Writer
	fen      string
	searches int
	pending  bool
}

// Run serves the UCI protocol on in/out until quit or EOF and returns the
// process exit code.
func Run(mode string, in io.Reader, out io.Writer) int {
	e := &engine{mode: mode, out: bufio.NewWriter(out), fen: position.StartFEN}
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if code, exit := e.handle(strings.TrimSpace(sc.Text())); exit {
			return code
		}
	}
	if mode == ModeIgnoreQuit {
		time.Sleep(time.Hour)
	}
	return 0
}

func (e *engine) say(lines ...string) {
	for _, l := range lines {
		e.out.WriteString(l)
		e.out.WriteByte('\n')
	}
	e.out.Flush()
}

func (e *engine) handle(cmd string) (int, bool) {
	if e.mode == ModeSilent {
		return 0, false
	}
	switch {
	case cmd == "uci":
		switch e.mode {
		case ModeCrash:
			return 3, true
		case ModeBadHandshake:
			e.say("id name blundr-stub", "error: engine license expired")
			return 0, false
		}
		e.say("id name blundr-stub", "id author tests", "option name Hash type spin default 16 min 1 max 1024", "uciok")
	case cmd == "isready":
		e.say("readyok")
	case strings.HasPrefix(cmd, "position fen "):
		e.fen = strings.TrimPrefix(cmd, "position fen ")
	case cmd == "position startpos":
		e.fen = position.StartFEN
	case strings.HasPrefix(cmd, "go"):
		e.searches++
		switch {
		case e.mode == ModeCrashSearch:
			return 2, true
		case e.mode == ModeDeaf:
			e.pending = true
		case e.mode == ModeHang, e.mode == ModeHangOnce && e.searches == 1:
			e.say("info depth 1 score cp 7 pv e2e4")
			e.pending = true
		case e.mode == ModeNoScore:
			e.say("info string thinking", "bestmove e2e4")
		default:
			e.search()
		}
	case cmd == "stop":
		if e.pending && e.mode != ModeDeaf {
			e.pending = false
			e.say("bestmove e2e4")
		}
	case cmd == "quit":
		if e.mode == ModeIgnoreQuit {
			return 0, false
		}
		return 0, true
	}
	return 0, false
}

// search reports the material balance from the side to move's view.
func (e *engine) search() {
	pos, err := position.FromFEN(e.fen)
	if err != nil {
		e.say("info string invalid fen", "bestmove (none)")
		return
	}
	moves := pos.LegalMoves()
	if len(moves) == 0 {
		if pos.InCheck() {
			e.say("info depth 0 score mate 0")
		} else {
			e.say("info depth 0 score cp 0")
		}
		e.say("bestmove (none)")
		return
	}

	best := pos.UCI(moves[0])
	for _, m := range moves {
		if err := pos.Push(m); err != nil {
			continue
		}
		mate := pos.IsCheckmate()
		_, _ = pos.Pop()
		if mate {
			best = pos.UCI(m)
			e.say(fmt.Sprintf("info depth 1 score mate 1 pv %s", best), fmt.Sprintf("bestmove %s", best))
			return
		}
	}

	cp := 0
	if !pos.IsInsufficientMaterial() && !pos.IsStalemate() {
		cp = 100 * material(pos)
	}
	e.say(
		fmt.Sprintf("info depth 1 score cp %d upperbound pv %s", cp+50, best),
		fmt.Sprintf("info depth 12 seldepth 14 multipv 1 score cp %d nodes 1000 pv %s", cp, best),
		fmt.Sprintf("bestmove %s", best),
	)
}

var values = map[nchess.PieceType]int{
	nchess.Pawn: 1, nchess.Knight: 3, nchess.Bishop: 3, nchess.Rook: 5, nchess.Queen: 9,
}

func material(pos *position.Position) int {
	sum := 0
	for _, pc := range pos.Board().SquareMap() {
		if pc.Color() == pos.Turn() {
			sum += values[pc.Type()]
		} else {
			sum -= values[pc.Type()]
		}
	}
	return sum
}
