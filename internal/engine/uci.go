// Package engine drives a UCI chess engine process and turns its best move
// into driver candidates.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/chess-movesync/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	mateValue           = 30000
)

var ErrNoBestMove = errors.New("engine returned no move")

type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
	MultiPV    int
}

func (o Options) validate() error {
	if o.SkillLevel < 0 || o.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	}
	if o.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", o.HashMB)
	}
	if o.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", o.MultiPV)
	}
	return nil
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

type Candidate struct {
	Move      string
	EvalCP    int
	Principal []string
}

type SearchResponse struct {
	Candidates []Candidate
	BestMove   string
}

type line struct {
	text string
	err  error
}

// Session owns one engine process. Searches are serialized.
type Session struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan line
	done     chan struct{}
	readDone chan struct{}
	limits   Limits
	logger   *zap.Logger

	mu        sync.Mutex
	search    sync.Mutex
	closeOnce sync.Once
}

// Start launches the engine binary (plus args) and completes the uci/isready
// handshake.
func Start(ctx context.Context, binaryPath string, args []string, opt Options, limits Limits) (*Session, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if _, err := buildGoTokens(limits); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:      cmd,
		stdin:    stdin,
		lines:    make(chan line, 64),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		limits:   limits,
		logger:   obslog.L(),
	}
	go s.readLoop(bufio.NewReader(stdout))

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) readLoop(r *bufio.Reader) {
	defer close(s.readDone)
	defer close(s.lines)
	for {
		text, err := r.ReadString('\n')
		if text = strings.TrimSpace(text); text != "" {
			if !s.deliver(line{text: text}) {
				return
			}
		}
		if err != nil {
			s.deliver(line{err: err})
			return
		}
	}
}

// deliver reports false once the session is closed and nobody reads.
func (s *Session) deliver(l line) bool {
	select {
	case s.lines <- l:
		return true
	case <-s.done:
		return false
	}
}

// BestMove searches fen with the session limits.
func (s *Session) BestMove(ctx context.Context, fen string) (string, error) {
	resp, err := s.Search(ctx, fen, nil, s.limits)
	if err != nil {
		return "", err
	}
	if resp.BestMove == "" || resp.BestMove == "(none)" {
		return "", ErrNoBestMove
	}
	if len(resp.Candidates) > 0 {
		s.logger.Debug("engine_best_move",
			zap.String("move", resp.BestMove),
			zap.Int("eval_cp", resp.Candidates[0].EvalCP),
			zap.Strings("pv", resp.Candidates[0].Principal),
		)
	}
	return resp.BestMove, nil
}

func (s *Session) Search(ctx context.Context, fen string, moves []string, limits Limits) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	goTokens, err := buildGoTokens(limits)
	if err != nil {
		return SearchResponse{}, err
	}
	if err := s.send(buildPositionCommand(fen, moves)); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	if err := s.send(strings.Join(goTokens, " ") + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(limits))
	defer cancel()

	candidates := make(map[int]Candidate)
	for {
		text, err := s.readLine(searchCtx)
		if err != nil {
			if searchCtx.Err() != nil {
				// the late bestmove must not leak into the next search
				if s.send("stop\n") == nil {
					drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
					_ = s.awaitToken(drainCtx, "bestmove")
					drainCancel()
				}
			}
			s.logger.Warn("engine_read_error", zap.String("fen", fen), zap.Error(err))
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}
		switch {
		case strings.HasPrefix(text, "info "):
			if mv, cand, ok := parseInfo(text); ok {
				candidates[mv] = cand
			}
		case strings.HasPrefix(text, "bestmove"):
			var best string
			if parts := strings.Fields(text); len(parts) >= 2 {
				best = parts[1]
			}
			return SearchResponse{Candidates: collapseCandidates(candidates), BestMove: best}, nil
		}
	}
}

func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.EnsureReady(ctx)
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_, _ = io.WriteString(s.stdin, "quit\n")
		s.stdin.Close()
		s.stdin = nil
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		_ = s.cmd.Process.Kill()
		return <-done
	}
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	for _, cmd := range []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	} {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("engine closed")
	}
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		text, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(text, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		return time.Duration(l.MoveTimeMillis)*time.Millisecond*3 + 2*time.Second
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

func parseInfo(text string) (int, Candidate, bool) {
	parts := strings.Fields(text)
	multipv, evalCP, pvIdx := 1, 0, -1
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					multipv = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				if v, err := strconv.Atoi(parts[i+2]); err == nil {
					switch parts[i+1] {
					case "cp":
						evalCP = v
					case "mate":
						evalCP = mateValue
						if v < 0 {
							evalCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}
	if pvIdx == -1 || pvIdx >= len(parts) {
		return 0, Candidate{}, false
	}
	principal := append([]string(nil), parts[pvIdx:]...)
	return multipv, Candidate{Move: principal[0], EvalCP: evalCP, Principal: principal}, true
}

func collapseCandidates(m map[int]Candidate) []Candidate {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
