package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	appcfg "github.com/park285/chess-movesync/internal/config"
	"github.com/park285/chess-movesync/internal/dispatch"
	"github.com/park285/chess-movesync/internal/driver"
	"github.com/park285/chess-movesync/internal/engine"
	"github.com/park285/chess-movesync/internal/journal"
	"github.com/park285/chess-movesync/internal/lichessapi"
	"github.com/park285/chess-movesync/internal/obslog"
	"github.com/park285/chess-movesync/internal/position"
	"github.com/park285/chess-movesync/internal/session"
	"github.com/park285/chess-movesync/internal/sri"
	"github.com/park285/chess-movesync/internal/wsconn"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	if strings.TrimSpace(cfg.GameID) == "" {
		log.Fatal("LICHESS_GAME_ID is required")
	}
	color, err := position.ParseColor(cfg.Color)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SessionCookie != "" {
		api := lichessapi.NewClient(cfg.APIURL, lichessapi.WithHeaderProvider(cfg.Headers), lichessapi.WithTimeout(8*time.Second))
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		acc, ok, verr := api.ValidateSession(vctx)
		cancel()
		switch {
		case verr != nil:
			logger.Warn("session_check_failed", zap.Error(verr))
		case !ok:
			log.Fatal("LICHESS_SESSION is not logged in")
		default:
			logger.Info("session_check_ok", zap.String("user", acc.Username))
		}
	}

	id, err := sri.Generate()
	if err != nil {
		log.Fatalf("sri error: %v", err)
	}
	conn, err := wsconn.DialWithRetry(ctx, cfg.Transport, cfg.PlayURL(cfg.GameID, id), wsconn.Options{Headers: cfg.Headers}, cfg.DialAttempts)
	if err != nil {
		log.Fatalf("ws connect error: %v", err)
	}
	sess, err := session.New(cfg.GameID, id, conn)
	if err != nil {
		_ = conn.Close()
		log.Fatalf("session init error: %v", err)
	}
	defer sess.Close()

	disp := dispatch.New()
	disp.SetEnabled(cfg.AutoMove)
	disp.SetUrgentMode(cfg.Urgent)
	board := position.NewTracker(color)

	opts := []driver.Option{
		driver.WithInterval(cfg.PollInterval()),
		driver.WithEventHandler(printEvent),
	}
	if cfg.RedisURL != "" {
		store, err := journal.OpenStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("journal init error: %v", err)
		}
		defer store.Close()
		meta, err := store.Begin(ctx, cfg.GameID, sess.SRI(), cfg.Color)
		if err != nil {
			log.Fatalf("journal begin error: %v", err)
		}
		opts = append(opts, driver.WithJournal(store, meta.RunID))
	}
	if cfg.DatabaseURL != "" {
		repo, err := journal.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("result repo init error: %v", err)
		}
		defer repo.Close()
		opts = append(opts, driver.WithResults(repo))
	}
	loop := driver.New(sess, disp, board, opts...)

	if cfg.EnginePath != "" {
		eng, err := engine.Start(ctx, cfg.EnginePath, nil,
			engine.Options{SkillLevel: cfg.EngineSkill, HashMB: 64, MultiPV: 1},
			engine.Limits{MoveTimeMillis: cfg.EngineMoveTimeMS},
		)
		if err != nil {
			log.Fatalf("engine init error: %v", err)
		}
		defer eng.Close()
		auto := engine.NewAutoPlayer(eng, disp, board, loop.Offer)
		go func() { _ = auto.Run(ctx, cfg.PollInterval()) }()
	}

	go readCommands(ctx, os.Stdin, sess, disp, board, loop)

	logger.Info("movesync_started",
		zap.String("game_id", cfg.GameID),
		zap.String("sri", sess.SRI()),
		zap.String("transport", cfg.Transport),
		zap.String("color", cfg.Color),
		zap.Bool("auto_move", cfg.AutoMove),
	)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("movesync_stopped", zap.Error(err))
		return
	}
	logger.Info("movesync_stopped")
}

// readCommands accepts one command or move per line. With auto-move on,
// moves are offered to the driver; otherwise they are sent directly.
func readCommands(ctx context.Context, r io.Reader, sess *session.Session, disp *dispatch.Dispatcher, board *position.Tracker, loop *driver.Loop) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		parts := strings.Fields(strings.ToLower(sc.Text()))
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "auto":
			disp.SetEnabled(onOff(parts))
			fmt.Printf("auto-move: %v\n", disp.IsEnabled())
		case "urgent":
			disp.SetUrgentMode(onOff(parts))
			fmt.Printf("urgent: %v\n", disp.IsUrgentMode())
		case "busy":
			disp.SetBusy(onOff(parts))
			fmt.Printf("busy: %v\n", disp.IsBusy())
		case "status":
			pending, hasPending := sess.PendingMove()
			fmt.Printf("fen=%s our_turn=%v pending=%q/%v acked=%v ended=%v outcome=%s\n",
				board.FEN(), board.IsOurTurn(), pending, hasPending, sess.LastMoveAcked(), sess.IsGameEnded(), board.Outcome())
		default:
			move := parts[0]
			if disp.IsEnabled() {
				loop.Offer(move)
				continue
			}
			if err := board.Validate(move); err != nil {
				fmt.Printf("rejected: %v\n", err)
				continue
			}
			// the dispatcher applies the urgent lag and the duplicate window
			if err := disp.Submit(ctx, move, sess); err != nil {
				fmt.Printf("not sent: %v\n", err)
			}
		}
	}
}

func onOff(parts []string) bool {
	return len(parts) > 1 && (parts[1] == "on" || parts[1] == "true" || parts[1] == "1")
}

func printEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventOpponentMove:
		fmt.Printf("move %s (ply %d)\n", ev.Move, ev.Ply)
	case session.EventPositionUpdate:
		fmt.Printf("fen %s\n", ev.FEN)
	case session.EventGameEnded:
		fmt.Printf("game over: status=%s winner=%s\n", ev.Status, ev.Winner)
	case session.EventResyncRequired:
		fmt.Println("server requested resync")
	}
}
