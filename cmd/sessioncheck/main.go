package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	appcfg "github.com/park285/chess-movesync/internal/config"
	"github.com/park285/chess-movesync/internal/journal"
	"github.com/park285/chess-movesync/internal/lichessapi"
	"github.com/park285/chess-movesync/internal/session"
	"github.com/park285/chess-movesync/internal/sri"
	"github.com/park285/chess-movesync/internal/wsconn"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	client := lichessapi.NewClient(cfg.APIURL,
		lichessapi.WithHeaderProvider(cfg.Headers),
		lichessapi.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	acc, ok, err := client.ValidateSession(ctx)
	switch {
	case err != nil:
		log.Printf("/api/account error: %v", err)
	case !ok:
		log.Println("/api/account: session is not logged in")
	default:
		log.Printf("/api/account ok: id=%s username=%s", acc.ID, acc.Username)
	}

	if cfg.GameID == "" {
		log.Println("LICHESS_GAME_ID not set; skipping socket check")
		return
	}
	if g, err := client.ExportGame(ctx, cfg.GameID); err != nil {
		log.Printf("game export error: %v", err)
	} else {
		log.Printf("game %s: status=%s winner=%s moves=%q", g.ID, g.Status, g.Winner, g.Moves)
	}

	if cfg.RedisURL != "" {
		printJournal(ctx, cfg.RedisURL, cfg.GameID)
	}

	id, err := sri.Generate()
	if err != nil {
		log.Fatalf("sri error: %v", err)
	}
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	conn, err := wsconn.Dial(cctx, cfg.Transport, cfg.PlayURL(cfg.GameID, id), wsconn.Options{Headers: cfg.Headers})
	if err != nil {
		log.Printf("socket connect error: %v", err)
		os.Exit(1)
	}
	sess, err := session.New(cfg.GameID, id, conn)
	if err != nil {
		log.Fatalf("session init error: %v", err)
	}
	defer sess.Close()
	log.Printf("socket connected: transport=%s sri=%s", cfg.Transport, sess.SRI())

	// Observe for a short window
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		events, err := sess.DrainEvents(context.Background())
		for _, ev := range events {
			fmt.Printf("event %s move=%s fen=%s ply=%d status=%s winner=%s\n", ev.Kind, ev.Move, ev.FEN, ev.Ply, ev.Status, ev.Winner)
		}
		if err != nil {
			if !errors.Is(err, session.ErrClosed) {
				log.Printf("receive error: %v", err)
			}
			return
		}
		if sess.PeerClosed() {
			log.Println("socket closed by server")
			return
		}
		time.Sleep(cfg.PollInterval())
	}
	log.Printf("ack counter=%d", sess.AckCounter())
}

// printJournal shows the last recorded run for the game, if any.
func printJournal(ctx context.Context, redisURL, gameID string) {
	store, err := journal.OpenStore(ctx, redisURL)
	if err != nil {
		log.Printf("journal error: %v", err)
		return
	}
	defer store.Close()
	meta, err := store.Load(ctx, gameID)
	if err != nil {
		log.Printf("journal load error: %v", err)
		return
	}
	if meta == nil {
		log.Println("journal: no earlier run for this game")
		return
	}
	entries, err := store.Entries(ctx, gameID)
	if err != nil {
		log.Printf("journal entries error: %v", err)
		return
	}
	log.Printf("journal: run=%s sri=%s started=%s ended=%v status=%s entries=%d",
		meta.RunID, meta.SRI, meta.StartedAt.Format(time.RFC3339), meta.Ended, meta.Status, len(entries))
	for _, e := range entries {
		fmt.Printf("  %s %s move=%s san=%s ply=%d %s\n", e.At.Format(time.RFC3339), e.Kind, e.Move, e.SAN, e.Ply, e.Error)
	}
}
