package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Result is the final record of a finished game run.
type Result struct {
	GameID    string
	RunID     string
	Color     string
	Status    string
	Winner    string
	MovesUCI  []string
	MovesSAN  []string
	StartedAt time.Time
	EndedAt   time.Time
}

type Repository struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS movesync_games (
	game_id     TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	color       TEXT NOT NULL,
	status      TEXT NOT NULL,
	winner      TEXT NOT NULL,
	result      TEXT NOT NULL,
	moves_uci   JSONB NOT NULL,
	moves_san   JSONB NOT NULL,
	pgn         TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
)`

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts the final result of a game run.
func (r *Repository) SaveResult(ctx context.Context, res Result) error {
	if r == nil || r.db == nil {
		return nil
	}
	pgnResult := mapResultToPGN(res.Winner, res.Status)
	pgn := buildPGN(res, pgnResult)

	movesUCIRaw, _ := json.Marshal(nonNil(res.MovesUCI))
	movesSANRaw, _ := json.Marshal(nonNil(res.MovesSAN))
	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO movesync_games (
		game_id, run_id, color, status, winner, result,
		moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (game_id) DO UPDATE SET
		run_id=EXCLUDED.run_id,
		color=EXCLUDED.color,
		status=EXCLUDED.status,
		winner=EXCLUDED.winner,
		result=EXCLUDED.result,
		moves_uci=EXCLUDED.moves_uci,
		moves_san=EXCLUDED.moves_san,
		pgn=EXCLUDED.pgn,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		res.GameID, res.RunID, res.Color, res.Status, res.Winner, pgnResult,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		res.StartedAt, res.EndedAt, duration,
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// mapResultToPGN prefers the winner colour; winnerless terminal statuses
// that always end drawn map to 1/2-1/2.
func mapResultToPGN(winner, status string) string {
	switch strings.ToLower(strings.TrimSpace(winner)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "draw", "stalemate":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(res Result, pgnResult string) string {
	var b strings.Builder
	date := res.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	white, black := "Opponent", "Opponent"
	if strings.EqualFold(res.Color, "white") {
		white = "Me"
	} else {
		black = "Me"
	}
	b.WriteString("[Event \"Movesync\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"https://lichess.org/%s\"]\n", sanitizePGN(res.GameID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", white))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", black))
	if strings.TrimSpace(res.Status) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(res.Status))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(res.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(res.MovesSAN[i])))
		if i+1 < len(res.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(res.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
