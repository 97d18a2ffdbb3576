// Package journal records what a session saw: a Redis event log per game
// run, and a Postgres row with the final result and PGN.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const ttlGame = 24 * time.Hour

var ErrNoRun = errors.New("no journal run for game")

// Meta describes one run of the client against a game.
type Meta struct {
	GameID    string    `json:"game_id"`
	RunID     string    `json:"run_id"`
	SRI       string    `json:"sri"`
	Color     string    `json:"color"`
	StartedAt time.Time `json:"started_at"`
	Ended     bool      `json:"ended"`
	Status    string    `json:"status,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Entry is one journaled event or submission.
type Entry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Move   string    `json:"move,omitempty"`
	SAN    string    `json:"san,omitempty"`
	FEN    string    `json:"fen,omitempty"`
	Ply    uint32    `json:"ply,omitempty"`
	Status string    `json:"status,omitempty"`
	Winner string    `json:"winner,omitempty"`
	Error  string    `json:"error,omitempty"`
}

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// OpenStore connects to REDIS_URL and verifies the server answers.
func OpenStore(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redisOptions(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyMeta(gameID string) string   { return "movesync:game:" + strings.TrimSpace(gameID) + ":meta" }
func (s *Store) keyEvents(gameID string) string { return "movesync:game:" + strings.TrimSpace(gameID) + ":events" }

// Begin starts a new run, replacing any earlier run's log for the game.
func (s *Store) Begin(ctx context.Context, gameID, sri, color string) (*Meta, error) {
	meta := &Meta{
		GameID:    gameID,
		RunID:     uuid.NewString(),
		SRI:       sri,
		Color:     color,
		StartedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyMeta(gameID), raw, ttlGame)
	pipe.Del(ctx, s.keyEvents(gameID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) Load(ctx context.Context, gameID string) (*Meta, error) {
	raw, err := s.rdb.Get(ctx, s.keyMeta(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Append(ctx context.Context, gameID string, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, s.keyEvents(gameID), raw).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyEvents(gameID), ttlGame).Err()
}

func (s *Store) Entries(ctx context.Context, gameID string) ([]Entry, error) {
	raws, err := s.rdb.LRange(ctx, s.keyEvents(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkEnded flags the run as finished. It reports true only for the call
// that performed the transition.
func (s *Store) MarkEnded(ctx context.Context, gameID, status, winner string) (bool, error) {
	key := s.keyMeta(gameID)
	first := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNoRun
		}
		if err != nil {
			return err
		}
		var cur Meta
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if cur.Ended {
			return nil
		}
		cur.Ended = true
		cur.Status = status
		cur.Winner = winner
		cur.EndedAt = time.Now().UTC()
		next, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttlGame)
			return nil
		})
		if err == nil {
			first = true
		}
		return err
	}, key)
	return first, err
}

// redisOptions accepts redis:// and rediss:// URLs; rediss enables TLS.
func redisOptions(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
