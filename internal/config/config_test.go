package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MOVESYNC_CONFIG", "LICHESS_SOCKET_URL", "LICHESS_API_URL", "LICHESS_SESSION", "LICHESS_GAME_ID",
		"MOVESYNC_TRANSPORT", "MOVESYNC_COLOR", "REDIS_URL", "DATABASE_URL",
		"MOVESYNC_POLL_INTERVAL_MS", "MOVESYNC_DIAL_ATTEMPTS", "MOVESYNC_AUTO_MOVE", "MOVESYNC_URGENT",
		"MOVESYNC_ENGINE_PATH", "MOVESYNC_ENGINE_MOVETIME_MS", "MOVESYNC_ENGINE_SKILL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "nhooyr" || cfg.PollInterval() != 100*time.Millisecond || cfg.Color != "white" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AutoMove || cfg.Urgent {
		t.Fatalf("automation must default off")
	}
	if cfg.EnginePath != "" || cfg.EngineMoveTimeMS != 500 || cfg.EngineSkill != 20 {
		t.Fatalf("unexpected engine defaults: %+v", cfg)
	}
}

func TestLoadEngineSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOVESYNC_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("MOVESYNC_ENGINE_MOVETIME_MS", "150")
	t.Setenv("MOVESYNC_ENGINE_SKILL", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EnginePath != "/usr/bin/stockfish" || cfg.EngineMoveTimeMS != 150 || cfg.EngineSkill != 0 {
		t.Fatalf("engine env not applied: %+v", cfg)
	}
	t.Setenv("MOVESYNC_ENGINE_SKILL", "25")
	if _, err := Load(); err == nil {
		t.Fatalf("expected skill range error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LICHESS_GAME_ID", "abcd1234")
	t.Setenv("MOVESYNC_TRANSPORT", "Gorilla")
	t.Setenv("MOVESYNC_POLL_INTERVAL_MS", "250")
	t.Setenv("MOVESYNC_AUTO_MOVE", "true")
	t.Setenv("MOVESYNC_COLOR", "black")
	t.Setenv("MOVESYNC_DIAL_ATTEMPTS", "-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GameID != "abcd1234" || cfg.Transport != "gorilla" || cfg.PollIntervalMS != 250 || !cfg.AutoMove || cfg.Color != "black" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.DialAttempts != 3 {
		t.Fatalf("invalid attempts should keep default, got %d", cfg.DialAttempts)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "movesync.yaml")
	body := "game_id: fromfile\nurgent: true\npoll_interval_ms: 50\nredis_url: redis://localhost:6379/1\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MOVESYNC_CONFIG", path)
	t.Setenv("LICHESS_GAME_ID", "fromenv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Urgent || cfg.PollIntervalMS != 50 || cfg.RedisURL == "" {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.GameID != "fromenv" {
		t.Fatalf("env must win over file, got %q", cfg.GameID)
	}
	if cfg.SocketURL != "wss://socket5.lichess.org" {
		t.Fatalf("defaults must survive file overlay, got %q", cfg.SocketURL)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "movesync.toml")
	body := "socket_url = \"ws://127.0.0.1:9000\"\ntransport = \"gorilla\"\nauto_move = true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MOVESYNC_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketURL != "ws://127.0.0.1:9000" || cfg.Transport != "gorilla" || !cfg.AutoMove {
		t.Fatalf("toml not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("MOVESYNC_TRANSPORT", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
	clearEnv(t)
	t.Setenv("LICHESS_SOCKET_URL", "https://lichess.org")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-websocket url")
	}
	clearEnv(t)
	t.Setenv("MOVESYNC_CONFIG", filepath.Join(t.TempDir(), "cfg.json"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported file type")
	}
}

func TestPlayURLAndHeaders(t *testing.T) {
	cfg := defaults()
	cfg.SocketURL = "wss://socket5.lichess.org/"
	if got := cfg.PlayURL("abcd1234", "Xy12Ab34Cd56"); got != "wss://socket5.lichess.org/play/abcd1234/v6?sri=Xy12Ab34Cd56" {
		t.Fatalf("unexpected play url: %s", got)
	}
	if h := cfg.Headers(); len(h) != 0 {
		t.Fatalf("no cookie expected without session: %v", h)
	}
	cfg.SessionCookie = "secret"
	if h := cfg.Headers(); h["Cookie"] != "lila2=secret" {
		t.Fatalf("unexpected cookie header: %v", h)
	}
}
