package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	SocketURL     string `yaml:"socket_url" toml:"socket_url"`
	APIURL        string `yaml:"api_url" toml:"api_url"`
	SessionCookie string `yaml:"session_cookie" toml:"session_cookie"`
	GameID        string `yaml:"game_id" toml:"game_id"`

	Transport      string `yaml:"transport" toml:"transport"`
	PollIntervalMS int    `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	DialAttempts   int    `yaml:"dial_attempts" toml:"dial_attempts"`

	AutoMove bool   `yaml:"auto_move" toml:"auto_move"`
	Urgent   bool   `yaml:"urgent" toml:"urgent"`
	Color    string `yaml:"color" toml:"color"`

	RedisURL    string `yaml:"redis_url" toml:"redis_url"`
	DatabaseURL string `yaml:"database_url" toml:"database_url"`

	EnginePath       string `yaml:"engine_path" toml:"engine_path"`
	EngineMoveTimeMS int    `yaml:"engine_movetime_ms" toml:"engine_movetime_ms"`
	EngineSkill      int    `yaml:"engine_skill" toml:"engine_skill"`
}

func defaults() *AppConfig {
	return &AppConfig{
		SocketURL:      "wss://socket5.lichess.org",
		APIURL:         "https://lichess.org",
		Transport:      "nhooyr",
		PollIntervalMS: 100,
		DialAttempts:   3,
		Color:          "white",

		EngineMoveTimeMS: 500,
		EngineSkill:      20,
	}
}

// Load applies defaults, then the file named by MOVESYNC_CONFIG (yaml or
// toml), then environment variables.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("MOVESYNC_CONFIG")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	setString(&cfg.SocketURL, "LICHESS_SOCKET_URL")
	setString(&cfg.APIURL, "LICHESS_API_URL")
	setString(&cfg.SessionCookie, "LICHESS_SESSION")
	setString(&cfg.GameID, "LICHESS_GAME_ID")
	setString(&cfg.Transport, "MOVESYNC_TRANSPORT")
	setString(&cfg.Color, "MOVESYNC_COLOR")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setPositiveInt(&cfg.PollIntervalMS, "MOVESYNC_POLL_INTERVAL_MS")
	setPositiveInt(&cfg.DialAttempts, "MOVESYNC_DIAL_ATTEMPTS")
	setBool(&cfg.AutoMove, "MOVESYNC_AUTO_MOVE")
	setBool(&cfg.Urgent, "MOVESYNC_URGENT")
	setString(&cfg.EnginePath, "MOVESYNC_ENGINE_PATH")
	setPositiveInt(&cfg.EngineMoveTimeMS, "MOVESYNC_ENGINE_MOVETIME_MS")
	setInt(&cfg.EngineSkill, "MOVESYNC_ENGINE_SKILL")

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.Color = strings.ToLower(strings.TrimSpace(cfg.Color))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.SocketURL) == "" {
		return errors.New("LICHESS_SOCKET_URL is required")
	}
	u, err := url.Parse(c.SocketURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("LICHESS_SOCKET_URL must be a ws:// or wss:// url: %q", c.SocketURL)
	}
	switch c.Transport {
	case "nhooyr", "gorilla":
	default:
		return fmt.Errorf("unsupported MOVESYNC_TRANSPORT: %q", c.Transport)
	}
	switch c.Color {
	case "white", "black":
	default:
		return fmt.Errorf("MOVESYNC_COLOR must be white or black: %q", c.Color)
	}
	if c.PollIntervalMS <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.EngineSkill < 0 || c.EngineSkill > 20 {
		return fmt.Errorf("MOVESYNC_ENGINE_SKILL must be within 0-20: %d", c.EngineSkill)
	}
	return nil
}

// PollInterval is the idle time between two non-blocking drains.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// PlayURL is the socket endpoint of one game for the given session token.
func (c *AppConfig) PlayURL(gameID, sri string) string {
	base := strings.TrimRight(c.SocketURL, "/")
	q := url.Values{}
	q.Set("sri", sri)
	return fmt.Sprintf("%s/play/%s/v6?%s", base, url.PathEscape(gameID), q.Encode())
}

// Headers returns the handshake/request headers carrying the session cookie.
func (c *AppConfig) Headers() map[string]string {
	h := map[string]string{}
	if v := strings.TrimSpace(c.SessionCookie); v != "" {
		h["Cookie"] = "lila2=" + v
	}
	return h
}

func loadFile(path string, cfg *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setPositiveInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
