package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gamestate/internal/detect"
)

// Config holds runtime configuration for the game-state worker service.
type Config struct {
	DBURL          string
	RedisURL       string
	EventsQueue    string
	UpdatesQueue   string
	StateNamespace string
	WorkerCount    int
	JobBufferSize  int
	StreakWindow   time.Duration
	DetectOnKill   bool
}

// Load builds a Config from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DBURL:          os.Getenv("DB_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		EventsQueue:    os.Getenv("EVENTS_QUEUE"),
		UpdatesQueue:   os.Getenv("UPDATES_QUEUE"),
		StateNamespace: os.Getenv("STATE_NAMESPACE"),
		WorkerCount:    4,
		JobBufferSize:  64,
		StreakWindow:   detect.DefaultStreakWindow,
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if cfg.EventsQueue == "" {
		cfg.EventsQueue = "game_events"
	}

	if cfg.UpdatesQueue == "" {
		cfg.UpdatesQueue = "game_state_updates"
	}

	if cfg.StateNamespace == "" {
		cfg.StateNamespace = "game_state"
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("WORKER_COUNT must be a positive integer, got %q", v)
		}
		cfg.WorkerCount = n
	}

	if v := os.Getenv("JOB_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("JOB_BUFFER_SIZE must be a positive integer, got %q", v)
		}
		cfg.JobBufferSize = n
	}

	if v := os.Getenv("KILL_STREAK_WINDOW"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("KILL_STREAK_WINDOW must be a positive number of seconds, got %q", v)
		}
		cfg.StreakWindow = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("DETECT_ON_KILL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DETECT_ON_KILL must be a boolean, got %q", v)
		}
		cfg.DetectOnKill = b
	}

	return cfg, nil
}
