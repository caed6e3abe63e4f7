package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/pkg/schema"
)

// Duration is a time.Duration read from JSON as "90s" or as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Config holds all scenecraft configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr    string   `json:"listen_addr"`
	LogLevel      string   `json:"log_level"`
	PoolSize      int      `json:"pool_size"`
	APIKeys       []string `json:"api_keys"`
	DefaultModel  string   `json:"default_model"`
	LLMTimeout    Duration `json:"llm_timeout"`
	JobTimeout    Duration `json:"job_timeout"`
	JobMaxIdle    Duration `json:"job_max_idle"`
	SweepSchedule string   `json:"sweep_schedule"`
	LLMAPIKey     string   `json:"llm_api_key"`
	LLMBaseURL    string   `json:"llm_base_url"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":8000",
		LogLevel:      "info",
		PoolSize:      64,
		APIKeys:       []string{"sk-demo1", "sk-demo2"},
		DefaultModel:  schema.DefaultModel,
		LLMTimeout:    Duration(2 * time.Minute),
		JobTimeout:    Duration(10 * time.Minute),
		JobMaxIdle:    Duration(5 * time.Minute),
		SweepSchedule: jobs.DefaultSweepSchedule,
		LLMBaseURL:    llm.DefaultBaseURL,
	}
}

func scenecraftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scenecraft"
	}
	return filepath.Join(home, ".scenecraft")
}

func settingsPath() string {
	return filepath.Join(scenecraftDir(), "settings.json")
}

// loadConfig layers settings.json and the environment over the defaults.
// A missing settings file is fine; an unreadable one is not.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SCENECRAFT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("SCENECRAFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("SCENECRAFT_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCENECRAFT_POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	if v := getenv("SCENECRAFT_API_KEYS"); v != "" {
		cfg.APIKeys = splitList(v)
	}
	if v := getenv("SCENECRAFT_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	for name, dst := range map[string]*Duration{
		"SCENECRAFT_LLM_TIMEOUT":  &cfg.LLMTimeout,
		"SCENECRAFT_JOB_TIMEOUT":  &cfg.JobTimeout,
		"SCENECRAFT_JOB_MAX_IDLE": &cfg.JobMaxIdle,
	} {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = Duration(d)
		}
	}
	if v := getenv("SCENECRAFT_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if v := getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := getenv("OPENROUTER_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	return nil
}

// validate rejects settings the server cannot start with.
func (c Config) validate() error {
	var problems []string
	if c.ListenAddr == "" {
		problems = append(problems, "listen_addr is empty")
	}
	if c.PoolSize <= 0 {
		problems = append(problems, "pool_size must be positive")
	}
	if c.LLMTimeout < 0 || c.JobTimeout < 0 {
		problems = append(problems, "timeouts must not be negative")
	}
	if c.JobMaxIdle <= 0 {
		problems = append(problems, "job_max_idle must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
