package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Cache struct {
		DetailTTL      string `yaml:"detail_ttl"`
		LeaderboardTTL string `yaml:"leaderboard_ttl"`
	} `yaml:"cache"`
	Generation struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
		Timeout string `yaml:"timeout"`
	} `yaml:"generation"`
	YouTube struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"youtube"`
	Transcript struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"transcript"`
	Web struct {
		Timeout   string `yaml:"timeout"`
		MaxBytes  int64  `yaml:"max_bytes"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"web"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; the service can run from env alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	// .env is optional in every environment.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Postgres.URL, "POSTGRES_URL")
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Generation.APIKey, "GENERATION_API_KEY")
	override(&cfg.Generation.BaseURL, "GENERATION_BASE_URL")
	override(&cfg.Generation.Model, "GENERATION_MODEL")
	override(&cfg.YouTube.APIKey, "YOUTUBE_API_KEY")
	override(&cfg.Transcript.APIKey, "TRANSCRIPT_API_KEY")
	override(&cfg.Log.Mode, "LOG_MODE")
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if db, err := strconv.Atoi(raw); err == nil {
			cfg.Redis.DB = db
		}
	}
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
