package config

import (
	"os"
	"strings"
	"sync"
	"time"
)

type Config struct {
	DBPath     string
	LogLevel   string
	ListenAddr string
	ConfigDir  string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

// loadFromEnv leaves unset fields empty; callers fall back to config.toml
// and the config directory.
func loadFromEnv() Config {
	return Config{
		DBPath:     strings.TrimSpace(os.Getenv("TIMELINE_DB_PATH")),
		LogLevel:   strings.ToLower(strings.TrimSpace(os.Getenv("TIMELINE_LOG_LEVEL"))),
		ListenAddr: strings.TrimSpace(os.Getenv("TIMELINE_LISTEN_ADDR")),
		ConfigDir:  strings.TrimSpace(os.Getenv("TIMELINE_CONFIG_DIR")),
	}
}
