package global

import (
	"os"
	"path/filepath"

	"timeline/core/internal/logging"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"
	defaultListenPort  = 4720
)

type AuditConfig struct {
	RepairOnStart bool `toml:"repair_on_start"`
}

type FeedConfig struct {
	Enabled bool `toml:"enabled"`
}

// Settings is the persisted config.toml. Env vars win over it.
type Settings struct {
	ListenPort int         `toml:"listen_port"`
	LogLevel   string      `toml:"log_level"`
	Audit      AuditConfig `toml:"audit"`
	Feed       FeedConfig  `toml:"feed"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

func (s *ConfigStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		cfg := DefaultSettings()
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, err
		}
		return normalizeSettings(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	cfg := DefaultSettings()
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeSettings(cfg))
}

func DefaultSettings() Settings {
	return Settings{
		ListenPort: defaultListenPort,
		LogLevel:   "info",
		Feed:       FeedConfig{Enabled: true},
	}
}

func normalizeSettings(cfg Settings) Settings {
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		cfg.ListenPort = defaultListenPort
	}
	cfg.LogLevel = logging.NormalizeLevel(cfg.LogLevel, "info")
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
