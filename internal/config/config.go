package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRemoteURL = "https://dehqon-ai-backend.onrender.com/api"
	DefaultLanguage  = "uz"
)

// Config represents runtime configuration for the chat core.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Remote      RemoteConfig              `json:"remote" yaml:"remote"`
	Sync        SyncConfig                `json:"sync" yaml:"sync"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Assistant   AssistantConfig           `json:"assistant" yaml:"assistant"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	Language      string `json:"language" yaml:"language"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	LogFormat     string `json:"log_format" yaml:"log_format"`
	// Storage selects the durable backend: sqlite3, mysql, redis or memory.
	Storage    string `json:"storage" yaml:"storage"`
	StorageKey string `json:"storage_key" yaml:"storage_key"`
}

type RemoteConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type SyncConfig struct {
	MinWorkers               int `json:"min_workers" yaml:"min_workers"`
	MaxWorkers               int `json:"max_workers" yaml:"max_workers"`
	QueueSize                int `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeoutSeconds int `json:"worker_idle_timeout_seconds" yaml:"worker_idle_timeout_seconds"`
	JobTimeoutSeconds        int `json:"job_timeout_seconds" yaml:"job_timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type AssistantConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML. A .env file is loaded
// first unless DEHQONJON_ENV=production; environment variables override the
// file.
func Load(path string) (*Config, error) {
	if !strings.EqualFold(os.Getenv("DEHQONJON_ENV"), "production") {
		// missing .env is fine
		_ = godotenv.Load()
	}
	if path == "" {
		path = os.Getenv("DEHQONJON_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.normalize()
	cfg.applyEnv()
	cfg.applyDefaults()

	// relative sqlite paths are relative to the config file
	for _, name := range []string{"sqlite", "sqlite3"} {
		sqliteCfg, ok := cfg.Databases[name]
		if !ok || sqliteCfg.DSN == "" || isSpecialSQLiteDSN(sqliteCfg.DSN) || filepath.IsAbs(sqliteCfg.DSN) {
			continue
		}
		sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
		cfg.Databases[name] = sqliteCfg
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEHQONJON_STORAGE"); v != "" {
		c.BasicConfig.Storage = v
	}
	if v := os.Getenv("DEHQONJON_API_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("DEHQONJON_LANGUAGE"); v != "" {
		c.BasicConfig.Language = v
	}
	if v := os.Getenv("DEHQONJON_LOG_LEVEL"); v != "" {
		c.BasicConfig.LogLevel = v
	}
	if v := os.Getenv("DEHQONJON_STORAGE_KEY"); v != "" {
		c.BasicConfig.StorageKey = v
	}
	if v := os.Getenv("DEHQONJON_AI_KEY"); v != "" && c.Assistant.Provider != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		name := strings.ToLower(c.Assistant.Provider)
		p := c.Providers[name]
		p.APIKey = v
		c.Providers[name] = p
	}
}

// normalize lowercases the names other packages look entries up by.
func (c *Config) normalize() {
	c.BasicConfig.Storage = strings.ToLower(strings.TrimSpace(c.BasicConfig.Storage))
	c.Assistant.Provider = strings.ToLower(strings.TrimSpace(c.Assistant.Provider))
	if len(c.Databases) > 0 {
		dbs := make(map[string]DatabaseConfig, len(c.Databases))
		for name, db := range c.Databases {
			dbs[strings.ToLower(name)] = db
		}
		c.Databases = dbs
	}
	if len(c.Providers) > 0 {
		providers := make(map[string]ProviderConfig, len(c.Providers))
		for name, p := range c.Providers {
			providers[strings.ToLower(name)] = p
		}
		c.Providers = providers
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = "127.0.0.1:8090"
	}
	if c.BasicConfig.Language == "" {
		c.BasicConfig.Language = DefaultLanguage
	}
	if c.BasicConfig.Storage == "" {
		c.BasicConfig.Storage = "sqlite3"
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = DefaultRemoteURL
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Sync.MaxWorkers <= 0 {
		c.Sync.MaxWorkers = 4
	}
	if c.Sync.QueueSize <= 0 {
		c.Sync.QueueSize = 64
	}
	if c.Sync.WorkerIdleTimeoutSeconds <= 0 {
		c.Sync.WorkerIdleTimeoutSeconds = 30
	}
	if c.Sync.JobTimeoutSeconds <= 0 {
		c.Sync.JobTimeoutSeconds = 20
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.BasicConfig.Storage) {
	case "memory", "redis":
	case "sqlite", "sqlite3", "mysql":
		if _, ok := c.Databases[strings.ToLower(c.BasicConfig.Storage)]; !ok {
			return fmt.Errorf("database config for %s not found", c.BasicConfig.Storage)
		}
	default:
		return fmt.Errorf("unsupported storage: %s", c.BasicConfig.Storage)
	}
	if c.Sync.MinWorkers > c.Sync.MaxWorkers {
		return fmt.Errorf("sync.min_workers (%d) exceeds sync.max_workers (%d)", c.Sync.MinWorkers, c.Sync.MaxWorkers)
	}
	return nil
}

func isSpecialSQLiteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:")
}
