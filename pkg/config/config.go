package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Game      GameConfig      `json:"game"`
	Estimator EstimatorConfig `json:"estimator"`
	Embedding EmbeddingConfig `json:"embedding"`
	Catalog   CatalogConfig   `json:"catalog"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	History   HistoryConfig   `json:"history"`
	mu        sync.RWMutex
}

// GameConfig holds the fixed simulation parameters decided server-side.
type GameConfig struct {
	Years         int     `json:"years" env:"BUDGETSIM_GAME_YEARS"`
	EventsPerYear int     `json:"events_per_year" env:"BUDGETSIM_GAME_EVENTS_PER_YEAR"`
	BudgetPerYear float64 `json:"budget_per_year" env:"BUDGETSIM_GAME_BUDGET_PER_YEAR"`
	Currency      string  `json:"currency" env:"BUDGETSIM_GAME_CURRENCY"`
}

// EstimatorConfig holds the retrieval estimator hyperparameters. They are
// fixed tuning knobs, not trained values.
type EstimatorConfig struct {
	TopK  int     `json:"topk" env:"BUDGETSIM_ESTIMATOR_TOPK"`
	Tau   float64 `json:"tau" env:"BUDGETSIM_ESTIMATOR_TAU"`
	Alpha float64 `json:"alpha" env:"BUDGETSIM_ESTIMATOR_ALPHA"`
	Beta  float64 `json:"beta" env:"BUDGETSIM_ESTIMATOR_BETA"`
}

type EmbeddingConfig struct {
	Provider  string       `json:"provider" env:"BUDGETSIM_EMBEDDING_PROVIDER"`
	Dim       int          `json:"dim" env:"BUDGETSIM_EMBEDDING_DIM"`
	Normalize bool         `json:"normalize" env:"BUDGETSIM_EMBEDDING_NORMALIZE"`
	OpenAI    OpenAIConfig `json:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" env:"BUDGETSIM_EMBEDDING_OPENAI_API_KEY"`
	APIBase string `json:"api_base" env:"BUDGETSIM_EMBEDDING_OPENAI_API_BASE"`
	Model   string `json:"model" env:"BUDGETSIM_EMBEDDING_OPENAI_MODEL"`
}

type CatalogConfig struct {
	DataDir  string `json:"data_dir" env:"BUDGETSIM_CATALOG_DATA_DIR"`
	CSVFile  string `json:"csv_file" env:"BUDGETSIM_CATALOG_CSV_FILE"`
	Snapshot string `json:"snapshot" env:"BUDGETSIM_CATALOG_SNAPSHOT"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"BUDGETSIM_GATEWAY_HOST"`
	Port int    `json:"port" env:"BUDGETSIM_GATEWAY_PORT"`
}

// SessionsConfig controls eviction of idle sessions. Sessions are
// process-lifetime only; the sweeper just bounds memory growth.
type SessionsConfig struct {
	IdleTTLMinutes int    `json:"idle_ttl_minutes" env:"BUDGETSIM_SESSIONS_IDLE_TTL_MINUTES"`
	SweepSchedule  string `json:"sweep_schedule" env:"BUDGETSIM_SESSIONS_SWEEP_SCHEDULE"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled" env:"BUDGETSIM_HISTORY_ENABLED"`
	File    string `json:"file" env:"BUDGETSIM_HISTORY_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			Years:         5,
			EventsPerYear: 12,
			BudgetPerYear: 150_000_000_000,
			Currency:      "JPY",
		},
		Estimator: EstimatorConfig{
			TopK:  5,
			Tau:   0.08,
			Alpha: 0.5,
			Beta:  0.5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dim:       384,
			Normalize: true,
			OpenAI: OpenAIConfig{
				Model: "text-embedding-3-large",
			},
		},
		Catalog: CatalogConfig{
			DataDir:  "data",
			CSVFile:  "events.csv",
			Snapshot: "catalog.db",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Sessions: SessionsConfig{
			IdleTTLMinutes: 120,
			SweepSchedule:  "*/10 * * * *",
		},
		History: HistoryConfig{
			Enabled: true,
			File:    "history.db",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Catalog.DataDir)
}

func (c *Config) CatalogCSVPath() string {
	return filepath.Join(c.DataDir(), c.Catalog.CSVFile)
}

func (c *Config) CatalogSnapshotPath() string {
	return filepath.Join(c.DataDir(), c.Catalog.Snapshot)
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir(), c.History.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
