// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Executor ExecutorConfig `yaml:"executor"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Decision DecisionConfig `yaml:"decision"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExecutorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	CatalogTTL     time.Duration `yaml:"catalog_ttl"`
}

type CrawlerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	QueueLimit int           `yaml:"queue_limit"`
	QueueTTL   time.Duration `yaml:"queue_ttl"`
}

type AnalyzerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	MaxMetrics      int           `yaml:"max_metrics"`
	HistoryLimit    int           `yaml:"history_limit"`
	DecisionContext int           `yaml:"decision_context"`
	AIQueueLimit    int           `yaml:"ai_queue_limit"`
}

type DecisionConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Models       []string      `yaml:"models"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	BlacklistTTL time.Duration `yaml:"blacklist_ttl"`
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// The API key may come from the environment instead of the file.
	if key := os.Getenv("SMARTOPS_OPENAI_API_KEY"); key != "" {
		config.Decision.APIKey = key
	}

	setDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/smartops.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Executor.DefaultTimeout == 0 {
		cfg.Executor.DefaultTimeout = 30 * time.Second
	}
	if cfg.Executor.CatalogTTL == 0 {
		cfg.Executor.CatalogTTL = 5 * time.Minute
	}

	if cfg.Crawler.Interval == 0 {
		cfg.Crawler.Interval = 60 * time.Second
	}
	if cfg.Crawler.QueueLimit == 0 {
		cfg.Crawler.QueueLimit = 20
	}
	if cfg.Crawler.QueueTTL == 0 {
		cfg.Crawler.QueueTTL = 24 * time.Hour
	}

	if cfg.Analyzer.Interval == 0 {
		cfg.Analyzer.Interval = 5 * time.Minute
	}
	if cfg.Analyzer.MaxMetrics == 0 {
		cfg.Analyzer.MaxMetrics = 5
	}
	if cfg.Analyzer.HistoryLimit == 0 {
		cfg.Analyzer.HistoryLimit = 10
	}
	if cfg.Analyzer.DecisionContext == 0 {
		cfg.Analyzer.DecisionContext = 2
	}
	if cfg.Analyzer.AIQueueLimit == 0 {
		cfg.Analyzer.AIQueueLimit = 100
	}

	if len(cfg.Decision.Models) == 0 {
		cfg.Decision.Models = []string{"gpt-4o-mini"}
	}
	if cfg.Decision.Temperature == 0 {
		cfg.Decision.Temperature = 0.3
	}
	if cfg.Decision.Timeout == 0 {
		cfg.Decision.Timeout = 120 * time.Second
	}
	if cfg.Decision.BlacklistTTL == 0 {
		cfg.Decision.BlacklistTTL = 2 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.Crawler.Interval <= 0 {
		return fmt.Errorf("crawler.interval must be positive")
	}
	if cfg.Crawler.QueueLimit < 1 {
		return fmt.Errorf("crawler.queue_limit must be at least 1")
	}
	if cfg.Analyzer.Interval <= 0 {
		return fmt.Errorf("analyzer.interval must be positive")
	}
	if cfg.Analyzer.MaxMetrics < 1 {
		return fmt.Errorf("analyzer.max_metrics must be at least 1")
	}
	if cfg.Decision.Temperature < 0 || cfg.Decision.Temperature > 2 {
		return fmt.Errorf("decision.temperature must be between 0 and 2")
	}
	if cfg.Analyzer.Enabled && cfg.Decision.APIKey == "" {
		return fmt.Errorf("decision.api_key is required when the analyzer is enabled (or set SMARTOPS_OPENAI_API_KEY)")
	}
	return nil
}
