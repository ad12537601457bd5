package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Live    LiveConfig    `yaml:"live"`
	Import  ImportConfig  `yaml:"import"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig configures the stub import server binary.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ProcessingDelay time.Duration `yaml:"processing_delay"`
	Workers         int           `yaml:"workers"`
}

// APIConfig configures the import server HTTP client.
type APIConfig struct {
	BaseURL          string        `yaml:"base_url"`
	SubmitEndpoint   string        `yaml:"submit_endpoint"`
	AnalyzeEndpoint  string        `yaml:"analyze_endpoint"`
	ConfirmEndpoint  string        `yaml:"confirm_endpoint"`
	RegistryEndpoint string        `yaml:"registry_endpoint"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LiveConfig configures the live synchronization channel.
type LiveConfig struct {
	URL      string          `yaml:"url"`
	Debounce time.Duration   `yaml:"debounce"`
	Backoff  []time.Duration `yaml:"backoff"`
}

type ImportConfig struct {
	Origin             string `yaml:"origin"`
	AllowMissingDigest bool   `yaml:"allow_missing_digest"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.API.SubmitEndpoint == "" {
		c.API.SubmitEndpoint = "/api/importacoes"
	}
	if c.API.AnalyzeEndpoint == "" {
		c.API.AnalyzeEndpoint = "/api/importacoes/analisar"
	}
	if c.API.ConfirmEndpoint == "" {
		c.API.ConfirmEndpoint = "/api/importacoes/confirmar"
	}
	if c.API.RegistryEndpoint == "" {
		c.API.RegistryEndpoint = "/api/importacoes"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 60 * time.Second
	}
	if c.Live.Debounce == 0 {
		c.Live.Debounce = 300 * time.Millisecond
	}
	if len(c.Live.Backoff) == 0 {
		c.Live.Backoff = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 4
	}
	if c.Import.Origin == "" {
		c.Import.Origin = "PORTAL"
	}
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
