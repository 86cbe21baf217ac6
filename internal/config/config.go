package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	Completion CompletionConfig `yaml:"completion"`
	Redis      RedisConfig      `yaml:"redis"`
	Objects    ObjectsConfig    `yaml:"objects"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Auth       AuthConfig       `yaml:"auth"`
	Workers    WorkersConfig    `yaml:"workers"`
}

// CompletionConfig points at an OpenAI-compatible chat completion endpoint.
type CompletionConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
}

type ObjectsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// AuthConfig carries the RS256 verification keys for bearer tokens.
// VerifyKeyPaths maps kid -> public key PEM path so key rotation keeps
// previously issued tokens valid.
type AuthConfig struct {
	PublicKeyPath  string            `yaml:"publicKeyPath"`
	KeyID          string            `yaml:"keyID"`
	VerifyKeyPaths map[string]string `yaml:"verifyKeyPaths"`
	Issuer         string            `yaml:"issuer"`
	Audience       string            `yaml:"audience"`
}

type WorkersConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("COMPLETION_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("COMPLETION_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("COMPLETION_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("OBJECTS_ENDPOINT"); v != "" {
		cfg.Objects.Endpoint = v
	}
	if v := os.Getenv("OBJECTS_ACCESS_KEY"); v != "" {
		cfg.Objects.AccessKey = v
	}
	if v := os.Getenv("OBJECTS_SECRET_KEY"); v != "" {
		cfg.Objects.SecretKey = v
	}
	if v := os.Getenv("AUTH_PUBLIC_KEY_PATH"); v != "" {
		cfg.Auth.PublicKeyPath = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.Completion.BaseURL == "" {
		return errors.New("config: completion.baseURL is required (set in config.yaml or COMPLETION_BASE_URL)")
	}
	if cfg.Completion.Model == "" {
		return errors.New("config: completion.model is required (set in config.yaml or COMPLETION_MODEL)")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("config: redis.addr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.Auth.PublicKeyPath == "" && len(cfg.Auth.VerifyKeyPaths) == 0 {
		return errors.New("config: auth.publicKeyPath is required (set in config.yaml or AUTH_PUBLIC_KEY_PATH)")
	}
	if cfg.RateLimit.Limit < 0 {
		return errors.New("config: rateLimit.limit must not be negative")
	}
	return nil
}
