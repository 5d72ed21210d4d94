package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"linerelay/core"
	"linerelay/core/providers"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core core.Config          `yaml:",inline"`
	Line providers.LineConfig `yaml:"line"`

	DB       DBConfig     `yaml:"db"`
	Crypto   CryptoConfig `yaml:"crypto"`
	Port     string       `yaml:"port" env:"APP_PORT"`
	LogLevel string       `yaml:"log_level" env:"LOG_LEVEL"`
}

type DBConfig struct {
	Type       string      `yaml:"type" env:"DB_TYPE"`
	SQLitePath string      `yaml:"sqlite_path" env:"SQLITE_FILE"`
	YDB        YDBConfig   `yaml:"ydb"`
	Redis      RedisConfig `yaml:"redis"`
}

type YDBConfig struct {
	DSN                   string `yaml:"dsn" env:"YDB_DSN"`
	ServiceAccountKeyFile string `yaml:"sa_key_file" env:"YDB_SA_KEY_FILE"`
	MetadataCredentials   bool   `yaml:"metadata_credentials" env:"YDB_METADATA_CREDENTIALS"`
	TablePathPrefix       string `yaml:"table_path_prefix" env:"YDB_TABLE_PATH_PREFIX"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

type CryptoConfig struct {
	// EncryptionKey seals provider tokens at rest when set; 32 bytes.
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

const (
	dbTypeSQLite = "sqlite"
	dbTypeYDB    = "ydb"
	dbTypeRedis  = "redis"
	dbTypeMemory = "memory"
)

func defaultConfig() *AppConfig {
	return &AppConfig{
		Core: core.Config{
			Title:          "LINE Login",
			APIContextPath: "/api",
			AllowOrigins:   []string{"*"},
		},
		DB: DBConfig{
			Type:       dbTypeSQLite,
			SQLitePath: ":memory:",
		},
		Port:     "8000",
		LogLevel: "info",
	}
}

// loadConfig reads the YAML file at path, if any, then applies environment
// variables on top of it.
func loadConfig(path string) (*AppConfig, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	config.Line.ApplyDefaults()
	config.DB.Type = strings.ToLower(config.DB.Type)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *AppConfig) validate() error {
	if c.Line.ChannelID == "" || c.Line.ChannelSecret == "" {
		return errors.New("LINE channel id and channel secret are required")
	}

	switch c.DB.Type {
	case dbTypeSQLite:
		if c.DB.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case dbTypeYDB:
		if c.DB.YDB.DSN == "" {
			return errors.New("ydb dsn is required")
		}
	case dbTypeRedis:
		if c.DB.Redis.Addr == "" {
			return errors.New("redis addr is required")
		}
	case dbTypeMemory:
	default:
		return fmt.Errorf("unsupported DB type: %s (supported: sqlite, ydb, redis, memory)", c.DB.Type)
	}

	if c.Crypto.EncryptionKey != "" && len(c.Crypto.EncryptionKey) != 32 {
		return core.ErrInvalidEncryptionKey
	}

	return nil
}
