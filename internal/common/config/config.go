package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ============================================================
// Configuration
// ============================================================

type Config struct {
	Port         string
	Environment  string
	ReadTimeout  int
	WriteTimeout int
	// CORSOrigins пустой разрешает любой источник.
	CORSOrigins  []string

	StorageBackend string
	DBPath         string
	FileRoot       string

	CatalogPath  string
	CatalogWatch bool

	EventsAddr string

	ResizeDelayMS         int
	HierarchyRetries      int
	HierarchyRetryBackoff int

	LogLevel  string
	LogFormat string
}

// fileConfig это раскладка TOML файла из BUILDER_CONFIG.
type fileConfig struct {
	Server struct {
		Port         string   `toml:"port"`
		Environment  string   `toml:"env"`
		ReadTimeout  int      `toml:"read_timeout"`
		WriteTimeout int      `toml:"write_timeout"`
		CORSOrigins  []string `toml:"cors_origins"`
	} `toml:"server"`
	Storage struct {
		Backend  string `toml:"backend"`
		DBPath   string `toml:"db_path"`
		FileRoot string `toml:"file_root"`
	} `toml:"storage"`
	Catalog struct {
		Path  string `toml:"path"`
		Watch *bool  `toml:"watch"`
	} `toml:"catalog"`
	Events struct {
		Addr string `toml:"addr"`
	} `toml:"events"`
	Hierarchy struct {
		ResizeDelayMS  int `toml:"resize_delay_ms"`
		RetryAttempts  int `toml:"retry_attempts"`
		RetryBackoffMS int `toml:"retry_backoff_ms"`
	} `toml:"hierarchy"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

func defaults() *Config {
	return &Config{
		Port:                  "3000",
		Environment:           "development",
		ReadTimeout:           10,
		WriteTimeout:          10,
		StorageBackend:        "sqlite",
		DBPath:                "data/db/builder.db",
		FileRoot:              "data/documents",
		CatalogPath:           "config/catalog.yaml",
		CatalogWatch:          true,
		EventsAddr:            ":3010",
		ResizeDelayMS:         50,
		HierarchyRetries:      3,
		HierarchyRetryBackoff: 20,
		LogLevel:              "info",
		LogFormat:             "auto",
	}
}

// Load загружает конфигурацию: значения по умолчанию, затем TOML файл из
// BUILDER_CONFIG (если задан), затем переменные окружения.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("BUILDER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyTOML(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyTOML(data []byte) error {
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return err
	}
	setString(&c.Port, f.Server.Port)
	setString(&c.Environment, f.Server.Environment)
	setInt(&c.ReadTimeout, f.Server.ReadTimeout)
	setInt(&c.WriteTimeout, f.Server.WriteTimeout)
	if len(f.Server.CORSOrigins) > 0 {
		c.CORSOrigins = f.Server.CORSOrigins
	}
	setString(&c.StorageBackend, f.Storage.Backend)
	setString(&c.DBPath, f.Storage.DBPath)
	setString(&c.FileRoot, f.Storage.FileRoot)
	setString(&c.CatalogPath, f.Catalog.Path)
	if f.Catalog.Watch != nil {
		c.CatalogWatch = *f.Catalog.Watch
	}
	setString(&c.EventsAddr, f.Events.Addr)
	setInt(&c.ResizeDelayMS, f.Hierarchy.ResizeDelayMS)
	setInt(&c.HierarchyRetries, f.Hierarchy.RetryAttempts)
	setInt(&c.HierarchyRetryBackoff, f.Hierarchy.RetryBackoffMS)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENV", c.Environment)
	c.ReadTimeout = getEnvAsInt("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvAsInt("WRITE_TIMEOUT", c.WriteTimeout)
	c.CORSOrigins = getEnvAsList("CORS_ORIGINS", c.CORSOrigins)
	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", c.StorageBackend))
	c.DBPath = getEnv("BUILDER_DB_PATH", c.DBPath)
	c.FileRoot = getEnv("BUILDER_FILE_ROOT", c.FileRoot)
	c.CatalogPath = getEnv("CATALOG_PATH", c.CatalogPath)
	c.CatalogWatch = getEnvAsBool("CATALOG_WATCH", c.CatalogWatch)
	c.EventsAddr = getEnv("EVENTS_ADDR", c.EventsAddr)
	c.ResizeDelayMS = getEnvAsInt("RESIZE_DELAY_MS", c.ResizeDelayMS)
	c.HierarchyRetries = getEnvAsInt("HIERARCHY_RETRY_ATTEMPTS", c.HierarchyRetries)
	c.HierarchyRetryBackoff = getEnvAsInt("HIERARCHY_RETRY_BACKOFF_MS", c.HierarchyRetryBackoff)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
