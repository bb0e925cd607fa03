package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	Upload   UploadConfig   `toml:"upload"`
	Engine   EngineConfig   `toml:"engine"`
	Web      WebConfig      `toml:"web"`
	Log      LogConfig      `toml:"log"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
}

type AppConfig struct {
	Name    string `toml:"name"`
	Env     string `toml:"env"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	GinMode string `toml:"gin_mode"`
	// Verbose exposes engine output and underlying error messages in
	// responses and lowers the log level to debug.
	Verbose bool `toml:"verbose"`
}

type UploadConfig struct {
	Dir               string   `toml:"dir"`
	MaxBytes          int64    `toml:"max_bytes"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	Retain            bool     `toml:"retain"`
}

type EngineConfig struct {
	Command        []string `toml:"command"`
	WorkDir        string   `toml:"work_dir"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MaxConcurrent  int      `toml:"max_concurrent"`
}

type WebConfig struct {
	StaticDir   string   `toml:"static_dir"`
	CORSOrigins []string `toml:"cors_origins"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type RabbitMQConfig struct {
	URL        string `toml:"url"`
	Exchange   string `toml:"exchange"`
	RoutingKey string `toml:"routing_key"`
	// Queue is the consumer queue bound to Exchange. Unused with the
	// default exchange, where events land in a queue named RoutingKey.
	Queue string `toml:"queue"`
}

func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load(getEnv("DOTENV_FILE", ".env"))

	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	cfg.Upload.AllowedExtensions = normalizeExtensions(cfg.Upload.AllowedExtensions)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) EngineTimeout() time.Duration {
	if c.Engine.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// EventQueue is the queue analysis events can be consumed from.
func (c RabbitMQConfig) EventQueue() string {
	if c.Exchange == "" {
		return c.RoutingKey
	}
	return c.Queue
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port must be in 1..65535, got %d", c.App.Port))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir is required"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes))
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("upload.allowed_extensions must not be empty"))
	}
	if len(c.Engine.Command) == 0 || strings.TrimSpace(c.Engine.Command[0]) == "" {
		errs = append(errs, errors.New("engine.command is required"))
	}
	if c.Engine.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("engine.timeout_seconds must not be negative, got %d", c.Engine.TimeoutSeconds))
	}
	if c.Engine.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_concurrent must be positive, got %d", c.Engine.MaxConcurrent))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "imagelens",
			Env:     "dev",
			Host:    "0.0.0.0",
			Port:    3000,
			GinMode: "release",
			Verbose: false,
		},
		Upload: UploadConfig{
			Dir:               "uploads",
			MaxBytes:          5 << 20,
			AllowedExtensions: []string{"jpg", "jpeg", "png", "gif"},
			Retain:            true,
		},
		Engine: EngineConfig{
			Command:        []string{"python3", "app.py"},
			WorkDir:        "",
			TimeoutSeconds: 60,
			MaxConcurrent:  4,
		},
		Web: WebConfig{
			StaticDir:   "public",
			CORSOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RabbitMQ: RabbitMQConfig{
			URL:        "", // publishing disabled unless set
			Exchange:   "",
			RoutingKey: "image.analysis",
			Queue:      "imagelens.analysis.events",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.Verbose = getEnvAsBool("APP_VERBOSE", cfg.App.Verbose)

	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxBytes = int64(getEnvAsInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes)))
	cfg.Upload.AllowedExtensions = getEnvAsList("UPLOAD_ALLOWED_EXTENSIONS", cfg.Upload.AllowedExtensions)
	cfg.Upload.Retain = getEnvAsBool("UPLOAD_RETAIN", cfg.Upload.Retain)

	cfg.Engine.Command = getEnvAsFields("ENGINE_COMMAND", cfg.Engine.Command)
	cfg.Engine.WorkDir = getEnv("ENGINE_WORK_DIR", cfg.Engine.WorkDir)
	cfg.Engine.TimeoutSeconds = getEnvAsInt("ENGINE_TIMEOUT_SECONDS", cfg.Engine.TimeoutSeconds)
	cfg.Engine.MaxConcurrent = getEnvAsInt("ENGINE_MAX_CONCURRENT", cfg.Engine.MaxConcurrent)

	cfg.Web.StaticDir = getEnv("WEB_STATIC_DIR", cfg.Web.StaticDir)
	cfg.Web.CORSOrigins = getEnvAsList("WEB_CORS_ORIGINS", cfg.Web.CORSOrigins)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", cfg.RabbitMQ.Exchange)
	cfg.RabbitMQ.RoutingKey = getEnv("RABBITMQ_ROUTING_KEY", cfg.RabbitMQ.RoutingKey)
	cfg.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", cfg.RabbitMQ.Queue)
}

// normalizeExtensions lower-cases entries and strips a leading dot so that
// ".PNG" and "png" configure the same thing.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsFields(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	return strings.Fields(raw)
}
