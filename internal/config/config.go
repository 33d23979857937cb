// Package config загружает конфигурацию сервиса из YAML и переменных окружения
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/models"
)

// Config конфигурация сервиса
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Models    ModelsConfig    `yaml:"models"`
	Predictor PredictorConfig `yaml:"predictor"`
	Redis     RedisConfig     `yaml:"redis"`
	Audit     AuditConfig     `yaml:"audit"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig настройки HTTP сервера
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DashboardConfig настройки интерактивной панели
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig путь к модели и схема признаков
type ModelConfig struct {
	Artifact    string `yaml:"artifact"`
	Transformer string `yaml:"transformer"`
	Schema      string `yaml:"schema"`
}

// ModelsConfig модели для каждого варианта
type ModelsConfig struct {
	Form      ModelConfig `yaml:"form"`
	API       ModelConfig `yaml:"api"`
	Dashboard ModelConfig `yaml:"dashboard"`
}

// ForVariant возвращает модель варианта
func (m ModelsConfig) ForVariant(variant string) (ModelConfig, bool) {
	switch variant {
	case models.VariantForm:
		return m.Form, true
	case models.VariantAPI:
		return m.API, true
	case models.VariantDashboard:
		return m.Dashboard, true
	}
	return ModelConfig{}, false
}

// PredictorConfig настройки инференса
type PredictorConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// RedisConfig настройки Redis
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuditConfig настройки журнала предсказаний
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig настройки публикации предсказаний
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MonitorConfig настройки монитора входных данных
type MonitorConfig struct {
	Workers    int     `yaml:"workers"`
	BufferSize int     `yaml:"buffer_size"`
	Window     int     `yaml:"window"`
	ZThreshold float64 `yaml:"z_threshold"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Dashboard: DashboardConfig{Addr: ":8050"},
		Models: ModelsConfig{
			Form: ModelConfig{
				Artifact: "artifacts/news_onehot_v1.json",
				Schema:   features.NEWSOneHotV1.Name,
			},
			API: ModelConfig{
				Artifact: "artifacts/vitals_minimal_v1.json",
				Schema:   features.MinimalV1.Name,
			},
			Dashboard: ModelConfig{
				Artifact:    "artifacts/tabular_tree_v1.json",
				Transformer: "artifacts/tabular_transformer_v1.json",
				Schema:      features.TabularV1.Name,
			},
		},
		Predictor: PredictorConfig{Timeout: 2 * time.Second, CacheSize: 1024},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			TTL:     10 * time.Minute,
		},
		Audit: AuditConfig{Enabled: true, Path: "data/predictions.db"},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "vitals-risk-service",
			TopicPrefix: "vitals/risk",
		},
		Monitor: MonitorConfig{
			Workers:    runtime.NumCPU(),
			BufferSize: 10000,
			Window:     50,
			ZThreshold: 3.0,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load читает YAML файл поверх значений по умолчанию и применяет переменные окружения.
// Отсутствующий файл не является ошибкой.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Dashboard.Addr = getEnv("DASHBOARD_ADDR", c.Dashboard.Addr)

	c.Models.Form.Artifact = getEnv("FORM_MODEL_PATH", c.Models.Form.Artifact)
	c.Models.API.Artifact = getEnv("API_MODEL_PATH", c.Models.API.Artifact)
	c.Models.Dashboard.Artifact = getEnv("DASHBOARD_MODEL_PATH", c.Models.Dashboard.Artifact)
	c.Models.Dashboard.Transformer = getEnv("DASHBOARD_TRANSFORMER_PATH", c.Models.Dashboard.Transformer)

	c.Predictor.Timeout = getEnvDuration("PREDICT_TIMEOUT", c.Predictor.Timeout)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Audit.Enabled = getEnvBool("AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.Path = getEnv("AUDIT_DB_PATH", c.Audit.Path)

	c.MQTT.Enabled = getEnvBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)

	c.Monitor.Workers = getEnvInt("WORKER_COUNT", c.Monitor.Workers)
	c.Monitor.BufferSize = getEnvInt("BUFFER_SIZE", c.Monitor.BufferSize)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate проверяет согласованность конфигурации
func (c Config) Validate() error {
	var errs []error

	for _, variant := range []string{models.VariantForm, models.VariantAPI, models.VariantDashboard} {
		mc, _ := c.Models.ForVariant(variant)
		schema, err := features.Lookup(mc.Schema)
		if err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", variant, err))
			continue
		}
		if schema.Encoding == features.EncodingTransformer && mc.Transformer == "" {
			errs = append(errs, fmt.Errorf("models.%s: schema %s requires a transformer", variant, schema.Name))
		}
	}
	if c.Predictor.Timeout <= 0 {
		errs = append(errs, errors.New("predictor.timeout must be positive"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Monitor.Workers <= 0 {
		errs = append(errs, errors.New("monitor.workers must be positive"))
	}

	return errors.Join(errs...)
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
