package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath dipakai kalau CONFIG_PATH kosong
const DefaultPath = "config.yaml"

const (
	ModeAttestation = "attestation"
	ModeNarrative   = "narrative"
)

type Config struct {
	Server struct {
		Port            int      `yaml:"port"`
		ReadTimeoutSec  int      `yaml:"readTimeoutSec"`
		WriteTimeoutSec int      `yaml:"writeTimeoutSec"`
		APIKeys         []string `yaml:"apiKeys"`
		AllowedOrigins  []string `yaml:"allowedOrigins"`
		RateLimitRPS    float64  `yaml:"rateLimitRPS"`
		RateLimitBurst  int      `yaml:"rateLimitBurst"`
		MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
	} `yaml:"server"`

	Logging struct {
		Level        string `yaml:"level"`
		Format       string `yaml:"format"` // json | text
		Output       string `yaml:"output"` // stdout | stderr | <file>
		FileRotation bool   `yaml:"fileRotation"`
		MaxSize      int    `yaml:"maxSize"`
		MaxBackups   int    `yaml:"maxBackups"`
		MaxAge       int    `yaml:"maxAge"`
	} `yaml:"logging"`

	Dataset struct {
		BasePath string `yaml:"basePath"`
	} `yaml:"dataset"`

	Cache struct {
		Root string `yaml:"root"`
	} `yaml:"cache"`

	Scanner struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"scanner"`

	Response struct {
		Mode string `yaml:"mode"` // attestation | narrative
	} `yaml:"response"`

	Weapon struct {
		Provider   string  `yaml:"provider"` // none | docker | openai
		Image      string  `yaml:"image"`
		ModelPath  string  `yaml:"modelPath"`
		Model      string  `yaml:"model"`
		MaxImages  int     `yaml:"maxImages"`
		Threshold  float64 `yaml:"threshold"`
		TimeoutSec int     `yaml:"timeoutSec"`
	} `yaml:"weapon"`

	Narrative struct {
		Enabled  bool   `yaml:"enabled"`
		Provider string `yaml:"provider"` // openai | local
		Model    string `yaml:"model"`
	} `yaml:"narrative"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	Database struct {
		Driver   string `yaml:"driver"` // "" | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Load baca .env, file config yaml, lalu override dari environment.
// File yang tidak ada hanya boleh untuk DefaultPath (pakai default saja).
func Load(path string) (*Config, error) {
	// .env opsional
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DEV_DATASET_BASE_PATH", &c.Dataset.BasePath)
	str("TEE_CACHE_ROOT", &c.Cache.Root)
	str("RESPONSE_MODE", &c.Response.Mode)
	str("NARRATIVE_PROVIDER", &c.Narrative.Provider)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("WEAPON_DETECTOR_PROVIDER", &c.Weapon.Provider)
	str("GUN_DETECTOR_ONNX_PATH", &c.Weapon.ModelPath)
	str("LOG_LEVEL", &c.Logging.Level)
	str("DATABASE_DRIVER", &c.Database.Driver)
	if v, ok := lookup("PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v, ok := lookup("NARRATIVE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Narrative.Enabled = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 120
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Response.Mode == "" {
		c.Response.Mode = ModeAttestation
	}
	if c.Weapon.Provider == "" {
		c.Weapon.Provider = "none"
	}
	if c.Weapon.MaxImages == 0 {
		c.Weapon.MaxImages = 1
	}
	if c.Weapon.Threshold == 0 {
		c.Weapon.Threshold = 0.5
	}
	if c.Weapon.TimeoutSec == 0 {
		c.Weapon.TimeoutSec = 60
	}
	if c.Weapon.Model == "" {
		c.Weapon.Model = "gpt-4o-mini"
	}
	if c.Narrative.Provider == "" {
		c.Narrative.Provider = "local"
	}
	if c.Narrative.Model == "" {
		c.Narrative.Model = "gpt-4o-mini"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	c.Weapon.Provider = strings.ToLower(c.Weapon.Provider)
	c.Narrative.Provider = strings.ToLower(c.Narrative.Provider)
	c.Response.Mode = strings.ToLower(c.Response.Mode)
}

// Validate cek kombinasi yang wajib ada sebelum server jalan
func (c *Config) Validate() error {
	var errs []error
	switch c.Response.Mode {
	case ModeAttestation:
	case ModeNarrative:
		if !c.Narrative.Enabled {
			errs = append(errs, errors.New("response.mode=narrative requires narrative.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown response.mode %q", c.Response.Mode))
	}

	switch c.Narrative.Provider {
	case "local":
	case "openai":
		if c.Narrative.Enabled && c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("narrative.provider=openai requires OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown narrative.provider %q", c.Narrative.Provider))
	}

	switch c.Weapon.Provider {
	case "none":
	case "docker":
		if c.Weapon.Image == "" {
			errs = append(errs, errors.New("weapon.provider=docker requires weapon.image"))
		}
		if c.Weapon.ModelPath == "" {
			errs = append(errs, errors.New("weapon.provider=docker requires GUN_DETECTOR_ONNX_PATH"))
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("weapon.provider=openai requires OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown weapon.provider %q", c.Weapon.Provider))
	}
	if c.Weapon.MaxImages < 0 {
		errs = append(errs, errors.New("weapon.maxImages must not be negative"))
	}

	switch c.Database.Driver {
	case "":
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.driver=%s requires host and name", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.enabled requires endpoint and bucketName"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	port := c.Database.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
