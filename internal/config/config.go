package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		// APIKeys enables X-API-Key authentication when not empty.
		APIKeys     []string `yaml:"apiKeys"`
		CORSOrigins []string `yaml:"corsOrigins"`
		// RateLimit caps POST requests per client per minute. 0 disables it.
		RateLimit int `yaml:"rateLimit"`
		RateBurst int `yaml:"rateBurst"`
	} `yaml:"server"`

	Database struct {
		// Driver is one of postgres, mysql, sqlite.
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		// Path of the sqlite file.
		Path string `yaml:"path"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
		Prefix     string `yaml:"prefix"`
	} `yaml:"minio"`

	Playground struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"timeout"`
		RetryCount int           `yaml:"retryCount"`
	} `yaml:"playground"`

	AI struct {
		// Provider is openai or heuristic.
		Provider  string `yaml:"provider"`
		APIKey    string `yaml:"apiKey"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"baseURL"`
		MaxTokens int    `yaml:"maxTokens"`
	} `yaml:"ai"`

	Budget struct {
		MaxTokensPerMinute int           `yaml:"maxTokensPerMinute"`
		Window             time.Duration `yaml:"window"`
		SafetyMargin       float64       `yaml:"safetyMargin"`
	} `yaml:"budget"`

	Scan struct {
		MaxTokensPerRequest int           `yaml:"maxTokensPerRequest"`
		ChunkSize           int           `yaml:"chunkSize"`
		TokensPerChar       float64       `yaml:"tokensPerChar"`
		FileDelay           time.Duration `yaml:"fileDelay"`
		ChunkDelay          time.Duration `yaml:"chunkDelay"`
		// MaxRetries is a pointer so an explicit 0 (no retries) survives
		// defaulting.
		MaxRetries          *int          `yaml:"maxRetries"`
		RetryBaseDelay      time.Duration `yaml:"retryBaseDelay"`
		MaxConcurrentScans  int           `yaml:"maxConcurrentScans"`
		StaleAfter          time.Duration `yaml:"staleAfter"`
		ResumeSchedule      string        `yaml:"resumeSchedule"`
	} `yaml:"scan"`

	Logging struct {
		Debug bool `yaml:"debug"`
	} `yaml:"logging"`
}

// Load baca file config.yaml. A missing file is not an error: defaults and
// environment variables are enough for a local run.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// applyEnv lets secrets and deployment specific values come from the
// environment instead of the file.
func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &c.AI.APIKey)
	str("AI_PROVIDER", &c.AI.Provider)
	str("AI_MODEL", &c.AI.Model)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_HOST", &c.Database.Host)
	str("DATABASE_USER", &c.Database.User)
	str("DATABASE_PASSWORD", &c.Database.Password)
	str("DATABASE_NAME", &c.Database.Name)
	str("PLAYGROUND_URL", &c.Playground.URL)
	str("MINIO_ACCESS_KEY", &c.Minio.AccessKey)
	str("MINIO_SECRET_KEY", &c.Minio.SecretKey)
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("REPOSCAN_DEBUG"); v != "" {
		c.Logging.Debug, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		c.Server.APIKeys = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.Server.APIKeys = append(c.Server.APIKeys, k)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = c.Server.RateLimit
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Path == "" {
		c.Database.Path = "reposcan.db"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		case "mysql":
			c.Database.Port = 3306
		}
	}
	if c.Playground.URL == "" {
		c.Playground.URL = "http://localhost:8000"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.Budget.MaxTokensPerMinute == 0 {
		c.Budget.MaxTokensPerMinute = 1200000
	}
	if c.Budget.Window == 0 {
		c.Budget.Window = time.Minute
	}
	if c.Budget.SafetyMargin == 0 {
		c.Budget.SafetyMargin = 0.8
	}
	if c.Scan.MaxTokensPerRequest == 0 {
		c.Scan.MaxTokensPerRequest = 25000
	}
	if c.Scan.ChunkSize == 0 {
		c.Scan.ChunkSize = 6000
	}
	if c.Scan.TokensPerChar == 0 {
		c.Scan.TokensPerChar = 0.25
	}
	if c.Scan.FileDelay == 0 {
		c.Scan.FileDelay = 5 * time.Second
	}
	if c.Scan.ChunkDelay == 0 {
		c.Scan.ChunkDelay = 3 * time.Second
	}
	if c.Scan.MaxRetries == nil {
		n := 5
		c.Scan.MaxRetries = &n
	}
	if c.Scan.RetryBaseDelay == 0 {
		c.Scan.RetryBaseDelay = 3 * time.Second
	}
	if c.Scan.MaxConcurrentScans == 0 {
		c.Scan.MaxConcurrentScans = 4
	}
	if c.Scan.StaleAfter == 0 {
		c.Scan.StaleAfter = 15 * time.Minute
	}
	if c.Scan.ResumeSchedule == "" {
		c.Scan.ResumeSchedule = "@every 5m"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres, mysql or sqlite, got %q", c.Database.Driver))
	}
	switch c.AI.Provider {
	case "openai":
		if c.AI.APIKey == "" {
			errs = append(errs, errors.New("ai.apiKey (or OPENAI_API_KEY) is required for the openai provider"))
		}
	case "heuristic":
	default:
		errs = append(errs, fmt.Errorf("ai.provider must be openai or heuristic, got %q", c.AI.Provider))
	}
	if u, err := url.Parse(c.Playground.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("playground.url %q is not an absolute URL", c.Playground.URL))
	}
	if c.Budget.SafetyMargin <= 0 || c.Budget.SafetyMargin > 1 {
		errs = append(errs, fmt.Errorf("budget.safetyMargin must be in (0,1], got %v", c.Budget.SafetyMargin))
	}
	if c.Scan.MaxRetries != nil && *c.Scan.MaxRetries < 0 {
		errs = append(errs, errors.New("scan.maxRetries must not be negative"))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}
