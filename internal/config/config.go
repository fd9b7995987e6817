package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getditto/DittoChat-sub001/internal/models"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	Environment    string // ENV: production, development, etc.
	Port           string
	LogLevel       string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL

	StoreBackend string // memory, mongo or postgres
	MongoURI     string
	PostgresURI  string
	RedisURI     string // optional; mongo falls back to change streams without it

	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	UserID   string
	UserName string

	Retention             models.RetentionConfig
	RBAC                  models.RBACConfig
	ConsistencyCheckDelay time.Duration
	MutationRate          float64 // mutations per second per client on the bridge
	MutationBurst         int
}

// fileConfig is the layout of CHAT_CONFIG_FILE.
type fileConfig struct {
	Retention *struct {
		Days         *int  `yaml:"days"`
		Indefinitely *bool `yaml:"indefinitely"`
	} `yaml:"retention"`
	RBAC                  map[string]bool `yaml:"rbac"`
	ConsistencyCheckDelay string          `yaml:"consistencyCheckDelay"`
	User                  *struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"user"`
}

// Load builds the configuration from CHAT_CONFIG_FILE, if set, and then the
// environment. Environment values win over the file.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:           strings.ToLower(strings.TrimSpace(getEnv("ENV", "development"))),
		Port:                  getEnv("PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:        parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		MongoURI:              getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/dittochat")),
		PostgresURI:           getEnv("POSTGRES_URI", "postgres://localhost:5432/dittochat?sslmode=disable"),
		RedisURI:              getEnv("REDIS_URI", ""),
		CloudinaryName:        getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:      getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret:   getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:      getEnv("CLOUDINARY_FOLDER", "dittochat"),
		Retention:             models.RetentionConfig{Days: models.DefaultRetentionDays},
		RBAC:                  models.RBACConfig{},
		ConsistencyCheckDelay: 5 * time.Second,
		MutationRate:          5,
		MutationBurst:         10,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{getEnv("FRONTEND_URL", "http://localhost:3000")}
	}

	if path := getEnv("CHAT_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.UserID = getEnv("CHAT_USER_ID", cfg.UserID)
	cfg.UserName = getEnv("CHAT_USER_NAME", cfg.UserName)
	if v := getEnv("RETENTION_DAYS", ""); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return nil, fmt.Errorf("RETENTION_DAYS: invalid value %q", v)
		}
		cfg.Retention.Days = days
	}
	if v := getEnv("RETAIN_INDEFINITELY", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("RETAIN_INDEFINITELY: %w", err)
		}
		cfg.Retention.Indefinite = b
	}
	if v := getEnv("CONSISTENCY_CHECK_DELAY", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CONSISTENCY_CHECK_DELAY: %w", err)
		}
		cfg.ConsistencyCheckDelay = d
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendMongo, BackendPostgres:
	default:
		return nil, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Retention != nil {
		if fc.Retention.Days != nil {
			c.Retention.Days = *fc.Retention.Days
		}
		if fc.Retention.Indefinitely != nil {
			c.Retention.Indefinite = *fc.Retention.Indefinitely
		}
	}
	for k, v := range fc.RBAC {
		c.RBAC[models.PermissionKey(k)] = v
	}
	if fc.ConsistencyCheckDelay != "" {
		d, err := time.ParseDuration(fc.ConsistencyCheckDelay)
		if err != nil {
			return fmt.Errorf("config file consistencyCheckDelay: %w", err)
		}
		c.ConsistencyCheckDelay = d
	}
	if fc.User != nil {
		c.UserID = fc.User.ID
		c.UserName = fc.User.Name
	}
	return nil
}

// HasCloudinary reports whether attachment blobs should go to Cloudinary.
func (c *Config) HasCloudinary() bool {
	return c.CloudinaryName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !containsOrigin(out, part) {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
