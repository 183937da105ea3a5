package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Roles a server process can take.
const (
	RoleAll          = "all"
	RoleAuthor       = "author"
	RoleIllustrator  = "illustrator"
	RolePublisher    = "publisher"
	RoleOrchestrator = "orchestrator"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string
	Role string

	// Broker and message log
	RedisURL       string
	DatabaseURL    string
	SQLitePath     string
	MessageLogDir  string
	SubscriberPool int

	// Worker HTTP surfaces
	AuthorPort      string
	IllustratorPort string
	PublisherPort   string

	// Pipeline
	OutputDir      string
	PublishFormats []string
	StoryTimeout   time.Duration
	PendingTTL     time.Duration

	// Clarification policy for the in-process coordinator
	ClarityMinLength int
	ClarityKeywords  []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		Role:             strings.ToLower(getEnv("ROLE", RoleAll)),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		MessageLogDir:    getEnv("MESSAGE_LOG_DIR", "output/messages"),
		SubscriberPool:   getEnvInt("SUBSCRIBER_POOL", 32),
		AuthorPort:       getEnv("AUTHOR_PORT", "5001"),
		IllustratorPort:  getEnv("ILLUSTRATOR_PORT", "5002"),
		PublisherPort:    getEnv("PUBLISHER_PORT", "5003"),
		OutputDir:        getEnv("OUTPUT_DIR", "output"),
		PublishFormats:   getEnvList("PUBLISH_FORMATS", []string{"html", "markdown"}),
		StoryTimeout:     getEnvDuration("STORY_TIMEOUT", 300*time.Second),
		PendingTTL:       getEnvDuration("PENDING_TTL", time.Hour),
		ClarityMinLength: getEnvInt("CLARITY_MIN_LENGTH", 50),
		ClarityKeywords:  getEnvList("CLARITY_KEYWORDS", []string{"standing", "sitting", "looking"}),
	}

	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	// In production, workers on separate hosts need a shared broker
	if cfg.Env == "production" && cfg.Role != RoleAll && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production when ROLE is not all")
	}

	return cfg
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleAll, RoleAuthor, RoleIllustrator, RolePublisher, RoleOrchestrator:
	default:
		return fmt.Errorf("unknown ROLE %q", c.Role)
	}
	if c.StoryTimeout <= 0 {
		return fmt.Errorf("STORY_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Runs reports whether this process hosts the given role.
func (c *Config) Runs(role string) bool {
	return c.Role == RoleAll || c.Role == role
}

// PublicationsDir is where the publisher writes its files.
func (c *Config) PublicationsDir() string {
	return c.OutputDir + "/publications"
}

// IllustrationsDir is where the illustrator writes placeholders.
func (c *Config) IllustrationsDir() string {
	return c.OutputDir + "/illustrations"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
