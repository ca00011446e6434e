package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel          OTelConfig
	Bus           BusConfig
	Summarizer    SummarizerConfig
	ArangoDB      ArangoDBConfig
	Proposals     ProposalConfig
	Env           string
	Port          string
	WorkspaceRoot string
	// WorkspaceIDs is the set of workspaces a worker consumes. The server
	// discovers workspaces per request and ignores this.
	WorkspaceIDs []string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// BusConfig selects and configures the event bus backend.
// With UsePubSub false the in-process bus is used and Redis settings are ignored.
type BusConfig struct {
	UsePubSub   bool
	RedisURL    string
	StreamGroup string
	Consumer    string
	StreamMax   int64
}

type SummarizerConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type ArangoDBConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// ProposalConfig selects the proposal store backend and the approval behavior.
// UseDocumentStore requires a configured ArangoDB section; the two backends are
// never mixed within one workspace.
type ProposalConfig struct {
	UseDocumentStore bool
	AutoCommit       bool
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development it loads from a service-specific .env file
// (.env.server / .env.worker), falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("CREWLOOP_ENV", "development") == "development" {
		if err := godotenv.Load(".env." + string(serviceType)); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:           getEnv("CREWLOOP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		WorkspaceRoot: getEnv("WORKSPACE_ROOT", "./workspaces"),
		WorkspaceIDs:  splitList(getEnv("WORKSPACE_IDS", "default")),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "crewloop"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Bus: BusConfig{
			UsePubSub:   getEnvBool("USE_PUBSUB", false),
			RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
			StreamGroup: getEnv("REDIS_CONSUMER_GROUP", "crewloop_agents"),
			Consumer:    getEnv("REDIS_CONSUMER_NAME", "server"),
			StreamMax:   int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000)),
		},
		Summarizer: SummarizerConfig{
			APIKey:    getEnv("SUMMARIZER_API_KEY", ""),
			BaseURL:   getEnv("SUMMARIZER_BASE_URL", ""),
			Model:     getEnv("SUMMARIZER_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("SUMMARIZER_MAX_TOKENS", 1024),
		},
		ArangoDB: ArangoDBConfig{
			URL:      getEnv("ARANGO_URL", ""),
			Username: getEnv("ARANGO_USERNAME", ""),
			Password: getEnv("ARANGO_PASSWORD", ""),
			Database: getEnv("ARANGO_DATABASE", ""),
		},
		Proposals: ProposalConfig{
			UseDocumentStore: getEnvBool("DOCUMENT_STORE_ENABLED", false),
			AutoCommit:       getEnvBool("AUTO_COMMIT_ENABLED", false),
		},
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c SummarizerConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c ArangoDBConfig) Enabled() bool {
	return c.URL != "" && c.Username != "" && c.Database != ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
