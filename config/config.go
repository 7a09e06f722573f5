package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Port string

	StorageDriver string
	DataDir       string
	DatabaseURL   string

	LLMProvider     string
	LLMModel        string
	LLMMaxTokens    int64
	AnthropicAPIKey string
	OpenAIAPIKey    string
	MaxSteps        int

	MCPServers []MCPServer

	RemindersEnabled  bool
	ChatRatePerMinute int

	TracingEnabled  bool
	TracingEndpoint string

	LogLevel string
	LogFile  string
}

// MCPServer is one external tool server, configured as name=url.
type MCPServer struct {
	Name string
	URL  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", StorageSQLite)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("LLM_PROVIDER", ProviderAnthropic)
	v.SetDefault("LLM_MAX_TOKENS", 4096)
	v.SetDefault("MAX_STEPS", 10)
	v.SetDefault("REMINDERS_ENABLED", false)
	v.SetDefault("CHAT_RATE_PER_MINUTE", 30)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "logs/studybuddy.log")

	return &Config{
		Port:              v.GetString("PORT"),
		StorageDriver:     strings.ToLower(v.GetString("STORAGE_DRIVER")),
		DataDir:           v.GetString("DATA_DIR"),
		DatabaseURL:       v.GetString("DB_URL"),
		LLMProvider:       strings.ToLower(v.GetString("LLM_PROVIDER")),
		LLMModel:          v.GetString("LLM_MODEL"),
		LLMMaxTokens:      v.GetInt64("LLM_MAX_TOKENS"),
		AnthropicAPIKey:   v.GetString("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		MaxSteps:          v.GetInt("MAX_STEPS"),
		MCPServers:        ParseMCPServers(v.GetString("MCP_SERVERS")),
		RemindersEnabled:  v.GetBool("REMINDERS_ENABLED"),
		ChatRatePerMinute: v.GetInt("CHAT_RATE_PER_MINUTE"),
		TracingEnabled:    v.GetBool("TRACING_ENABLED"),
		TracingEndpoint:   v.GetString("TRACING_ENDPOINT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFile:           v.GetString("LOG_FILE"),
	}
}

// Validate reports the first configuration problem that prevents startup.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the sqlite storage driver")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_URL environment variable is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.MaxSteps <= 0 {
		return fmt.Errorf("MAX_STEPS must be positive")
	}

	if c.TracingEnabled && c.TracingEndpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when tracing is enabled")
	}

	return nil
}

// ParseMCPServers parses "name=url,name2=url2". Malformed entries are skipped.
func ParseMCPServers(raw string) []MCPServer {
	var servers []MCPServer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		servers = append(servers, MCPServer{Name: name, URL: url})
	}
	return servers
}
