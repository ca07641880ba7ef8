package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where sitebuilder stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Logging
	LogLevel  string // SITEBUILDER_LOG_LEVEL (default: info)
	LogFormat string // SITEBUILDER_LOG_FORMAT (default: text)

	// Agent Configuration
	LLMBaseURL         string  // SITEBUILDER_LLM_BASE_URL (default: https://api.openai.com/v1)
	LLMAPIKey          string  // SITEBUILDER_LLM_API_KEY
	LLMModel           string  // SITEBUILDER_LLM_MODEL (default: gpt-4o-mini)
	LLMMaxTokens       int     // SITEBUILDER_LLM_MAX_CONTEXT_TOKENS (default: 128000)
	SystemPromptTokens int     // SITEBUILDER_SYSTEM_PROMPT_TOKENS (default: 1500)
	InputPricePerM     float64 // SITEBUILDER_LLM_INPUT_PRICE (USD per million tokens, default: 0.15)
	OutputPricePerM    float64 // SITEBUILDER_LLM_OUTPUT_PRICE (USD per million tokens, default: 0.60)
	WorkspaceRoot      string  // SITEBUILDER_WORKSPACE_ROOT (default: <data>/workspaces)

	// Session execution
	MaxConcurrentSessions int // SITEBUILDER_MAX_CONCURRENT_SESSIONS (default: 4)

	// Conversation liveness
	HeartbeatInterval      time.Duration // SITEBUILDER_HEARTBEAT_INTERVAL (default: 10s)
	ConversationTimeout    time.Duration // SITEBUILDER_CONVERSATION_TIMEOUT (default: 5m)
	ReaperInterval         time.Duration // SITEBUILDER_REAPER_INTERVAL (default: 1m)
	CancelOrphanedSessions bool          // SITEBUILDER_CANCEL_ORPHANED_SESSIONS (default: true)

	// PollRateLimit is the sustained per-user request rate on polling endpoints.
	PollRateLimit float64 // SITEBUILDER_POLL_RATE_LIMIT (default: 10)
}

const (
	DefaultLLMBaseURL            = "https://api.openai.com/v1"
	DefaultLLMModel              = "gpt-4o-mini"
	DefaultLLMMaxTokens          = 128000
	DefaultSystemPromptTokens    = 1500
	DefaultInputPricePerM        = 0.15
	DefaultOutputPricePerM       = 0.60
	DefaultMaxConcurrentSessions = 4
	DefaultHeartbeatInterval     = 10 * time.Second
	DefaultConversationTimeout   = 5 * time.Minute
	DefaultReaperInterval        = time.Minute
	DefaultPollRateLimit         = 10
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAgentConfigured reports whether an LLM endpoint can be called.
func (p *Profile) IsAgentConfigured() bool {
	return p.LLMAPIKey != "" && p.LLMBaseURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return f
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}

// FromEnv loads the agent, session and liveness settings from SITEBUILDER_* variables.
func (p *Profile) FromEnv() {
	p.LogLevel = getEnvOrDefault("SITEBUILDER_LOG_LEVEL", "info")
	p.LogFormat = getEnvOrDefault("SITEBUILDER_LOG_FORMAT", "text")

	p.LLMBaseURL = getEnvOrDefault("SITEBUILDER_LLM_BASE_URL", DefaultLLMBaseURL)
	p.LLMAPIKey = os.Getenv("SITEBUILDER_LLM_API_KEY")
	p.LLMModel = getEnvOrDefault("SITEBUILDER_LLM_MODEL", DefaultLLMModel)
	p.LLMMaxTokens = getIntEnvOrDefault("SITEBUILDER_LLM_MAX_CONTEXT_TOKENS", DefaultLLMMaxTokens)
	p.SystemPromptTokens = getIntEnvOrDefault("SITEBUILDER_SYSTEM_PROMPT_TOKENS", DefaultSystemPromptTokens)
	p.InputPricePerM = getFloatEnvOrDefault("SITEBUILDER_LLM_INPUT_PRICE", DefaultInputPricePerM)
	p.OutputPricePerM = getFloatEnvOrDefault("SITEBUILDER_LLM_OUTPUT_PRICE", DefaultOutputPricePerM)
	p.WorkspaceRoot = os.Getenv("SITEBUILDER_WORKSPACE_ROOT")

	p.MaxConcurrentSessions = getIntEnvOrDefault("SITEBUILDER_MAX_CONCURRENT_SESSIONS", DefaultMaxConcurrentSessions)

	p.HeartbeatInterval = getDurationEnvOrDefault("SITEBUILDER_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval)
	p.ConversationTimeout = getDurationEnvOrDefault("SITEBUILDER_CONVERSATION_TIMEOUT", DefaultConversationTimeout)
	p.ReaperInterval = getDurationEnvOrDefault("SITEBUILDER_REAPER_INTERVAL", DefaultReaperInterval)
	p.CancelOrphanedSessions = getEnvOrDefault("SITEBUILDER_CANCEL_ORPHANED_SESSIONS", "true") == "true"

	p.PollRateLimit = getFloatEnvOrDefault("SITEBUILDER_POLL_RATE_LIMIT", DefaultPollRateLimit)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver: %s", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/sitebuilder"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("sitebuilder_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.WorkspaceRoot == "" {
		p.WorkspaceRoot = filepath.Join(dataDir, "workspaces")
	}

	if p.MaxConcurrentSessions <= 0 {
		p.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if p.ConversationTimeout <= 0 {
		p.ConversationTimeout = DefaultConversationTimeout
	}
	if p.ReaperInterval <= 0 {
		p.ReaperInterval = DefaultReaperInterval
	}
	if p.ConversationTimeout <= p.HeartbeatInterval {
		return errors.Errorf("conversation timeout %s must be larger than heartbeat interval %s", p.ConversationTimeout, p.HeartbeatInterval)
	}
	if p.LLMMaxTokens <= 0 {
		p.LLMMaxTokens = DefaultLLMMaxTokens
	}
	if p.PollRateLimit <= 0 {
		p.PollRateLimit = DefaultPollRateLimit
	}

	return nil
}
