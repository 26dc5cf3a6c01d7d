package core

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend identifiers accepted in SERVICE_PRIORITY and ENABLED_BACKENDS.
const (
	BackendReplicate = "REPLICATE"
	BackendLocalSD   = "LOCAL_SD"
	BackendOpenAI    = "OPENAI"
)

// KnownBackends lists every backend identifier the pipeline can build.
var KnownBackends = []string{BackendReplicate, BackendLocalSD, BackendOpenAI}

// KnownQualities lists the quality labels in ascending order.
var KnownQualities = []string{"LOW", "MEDIUM", "HIGH", "ENHANCED_HIGH"}

// DefaultReplicateModelVersion is the stable-diffusion model used when
// REPLICATE_MODEL_VERSION is unset.
const DefaultReplicateModelVersion = "27b93a2413e7f36cd83da926f3656280b2931564ff050bf9575f1fdf9bcd7478"

// Config holds all configuration values. It is built once by LoadConfig and
// handed to every component constructor; nothing reads the environment after
// startup.
type Config struct {
	// Hosted prediction API (async)
	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModelVersion string

	// Hosted image API (sync, policy moderated)
	OpenAIAPIKey          string
	OpenAIBaseURL         string // Optional override, empty uses the SDK default
	OpenAIImageModel      string
	OpenAIMaxPromptLength int

	// Local diffusion server (AUTOMATIC1111 compatible)
	LocalSDURL string

	// Local LLM (Ollama OpenAI-compatible endpoint)
	OllamaURL             string
	OllamaModel           string
	OllamaTimeout         time.Duration
	PromptEnhancement     bool
	BackgroundEnhancement bool
	ToneStyling           bool

	// Pipeline
	ServicePriority      []string
	EnabledBackends      []string // Empty means every known backend
	QualitySequence      []string
	GenerationDelay      time.Duration
	QualityProfilesFile  string
	CancelSupersededRuns bool

	// Context history and contextual generation
	ContextHistorySize    int
	ContextualGeneration  bool
	ContextualInterval    time.Duration
	ContextualMinImages   int
	ContextualMaxImages   int
	ContextualMaxQueueLen int

	// Web UI
	Port            int
	WebUIAPIKey     string
	PromptRateLimit float64
	PromptRateBurst int

	// Storage
	DownloadsDir         string
	SaveImages           bool
	DatabasePath         string
	HistoryRetentionDays int

	// Logging
	LogLevel      string
	LogFile       string
	IsDevelopment bool

	// Networking
	HTTPTimeout          time.Duration
	AllowSelfSignedCerts bool
}

// LoadConfig loads configuration from environment variables with defaults
// suited to a single-machine demo: Replicate first, the local diffusion
// server as fallback, the hosted image API only when listed explicitly.
// Credentials are not required here; a backend with a missing credential
// reports a ConfigurationError when it is first used.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ReplicateAPIToken:     strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:      strings.TrimRight(GetEnvOrDefault("REPLICATE_BASE_URL", "https://api.replicate.com"), "/"),
		ReplicateModelVersion: GetEnvOrDefault("REPLICATE_MODEL_VERSION", DefaultReplicateModelVersion),

		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		OpenAIImageModel:      GetEnvOrDefault("OPENAI_IMAGE_MODEL", "dall-e-3"),
		OpenAIMaxPromptLength: ParseIntEnv("OPENAI_MAX_PROMPT_LENGTH", 1000),

		LocalSDURL: strings.TrimRight(GetEnvOrDefault("LOCAL_SD_URL", "http://127.0.0.1:7860"), "/"),

		OllamaURL:             strings.TrimRight(GetEnvOrDefault("OLLAMA_URL", "http://localhost:11434/v1"), "/"),
		OllamaModel:           GetEnvOrDefault("OLLAMA_MODEL", "llama3.2:latest"),
		OllamaTimeout:         ParseDurationEnv("OLLAMA_TIMEOUT", 8),
		PromptEnhancement:     ParseBoolEnv("PROMPT_ENHANCEMENT", false),
		BackgroundEnhancement: ParseBoolEnv("BACKGROUND_ENHANCEMENT", false),
		ToneStyling:           ParseBoolEnv("TONE_STYLING", false),

		ServicePriority:      ParseListEnv("SERVICE_PRIORITY", []string{BackendReplicate, BackendLocalSD}),
		EnabledBackends:      ParseListEnv("ENABLED_BACKENDS", nil),
		QualitySequence:      ParseListEnv("QUALITY_SEQUENCE", KnownQualities),
		GenerationDelay:      ParseMillisEnv("GENERATION_DELAY_MS", 200),
		QualityProfilesFile:  os.Getenv("QUALITY_PROFILES_FILE"),
		CancelSupersededRuns: ParseBoolEnv("CANCEL_SUPERSEDED_RUNS", false),

		ContextHistorySize:    ParseIntEnv("CONTEXT_HISTORY_SIZE", 20),
		ContextualGeneration:  ParseBoolEnv("CONTEXTUAL_GENERATION", false),
		ContextualInterval:    ParseMillisEnv("CONTEXTUAL_INTERVAL_MS", 2000),
		ContextualMinImages:   ParseIntEnv("CONTEXTUAL_MIN_IMAGES", 1),
		ContextualMaxImages:   ParseIntEnv("CONTEXTUAL_MAX_IMAGES", 10),
		ContextualMaxQueueLen: ParseIntEnv("CONTEXTUAL_MAX_QUEUE", 2),

		Port:            ParseIntEnv("WEBUI_PORT", 3000),
		WebUIAPIKey:     os.Getenv("WEBUI_API_KEY"),
		PromptRateLimit: ParseFloat64Env("PROMPT_RATE_LIMIT", 2),
		PromptRateBurst: ParseIntEnv("PROMPT_RATE_BURST", 5),

		DownloadsDir: GetEnvOrDefault("DOWNLOADS_DIR", "./downloads"),
		SaveImages:   ParseBoolEnv("SAVE_IMAGES", false),
		DatabasePath: GetEnvOrDefault("DATABASE_PATH", "visionboard.db"),

		HistoryRetentionDays: ParseIntEnv("HISTORY_RETENTION_DAYS", 30),

		LogLevel:      GetEnvOrDefault("LOG_LEVEL", ""),
		LogFile:       GetEnvOrDefault("LOG_FILE", "app.log"),
		IsDevelopment: strings.EqualFold(GetEnvOrDefault("APP_ENV", "production"), "development"),

		HTTPTimeout:          ParseDurationEnv("HTTP_TIMEOUT", 60),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural consistency. It does not check credentials.
func (c *Config) Validate() error {
	if len(c.ServicePriority) == 0 {
		return ErrMissingConfig("SERVICE_PRIORITY")
	}
	if err := validateNames("SERVICE_PRIORITY", c.ServicePriority, KnownBackends); err != nil {
		return err
	}
	if err := validateNames("ENABLED_BACKENDS", c.EnabledBackends, KnownBackends); err != nil {
		return err
	}
	if len(c.QualitySequence) == 0 {
		return ErrMissingConfig("QUALITY_SEQUENCE")
	}
	if err := validateNames("QUALITY_SEQUENCE", c.QualitySequence, KnownQualities); err != nil {
		return err
	}
	if c.GenerationDelay < 0 {
		return ErrInvalidValue("GENERATION_DELAY_MS", c.GenerationDelay.String(), "must not be negative")
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidValue("WEBUI_PORT", strconv.Itoa(c.Port), "must be between 1 and 65535")
	}
	if c.OpenAIMaxPromptLength < 1 {
		return ErrInvalidValue("OPENAI_MAX_PROMPT_LENGTH", strconv.Itoa(c.OpenAIMaxPromptLength), "must be positive")
	}
	if c.ContextHistorySize < 1 {
		return ErrInvalidValue("CONTEXT_HISTORY_SIZE", strconv.Itoa(c.ContextHistorySize), "must be positive")
	}
	for name, raw := range map[string]string{
		"REPLICATE_BASE_URL": c.ReplicateBaseURL,
		"LOCAL_SD_URL":       c.LocalSDURL,
		"OLLAMA_URL":         c.OllamaURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalidValue(name, raw, "must be an absolute http(s) URL")
		}
	}
	return nil
}

func validateNames(varName string, values, known []string) error {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if !contains(known, v) {
			return ErrInvalidValue(varName, v, "expected one of "+strings.Join(known, ", "))
		}
		if seen[v] {
			return ErrInvalidValue(varName, v, "listed more than once")
		}
		seen[v] = true
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// BackendEnabled reports whether name may be used. An empty EnabledBackends
// list enables every known backend.
func (c *Config) BackendEnabled(name string) bool {
	if len(c.EnabledBackends) == 0 {
		return contains(KnownBackends, name)
	}
	return contains(c.EnabledBackends, name)
}

// GetHTTPClient returns an HTTP client configured with the given timeout and TLS settings
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
