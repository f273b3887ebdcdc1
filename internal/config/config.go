package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration group of the service.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Upstream UpstreamConfig
	AI       AIConfig
	Speech   SpeechConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Auth:     auth,
		Upstream: upstream,
		AI:       ai,
		Speech:   loadSpeechConfig(),
		Storage:  storage,
		Pipeline: pipeline,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AuthConfig holds the client authentication policy.
//
// The web path only checks key length; that policy is carried over from the
// original service as a placeholder. See DESIGN.md before tightening it.
type AuthConfig struct {
	AppSecret       string
	AppKeyPrefix    string
	WebKeyMinLength int
}

func loadAuthConfig() (AuthConfig, error) {
	minLen := 32
	if override, err := parseOptionalIntEnv("RELAY_WEB_KEY_MIN_LENGTH"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AuthConfig{}, fmt.Errorf("RELAY_WEB_KEY_MIN_LENGTH must be positive, got %d", *override)
		}
		minLen = *override
	}

	return AuthConfig{
		AppSecret:       strings.TrimSpace(os.Getenv("RELAY_APP_SECRET")),
		AppKeyPrefix:    getEnvOrDefault("RELAY_APP_KEY_PREFIX", "sm_app_"),
		WebKeyMinLength: minLen,
	}, nil
}

// UpstreamConfig describes the conversational-audio provider connection.
type UpstreamConfig struct {
	URL              string
	Model            string
	APIKey           string
	HandshakeTimeout time.Duration
}

// Enabled reports whether the realtime relay can be brought up.
func (c UpstreamConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	timeoutSeconds := 15
	if override, err := parseOptionalIntEnv("UPSTREAM_HANDSHAKE_TIMEOUT"); err != nil {
		return UpstreamConfig{}, err
	} else if override != nil {
		timeoutSeconds = *override
	}

	apiKey := strings.TrimSpace(os.Getenv("UPSTREAM_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	return UpstreamConfig{
		URL:              getEnvOrDefault("UPSTREAM_URL", "wss://api.openai.com/v1/realtime"),
		Model:            getEnvOrDefault("UPSTREAM_MODEL", "gpt-4o-realtime-preview"),
		APIKey:           apiKey,
		HandshakeTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// AIConfig describes the completion providers used by the fallback pipeline.
type AIConfig struct {
	Provider string // "openai" or "ark"

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the configured provider has usable credentials.
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case "ark":
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.OpenAIAPIKey != ""
	}
}

// NewArkChatModel builds the eino chat model for the Ark provider.
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.ArkModel == "" || (c.ArkAPIKey == "" && (c.ArkAccessKey == "" || c.ArkSecretKey == "")) {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY plus ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:      getEnvOrDefault("AI_PROVIDER", "openai"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:   getEnvOrDefault("AI_COMPLETION_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ArkAPIKey:     strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:  strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:  strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:      strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:    getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:     getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
	}, nil
}

// SpeechConfig describes the transcription and synthesis providers.
type SpeechConfig struct {
	APIKey   string
	BaseURL  string
	STTModel string
	TTSModel string
}

// Enabled reports whether speech capabilities are configured.
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadSpeechConfig() SpeechConfig {
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	return SpeechConfig{
		APIKey:   apiKey,
		BaseURL:  strings.TrimSpace(os.Getenv("SPEECH_BASE_URL")),
		STTModel: getEnvOrDefault("SPEECH_STT_MODEL", "whisper-1"),
		TTSModel: getEnvOrDefault("SPEECH_TTS_MODEL", "tts-1"),
	}
}

// StorageConfig selects and configures the transcript storage driver.
type StorageConfig struct {
	Driver        string // "memory", "redis" or "supabase"
	SupabaseURL   string
	SupabaseKey   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

func loadStorageConfig() (StorageConfig, error) {
	redisDB := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StorageConfig{}, err
	} else if override != nil {
		redisDB = *override
	}

	ttlHours := 24
	if override, err := parseOptionalIntEnv("REDIS_TTL_HOURS"); err != nil {
		return StorageConfig{}, err
	} else if override != nil {
		ttlHours = *override
	}

	return StorageConfig{
		Driver:        getEnvOrDefault("STORAGE_DRIVER", "memory"),
		SupabaseURL:   strings.TrimSpace(os.Getenv("SUPABASE_URL")),
		SupabaseKey:   strings.TrimSpace(os.Getenv("SUPABASE_KEY")),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       redisDB,
		RedisTTL:      time.Duration(ttlHours) * time.Hour,
	}, nil
}

// PipelineConfig bounds each HTTP fallback pipeline stage.
type PipelineConfig struct {
	StageTimeout time.Duration
}

func loadPipelineConfig() (PipelineConfig, error) {
	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("PIPELINE_STAGE_TIMEOUT"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return PipelineConfig{}, fmt.Errorf("PIPELINE_STAGE_TIMEOUT must be positive, got %d", *override)
		}
		timeoutSeconds = *override
	}

	return PipelineConfig{StageTimeout: time.Duration(timeoutSeconds) * time.Second}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
