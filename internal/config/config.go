package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// 支持的大模型供应商。
const (
	ProviderOpenAI   = "openai"
	ProviderArk      = "ark"
	ProviderDeepSeek = "deepseek"
)

// 会话存储后端。
const (
	SessionBackendFile = "file"
	SessionBackendBolt = "bolt"
)

// DefaultSessionSecret 仅用于本地开发。
const DefaultSessionSecret = "supersecret"

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	AI      AIConfig
	Image   ImageConfig
	Upload  UploadConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}
	if err := cfg.AI.validate(); err != nil {
		return nil, err
	}

	if cfg.Image.APIKey == "" {
		cfg.Image.APIKey = cfg.AI.OpenAIAPIKey
	}

	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"5000"`
	StaticDir      string   `env:"STATIC_DIR" envDefault:"public"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Addr 由 Port 推导。
	Addr string
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// SessionConfig 描述基于 Cookie 的会话存储配置。
type SessionConfig struct {
	Backend      string        `env:"SESSION_BACKEND" envDefault:"file"`
	Secret       string        `env:"SESSION_SECRET" envDefault:"supersecret"`
	Dir          string        `env:"SESSION_DIR" envDefault:"./sessions"`
	BoltPath     string        `env:"SESSION_BOLT_PATH" envDefault:"./sessions/sessions.db"`
	CookieName   string        `env:"SESSION_COOKIE" envDefault:"progpt.sid"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	MaxAge       time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
}

func (c SessionConfig) validate() error {
	switch c.Backend {
	case SessionBackendFile, SessionBackendBolt:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND value: %q", c.Backend)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("invalid SESSION_MAX_AGE value: %s", c.MaxAge)
	}
	if c.Secret == DefaultSessionSecret {
		slog.Warn("SESSION_SECRET is not set, using the development default")
	}
	return nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string   `env:"AI_PROVIDER" envDefault:"openai"`
	Model        string   `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL      string   `env:"AI_BASE_URL"`
	SystemPrompt string   `env:"AI_SYSTEM_PROMPT"`
	Temperature  *float32 `env:"AI_TEMPERATURE"`
	TopP         *float32 `env:"AI_TOP_P"`
	MaxTokens    *int     `env:"AI_MAX_TOKENS"`
	Stream       bool     `env:"AI_STREAM" envDefault:"true"`

	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	ArkAPIKey      string `env:"ARK_API_KEY"`
	ArkAccessKey   string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey   string `env:"ARK_SECRET_KEY"`
	ArkRegion      string `env:"ARK_REGION" envDefault:"cn-beijing"`
	DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY"`
}

func (c AIConfig) validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderArk, ProviderDeepSeek:
		return nil
	default:
		return fmt.Errorf("invalid AI_PROVIDER value: %q", c.Provider)
	}
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	switch c.Provider {
	case ProviderArk:
		return c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != "")
	case ProviderDeepSeek:
		return c.DeepSeekAPIKey != ""
	default:
		return c.OpenAIAPIKey != ""
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials or model missing for provider %s", c.Provider)
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			TopP:        c.TopP,
		})
	case ProviderDeepSeek:
		return deepseek.NewChatModel(ctx, c.deepseekConfig())
	default:
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.OpenAIAPIKey,
			BaseURL:     baseURL,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			TopP:        c.TopP,
		})
	}
}

// deepseekConfig 构造 deepseek 配置；该适配器使用值类型字段，未设置的采样参数保持零值。
func (c AIConfig) deepseekConfig() *deepseek.ChatModelConfig {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}

	cfg := &deepseek.ChatModelConfig{
		APIKey:  c.DeepSeekAPIKey,
		BaseURL: baseURL,
		Model:   c.Model,
	}
	if c.Temperature != nil {
		cfg.Temperature = *c.Temperature
	}
	if c.TopP != nil {
		cfg.TopP = *c.TopP
	}
	if c.MaxTokens != nil {
		cfg.MaxTokens = *c.MaxTokens
	}
	return cfg
}

// ImageConfig 描述图片生成接口配置。
type ImageConfig struct {
	APIKey  string        `env:"IMAGE_API_KEY"`
	BaseURL string        `env:"IMAGE_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model   string        `env:"IMAGE_MODEL" envDefault:"gpt-image-1"`
	Size    string        `env:"IMAGE_SIZE" envDefault:"1024x1024"`
	Timeout time.Duration `env:"IMAGE_TIMEOUT" envDefault:"2m"`
}

// UploadConfig 描述文件上传配置。
type UploadConfig struct {
	Dir      string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`
}

// LogConfig 描述日志级别与可选的滚动日志文件。
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
}
