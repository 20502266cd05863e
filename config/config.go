// Package config provides YAML-based configuration loading for the EchoMind backend.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from config.yaml with
// environment overrides for secrets. It is constructed once at startup and
// injected into every component that needs it.
type Config struct {
	Addr        string        `yaml:"addr"`
	DatabaseURL string        `yaml:"database_url"`
	LogLevel    string        `yaml:"log_level"`
	Groq        GroqConfig    `yaml:"groq"`
	Chat        ChatConfig    `yaml:"chat"`
	Routing     RoutingConfig `yaml:"routing"`
	Models      []ModelInfo   `yaml:"models"`
}

// GroqConfig holds connection settings for the Groq completion endpoint.
type GroqConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ChatConfig carries the fixed per-deployment conversation texts.
type ChatConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`
	Apology      string `yaml:"apology"`
}

// RoutingConfig drives the complexity heuristic and the candidate sets.
type RoutingConfig struct {
	// Indicators classify a message as complex when any of them appears in
	// the text, case-insensitively.
	Indicators    []string `yaml:"indicators"`
	SimpleModel   string   `yaml:"simple_model"`
	ComplexModel  string   `yaml:"complex_model"`
	FallbackModel string   `yaml:"fallback_model"`
}

// ModelInfo is one entry of the model catalog. Largeness and token caps are
// declared here per model id instead of being re-derived from substrings of
// the identifier.
type ModelInfo struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	MaxTokens int    `yaml:"max_tokens"`
	Large     bool   `yaml:"large"`
}

// DefaultMaxTokens is used for model ids absent from the catalog.
const DefaultMaxTokens = 2048

// Load reads a YAML config file from path and returns a validated Config.
// A missing file is not an error; defaults plus environment variables apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaxTokensFor returns the token cap for a model id from the catalog.
func (c *Config) MaxTokensFor(modelID string) int {
	for _, m := range c.Models {
		if m.ID == modelID {
			return m.MaxTokens
		}
	}
	return DefaultMaxTokens
}

// KnownModel reports whether modelID appears in the catalog.
func (c *Config) KnownModel(modelID string) bool {
	for _, m := range c.Models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// applyEnv lets environment variables override secrets and connection strings.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Groq.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Groq.BaseURL == "" {
		c.Groq.BaseURL = "https://api.groq.com"
	}
	if c.Groq.TimeoutSeconds == 0 {
		c.Groq.TimeoutSeconds = 60
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = "請使用繁體中文回答所有問題。回答要清晰、準確，並保持專業友善的語氣。"
	}
	if c.Chat.Greeting == "" {
		c.Chat.Greeting = "你好！我是 EchoMind AI 助手。我可以協助你解答問題、提供學習建議，或是陪你聊天。請問有什麼我可以幫你的嗎？"
	}
	if c.Chat.Apology == "" {
		c.Chat.Apology = "抱歉，我現在無法正確處理您的訊息。請稍後再試。"
	}
	if len(c.Routing.Indicators) == 0 {
		c.Routing.Indicators = []string{
			"分析", "比較", "評估", "解釋",
			"為什麼", "如何", "原因",
			"程式碼", "代碼", "code",
			"數學", "科學", "歷史",
			"建議", "優缺點",
		}
	}
	if c.Routing.SimpleModel == "" {
		c.Routing.SimpleModel = "llama-3.1-8b-instant"
	}
	if c.Routing.ComplexModel == "" {
		c.Routing.ComplexModel = "deepseek-r1-distill-qwen-32b"
	}
	if c.Routing.FallbackModel == "" {
		c.Routing.FallbackModel = "llama-3.1-8b-instant"
	}
	if len(c.Models) == 0 {
		// The historical deployment capped the 32b models at 4096 tokens and
		// everything else, the 70b ids included, at 2048.
		c.Models = []ModelInfo{
			{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B", MaxTokens: 2048},
			{ID: "qwen-qwq-32b", Name: "Qwen QWQ 32B", MaxTokens: 4096, Large: true},
			{ID: "deepseek-r1-distill-qwen-32b", Name: "Deepseek R1 32B", MaxTokens: 4096, Large: true},
			{ID: "deepseek-r1-distill-llama-70b", Name: "Deepseek R1 70B", MaxTokens: 2048, Large: true},
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", MaxTokens: 2048, Large: true},
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Routing.SimpleModel != "" && !c.KnownModel(c.Routing.SimpleModel) {
		errs = append(errs, fmt.Sprintf("routing.simple_model %q is not in the model catalog", c.Routing.SimpleModel))
	}
	if c.Routing.ComplexModel != "" && !c.KnownModel(c.Routing.ComplexModel) {
		errs = append(errs, fmt.Sprintf("routing.complex_model %q is not in the model catalog", c.Routing.ComplexModel))
	}
	if c.Routing.FallbackModel != "" && !c.KnownModel(c.Routing.FallbackModel) {
		errs = append(errs, fmt.Sprintf("routing.fallback_model %q is not in the model catalog", c.Routing.FallbackModel))
	}
	for i, m := range c.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("models[%d].id is required", i))
		}
		if m.MaxTokens <= 0 {
			errs = append(errs, fmt.Sprintf("models[%d].max_tokens must be positive", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
