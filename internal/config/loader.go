package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Engine backends accepted in Config.Engine.
const (
	EngineLlama  = "llama"
	EngineServer = "server"
)

// Defaults used by ApplyDefaults.
const (
	DefaultAddr                 = ":8080"
	DefaultModelsDir            = "~/.llavad/models"
	DefaultAuxFileName          = "mmproj-model-f16.gguf"
	DefaultTokenBudget          = 512
	DefaultCtxSize              = 2048
	DefaultThreads              = 4
	DefaultMaxCompletionRetries = 1
	DefaultLlamaServerURL       = "http://127.0.0.1:8081"
	DefaultLogLevel             = "info"
)

// ModelEntry overrides or extends the built-in model catalog.
type ModelEntry struct {
	ID          string `json:"id" yaml:"id" toml:"id"`
	DisplayName string `json:"name" yaml:"name" toml:"name"`
	FileName    string `json:"file_name" yaml:"file_name" toml:"file_name"`
	SourceURI   string `json:"url" yaml:"url" toml:"url"`
	MinRAMGiB   int    `json:"min_ram_gib" yaml:"min_ram_gib" toml:"min_ram_gib"`
}

// Config holds runtime parameters for the daemon and CLI.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr                 string       `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir            string       `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	AuxPath              string       `json:"aux_path" yaml:"aux_path" toml:"aux_path"`
	DefaultModel         string       `json:"default_model" yaml:"default_model" toml:"default_model"`
	SystemPrompt         string       `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	TokenBudget          int          `json:"token_budget" yaml:"token_budget" toml:"token_budget"`
	CtxSize              int          `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads              int          `json:"threads" yaml:"threads" toml:"threads"`
	MaxCompletionRetries int          `json:"max_completion_retries" yaml:"max_completion_retries" toml:"max_completion_retries"`
	Engine               string       `json:"engine" yaml:"engine" toml:"engine"`
	LlamaServerURL       string       `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url"`
	DeviceRAMGiB         int          `json:"device_ram_gib" yaml:"device_ram_gib" toml:"device_ram_gib"`
	LogLevel             string       `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins          []string     `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Models               []ModelEntry `json:"models" yaml:"models" toml:"models"`
}

// Defaults returns a Config with every field set to its default.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.AuxPath == "" {
		c.AuxPath = filepath.Join(c.ModelsDir, DefaultAuxFileName)
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.CtxSize <= 0 {
		c.CtxSize = DefaultCtxSize
	}
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	// Negative disables the reload-and-retry.
	if c.MaxCompletionRetries == 0 {
		c.MaxCompletionRetries = DefaultMaxCompletionRetries
	}
	if c.Engine == "" {
		c.Engine = EngineServer
	}
	if c.LlamaServerURL == "" {
		c.LlamaServerURL = DefaultLlamaServerURL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate reports configuration values that cannot be used.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineLlama, EngineServer:
	default:
		return fmt.Errorf("unsupported engine %q (want %s|%s)", c.Engine, EngineLlama, EngineServer)
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.FileName) == "" {
			return fmt.Errorf("models[%d]: id and file_name are required", i)
		}
	}
	return nil
}

// ApplyEnv overrides fields from LLAVAD_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("LLAVAD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("LLAVAD_MODELS_DIR"); v != "" {
		c.ModelsDir = v
	}
	if v := getenv("LLAVAD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("LLAVAD_LLAMA_SERVER_URL"); v != "" {
		c.LlamaServerURL = v
	}
	if v := getenv("LLAVAD_DEVICE_RAM_GIB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DeviceRAMGiB = n
		}
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
