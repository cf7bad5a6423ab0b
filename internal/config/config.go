// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/campaign-lens/backend/internal/llm"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the config file created next to the executable.
const FileName = "campaign-lens.yaml"

// AppConfig is the root configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Security   SecurityConfig   `yaml:"security"`
	LLM        LLMConfig        `yaml:"llm"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bind_address"`
	EnableCORS   bool   `yaml:"enable_cors"`
	AllowOrigins string `yaml:"allow_origins"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
	IdleTimeout  int    `yaml:"idle_timeout_seconds"`
	BodyLimit    string `yaml:"body_limit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	ArchiveDirectory string `yaml:"archive_directory"`
	MaxUploadSize    string `yaml:"max_upload_size"`
}

// ProcessingConfig contains session and response settings
type ProcessingConfig struct {
	MaxSessions            int  `yaml:"max_sessions"`
	SessionTimeoutMinutes  int  `yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int  `yaml:"cleanup_interval_minutes"`
	EnableCompression      bool `yaml:"enable_compression"`
	CompressionLevel       int  `yaml:"compression_level"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `yaml:"allow_file_deletion"`
	AllowedFileTypes  string `yaml:"allowed_file_types"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"` // text or json
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
	DuckDBThreads        int    `yaml:"duckdb_threads"`
	DuckDBMemoryLimit    string `yaml:"duckdb_memory_limit"`
}

// ConfigError reports a configuration the server cannot start with.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			ArchiveDirectory: "./data/archive",
			MaxUploadSize:    "50M",
		},
		Processing: ProcessingConfig{
			MaxSessions:            100,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".pdf,.csv,.txt",
		},
		LLM: LLMConfig{
			Provider:       llm.ProviderGemini,
			Model:          "", // provider default
			Temperature:    0.2,
			TimeoutSeconds: 60,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "512MB",
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating it with defaults
// when missing. A .env file beside it, if any, is loaded before the
// environment overrides are applied.
func LoadConfig(configPath string) (*AppConfig, error) {
	configDir := filepath.Dir(configPath)
	loadDotEnv(configDir)

	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(configDir)

	return config, nil
}

// loadDotEnv loads .env from the config directory and the working directory.
// Existing environment variables win.
func loadDotEnv(configDir string) {
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Save writes the configuration to a YAML file. The API key is never written.
func (c *AppConfig) Save(configPath string) error {
	out := *c
	out.LLM.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Campaign Lens configuration\n# This file is auto-generated on first run. Set API_KEY in the environment or .env.\n\n")
	if err := os.WriteFile(configPath, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.ArchiveDirectory = filepath.Join(dataDir, "archive")
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LLM.TimeoutSeconds = int(d.Seconds())
		} else if n, err := strconv.Atoi(v); err == nil {
			c.LLM.TimeoutSeconds = n
		}
	}

	// Provider-specific keys win over the generic one.
	keyVars := []string{"API_KEY"}
	switch strings.ToLower(c.LLM.Provider) {
	case llm.ProviderOpenAI:
		keyVars = append(keyVars, "OPENAI_API_KEY")
	default:
		keyVars = append(keyVars, "GEMINI_API_KEY")
	}
	for _, name := range keyVars {
		if v := os.Getenv(name); v != "" {
			c.LLM.APIKey = v
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Advanced.LogLevel = v
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.ArchiveDirectory,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate checks the settings the server cannot run without.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "", llm.ProviderGemini, llm.ProviderOpenAI:
	default:
		return &ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &ConfigError{Field: "llm.api_key", Message: "API key is not configured (set API_KEY)"}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if _, err := ParseSize(c.Storage.MaxUploadSize); err != nil {
		return &ConfigError{Field: "storage.max_upload_size", Message: err.Error()}
	}
	return nil
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetArchivePath returns the report archive database file.
func (c *AppConfig) GetArchivePath() string {
	return filepath.Join(c.Storage.ArchiveDirectory, "reports.duckdb")
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// MaxUploadBytes returns the parsed upload limit, or 0 for unlimited.
func (c *AppConfig) MaxUploadBytes() int64 {
	n, _ := ParseSize(c.Storage.MaxUploadSize)
	return n
}

// AllowedExtensions returns the lower-cased upload extensions.
func (c *AppConfig) AllowedExtensions() []string {
	var out []string
	for _, ext := range strings.Split(c.Security.AllowedFileTypes, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// ProviderConfig converts the LLM section for llm.NewProvider.
func (c *AppConfig) ProviderConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Timeout:     c.GenerationTimeout(),
	}
}

// GenerationTimeout bounds one generation request.
func (c *AppConfig) GenerationTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.ArchiveDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ParseSize parses sizes such as "50M", "2G", "512KB" or "1024".
// An empty string means unlimited.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")

	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
