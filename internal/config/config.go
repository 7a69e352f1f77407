// Package config provides configuration management for glossa.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Defaults applied when settings.json is absent or incomplete.
const (
	DefaultWorkerPort  = 37901
	DefaultService     = "mock"
	DefaultTargetLang  = "zh-CN"
	DefaultSourceLang  = "auto"
	DefaultOCRBinary   = "tesseract"
	DefaultOCRLanguage = "eng"
	DefaultLLMBaseURL  = "https://api.openai.com/v1"
	DefaultLLMModel    = "gpt-4o"
)

// Config holds all runtime settings.
type Config struct {
	WorkerPort int

	// Translation backend selection and credentials.
	TranslationService string
	TargetLang         string
	SourceLang         string
	MicrosoftAPIKey    string
	MicrosoftRegion    string
	LLMAPIKey          string
	LLMBaseURL         string
	LLMModel           string

	// Embedding provider used for vocabulary retrieval.
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// OCR engine.
	OCRBinary   string
	OCRLanguage string

	// Vocabulary database location. Empty means DBPath().
	VocabDBPath string
}

// settingsFile mirrors the on-disk settings.json shape.
type settingsFile struct {
	WorkerPort         int    `json:"GLOSSA_WORKER_PORT"`
	TranslationService string `json:"GLOSSA_TRANSLATION_SERVICE"`
	TargetLang         string `json:"GLOSSA_TARGET_LANG"`
	SourceLang         string `json:"GLOSSA_SOURCE_LANG"`
	MicrosoftAPIKey    string `json:"GLOSSA_MS_API_KEY"`
	MicrosoftRegion    string `json:"GLOSSA_MS_REGION"`
	LLMAPIKey          string `json:"GLOSSA_LLM_API_KEY"`
	LLMBaseURL         string `json:"GLOSSA_LLM_BASE_URL"`
	LLMModel           string `json:"GLOSSA_LLM_MODEL"`
	EmbeddingAPIKey    string `json:"GLOSSA_EMBEDDING_API_KEY"`
	EmbeddingBaseURL   string `json:"GLOSSA_EMBEDDING_BASE_URL"`
	EmbeddingModel     string `json:"GLOSSA_EMBEDDING_MODEL"`
	OCRBinary          string `json:"GLOSSA_OCR_BINARY"`
	OCRLanguage        string `json:"GLOSSA_OCR_LANGUAGE"`
	VocabDBPath        string `json:"GLOSSA_DB_PATH"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerPort:         DefaultWorkerPort,
		TranslationService: DefaultService,
		TargetLang:         DefaultTargetLang,
		SourceLang:         DefaultSourceLang,
		LLMBaseURL:         DefaultLLMBaseURL,
		LLMModel:           DefaultLLMModel,
		OCRBinary:          DefaultOCRBinary,
		OCRLanguage:        DefaultOCRLanguage,
	}
}

// DataDir returns the glossa data directory (~/.glossa).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".glossa")
}

// DBPath returns the default vocabulary database path.
func DBPath() string {
	return filepath.Join(DataDir(), "vocabulary.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ProvidersPath returns the embedding provider template registry path.
func ProvidersPath() string {
	return filepath.Join(DataDir(), "providers.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// EnsureSettings creates an empty settings file if missing.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("{}\n"), 0o600)
}

// EnsureAll bootstraps the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json and returns the merged configuration.
// A missing or malformed file yields defaults, never an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		return cfg, nil
	}

	var s settingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		return cfg, nil
	}

	if s.WorkerPort > 0 {
		cfg.WorkerPort = s.WorkerPort
	}
	if s.TranslationService != "" {
		cfg.TranslationService = s.TranslationService
	}
	if s.TargetLang != "" {
		cfg.TargetLang = s.TargetLang
	}
	if s.SourceLang != "" {
		cfg.SourceLang = s.SourceLang
	}
	cfg.MicrosoftAPIKey = s.MicrosoftAPIKey
	cfg.MicrosoftRegion = s.MicrosoftRegion
	cfg.LLMAPIKey = s.LLMAPIKey
	if s.LLMBaseURL != "" {
		cfg.LLMBaseURL = s.LLMBaseURL
	}
	if s.LLMModel != "" {
		cfg.LLMModel = s.LLMModel
	}
	cfg.EmbeddingAPIKey = s.EmbeddingAPIKey
	cfg.EmbeddingBaseURL = s.EmbeddingBaseURL
	cfg.EmbeddingModel = s.EmbeddingModel
	if s.OCRBinary != "" {
		cfg.OCRBinary = s.OCRBinary
	}
	if s.OCRLanguage != "" {
		cfg.OCRLanguage = s.OCRLanguage
	}
	cfg.VocabDBPath = s.VocabDBPath

	return cfg, nil
}

// VocabPath returns the configured vocabulary database path, falling back
// to the default location.
func (c *Config) VocabPath() string {
	if c.VocabDBPath != "" {
		return c.VocabDBPath
	}
	return DBPath()
}

var (
	mu     sync.RWMutex
	cached *Config
)

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	if cached != nil {
		defer mu.RUnlock()
		return cached
	}
	mu.RUnlock()
	return Reload()
}

// Reload re-reads settings from disk and replaces the cached configuration.
func Reload() *Config {
	cfg, _ := Load()
	mu.Lock()
	cached = cfg
	mu.Unlock()
	return cfg
}

// GetWorkerPort returns the worker port, honoring the GLOSSA_WORKER_PORT
// environment variable over the settings file.
func GetWorkerPort() int {
	if v := strings.TrimSpace(os.Getenv("GLOSSA_WORKER_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().WorkerPort
}
