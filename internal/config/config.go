// Package config loads and validates the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the study assistant.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Backend   BackendConfig   `yaml:"backend"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"`
	// Mode is the default answering mode: "auto" | "rag-only" | "general".
	Mode string `yaml:"mode"`
}

// BackendConfig points at the streaming completion backend.
type BackendConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model"`
	// TimeoutSeconds bounds one streamed reply wall-clock.
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

// Timeout returns the reply budget as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type RetrievalConfig struct {
	TopK      int     `yaml:"topK"`
	Threshold float64 `yaml:"threshold"`
	// StrongHitThreshold gates grounding in auto mode.
	StrongHitThreshold float64 `yaml:"strongHitThreshold"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
	// UploadDir is where ingested source files are kept.
	UploadDir string `yaml:"uploadDir"`
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Mode:     "auto",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8788",
			Model:          "study-7b",
			TimeoutSeconds: 30,
		},
		Retrieval: RetrievalConfig{
			TopK:               12,
			Threshold:          0.15,
			StrongHitThreshold: 0.3,
		},
		Storage: StorageConfig{
			DBPath:    "~/.studyassist/study.db",
			UploadDir: "~/.studyassist/uploads",
		},
	}
}

// DefaultConfigDir returns the default config directory (~/.studyassist).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".studyassist"
	}
	return filepath.Join(home, ".studyassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Storage.UploadDir = ExpandPath(cfg.Storage.UploadDir)

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file without
// editing it. The API key in particular should live in the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STUDYASSIST_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("STUDYASSIST_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("STUDYASSIST_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("STUDYASSIST_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.Mode {
	case "auto", "rag-only", "general":
		// valid
	default:
		errs = append(errs, "general.mode must be one of: auto, rag-only, general")
	}
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, "backend.baseUrl is required")
	}
	if cfg.Backend.TimeoutSeconds < 1 {
		errs = append(errs, "backend.timeoutSeconds must be >= 1")
	}
	if cfg.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.topK must be >= 1")
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold > 1 {
		errs = append(errs, "retrieval.threshold must be between 0 and 1")
	}
	if cfg.Retrieval.StrongHitThreshold < 0 || cfg.Retrieval.StrongHitThreshold > 1 {
		errs = append(errs, "retrieval.strongHitThreshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		name, fallback := groups[1], ""
		hasFallback := len(groups) >= 3 && groups[2] != ""
		if hasFallback {
			fallback = groups[2]
		}

		val, exists := os.LookupEnv(name)
		if !exists || val == "" {
			if hasFallback {
				return fallback
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
