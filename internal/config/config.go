// Package config implements GhostAuth's layered configuration (§ Ambient
// Stack): config file > defaults, via viper, following the teacher's
// GetConfigPath/GetDefaults pattern with the TUI/keybinding surface
// dropped and the sync/vault-directory fields this spec needs added in
// its place. The only environment variable read is GHOSTAUTH_CONFIG, which
// selects the config file path; config values are not read from the
// environment. The --vault-dir flag is applied on top by cmd/ghostauth.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is GhostAuth's non-secret persistent configuration. All secret
// material lives in the Vault, the Secure Key Store, or the auth blobs;
// nothing here is sensitive.
type Config struct {
	VaultDir      string `mapstructure:"vault_dir" yaml:"vault_dir"`
	DeviceID      string `mapstructure:"device_id" yaml:"device_id,omitempty"`
	SyncAdvertise bool   `mapstructure:"sync_advertise" yaml:"sync_advertise"`

	// LoadErrors is not read from or written to YAML; loading reports
	// problems through ValidationResult, not through this field.
	LoadErrors []string `mapstructure:"-" yaml:"-"`
}

// ValidationResult reports the outcome of checking configuration correctness.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError is a fatal configuration problem with its source field.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationWarning is a non-fatal configuration concern.
type ValidationWarning struct {
	Field   string
	Message string
}

// GetDefaults returns the default configuration.
func GetDefaults() *Config {
	return &Config{
		VaultDir:      "",
		DeviceID:      "",
		SyncAdvertise: true,
		LoadErrors:    []string{},
	}
}

// GetConfigPath returns the OS-appropriate config file path, honoring
// the GHOSTAUTH_CONFIG environment variable override for testing.
func GetConfigPath() (string, error) {
	if envPath := os.Getenv("GHOSTAUTH_CONFIG"); envPath != "" {
		return envPath, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine config directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".ghost-auth")
	} else {
		configDir = filepath.Join(configDir, "ghost-auth")
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.yml"), nil
}

// DefaultVaultDir returns the directory GhostAuth stores its vault and
// auth blobs in, alongside the config file, unless overridden.
func DefaultVaultDir() (string, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(configPath), nil
}

func shouldLogConfig() bool {
	return os.Getenv("GHOSTAUTH_TEST") == ""
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(configPath string) (*Config, *ValidationResult) {
	if shouldLogConfig() {
		fmt.Fprintf(os.Stderr, "[config] loading from: %s\n", configPath)
	}

	fileInfo, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return GetDefaults(), &ValidationResult{Valid: true}
	}
	if err != nil {
		return GetDefaults(), &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "config_file", Message: fmt.Sprintf("cannot access config file: %v", err)}},
		}
	}

	const maxFileSize = 100 * 1024
	if fileInfo.Size() > maxFileSize {
		return GetDefaults(), &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "config_file", Message: fmt.Sprintf("config file too large (size: %d KB, max: 100 KB)", fileInfo.Size()/1024)}},
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	defaults := GetDefaults()
	v.SetDefault("vault_dir", defaults.VaultDir)
	v.SetDefault("device_id", defaults.DeviceID)
	v.SetDefault("sync_advertise", defaults.SyncAdvertise)

	if err := v.ReadInConfig(); err != nil {
		return GetDefaults(), &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "config_file", Message: fmt.Sprintf("failed to parse YAML: %v", err)}},
		}
	}

	warnings := detectUnknownFields(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return GetDefaults(), &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "config_file", Message: fmt.Sprintf("failed to unmarshal config: %v", err)}},
		}
	}

	result := cfg.Validate()
	result.Warnings = append(result.Warnings, warnings...)
	if !result.Valid {
		return GetDefaults(), result
	}
	return &cfg, result
}

// Load loads configuration from the default config path.
func Load() (*Config, *ValidationResult) {
	configPath, err := GetConfigPath()
	if err != nil {
		return GetDefaults(), &ValidationResult{
			Valid:    true,
			Warnings: []ValidationWarning{{Field: "config_path", Message: fmt.Sprintf("cannot determine config path: %v", err)}},
		}
	}
	return LoadFromPath(configPath)
}

var knownFields = map[string]bool{
	"vault_dir":      true,
	"device_id":      true,
	"sync_advertise": true,
}

func detectUnknownFields(v *viper.Viper) []ValidationWarning {
	var warnings []ValidationWarning
	for _, key := range v.AllKeys() {
		if !knownFields[key] {
			warnings = append(warnings, ValidationWarning{
				Field:   key,
				Message: fmt.Sprintf("unknown field '%s' (will be ignored)", key),
			})
		}
	}
	return warnings
}

// Validate validates the configuration and returns a validation result.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true, Errors: []ValidationError{}, Warnings: []ValidationWarning{}}
	c.validateVaultDir(result)
	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result
}

func (c *Config) validateVaultDir(result *ValidationResult) {
	if c.VaultDir == "" {
		return
	}
	if containsNullByte(c.VaultDir) {
		result.Errors = append(result.Errors, ValidationError{Field: "vault_dir", Message: "path contains null byte"})
		return
	}

	expanded := os.ExpandEnv(c.VaultDir)
	if len(expanded) > 0 && expanded[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}

	if filepath.IsAbs(expanded) {
		if _, err := os.Stat(filepath.Dir(expanded)); err != nil {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "vault_dir",
				Message: fmt.Sprintf("parent directory '%s' does not exist or is not accessible", filepath.Dir(expanded)),
			})
		}
	} else {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "vault_dir",
			Message: fmt.Sprintf("relative path '%s' will be resolved relative to the working directory", c.VaultDir),
		})
	}
}

func containsNullByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}
