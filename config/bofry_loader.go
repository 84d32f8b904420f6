package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bofryconfig "github.com/Bofry/config"
)

// BofryLoader reads the YAML file and an optional .env file through the
// Bofry configuration service. Environment variables come next, and
// --section-field=value command line arguments override them all.
type BofryLoader struct {
	yamlFile       string
	dotEnvFile     string
	envPrefix      string
	useCommandArgs bool
	args           []string
}

// NewBofryLoader creates a new Bofry configuration loader
func NewBofryLoader() *BofryLoader {
	return &BofryLoader{
		envPrefix: DefaultEnvPrefix,
	}
}

// WithCommandArguments enables parsing command line arguments
func (l *BofryLoader) WithCommandArguments(args []string) *BofryLoader {
	l.useCommandArgs = true
	l.args = args
	return l
}

// WithYAMLFile sets the YAML configuration file path
func (l *BofryLoader) WithYAMLFile(path string) *BofryLoader {
	l.yamlFile = path
	return l
}

// WithDotEnvFile sets the .env file path
func (l *BofryLoader) WithDotEnvFile(path string) *BofryLoader {
	l.dotEnvFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *BofryLoader) WithEnvPrefix(prefix string) *BofryLoader {
	l.envPrefix = prefix
	return l
}

// Load loads configuration from various sources
func (l *BofryLoader) Load(cfg *Config) error {
	*cfg = *DefaultConfig()

	// Bofry/config panics on errors
	var loadErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					loadErr = err
				} else {
					loadErr = fmt.Errorf("configuration loading panic: %v", r)
				}
			}
		}()

		configService := bofryconfig.NewConfigurationService(cfg)

		if l.yamlFile != "" {
			if _, err := os.Stat(l.yamlFile); err == nil {
				configService.LoadYamlFile(l.yamlFile)
			} else if !os.IsNotExist(err) {
				loadErr = fmt.Errorf("failed to check YAML file: %w", err)
				return
			}
		}

		if l.dotEnvFile != "" {
			if _, err := os.Stat(l.dotEnvFile); err == nil {
				configService.LoadDotEnvFile(l.dotEnvFile)
			} else if !os.IsNotExist(err) {
				loadErr = fmt.Errorf("failed to check .env file: %w", err)
				return
			}
		}
	}()

	if loadErr != nil {
		return loadErr
	}

	loader := &SimpleLoader{envPrefix: l.envPrefix, lookup: os.LookupEnv}
	if l.useCommandArgs {
		overrides := l.argOverrides()
		loader.lookup = func(name string) (string, bool) {
			if v, ok := overrides[name]; ok {
				return v, true
			}
			return os.LookupEnv(name)
		}
	}
	if err := loader.loadFromEnv(cfg); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	return cfg.Validate()
}

// argOverrides maps --worker-scope=/app/ to SWCACHE_WORKER_SCOPE. Arguments
// without a value are skipped.
func (l *BofryLoader) argOverrides() map[string]string {
	out := make(map[string]string)
	for _, arg := range l.args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, value, ok := strings.Cut(arg[2:], "=")
		if !ok {
			continue
		}
		out[l.envPrefix+strings.ToUpper(strings.ReplaceAll(name, "-", "_"))] = value
	}
	return out
}

// LoadWithBofry loads configuration using the Bofry-based system, picking
// up a .env file next to the YAML file when present
func LoadWithBofry(yamlFile string, envPrefix string, cfg *Config) error {
	dotEnvFile := ""
	if yamlFile != "" {
		possibleDotEnv := filepath.Join(filepath.Dir(yamlFile), ".env")
		if _, err := os.Stat(possibleDotEnv); err == nil {
			dotEnvFile = possibleDotEnv
		}
	}

	return NewBofryLoader().
		WithYAMLFile(yamlFile).
		WithDotEnvFile(dotEnvFile).
		WithEnvPrefix(envPrefix).
		Load(cfg)
}
