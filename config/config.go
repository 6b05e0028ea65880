package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/pkg/paths"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// projectConfigNames are searched, in order, in each directory from the start
// directory up to the filesystem root.
var projectConfigNames = []string{
	"claims.yml",
	"claims.yaml",
	filepath.Join(".grove", "claims.yml"),
	"claims.toml",
}

var overrideConfigNames = []string{
	"claims.override.yml",
	"claims.override.yaml",
}

// Load reads and parses a single claims configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := parseFile(data, path)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = path
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault finds and loads the configuration with hierarchical merging:
// 1. Global config (~/.config/grove/claims.yml) - base layer
// 2. Project config (claims.yml) - overrides global
// 3. Local override (claims.override.yml) - overrides all
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFrom(cwd)
}

// LoadFrom loads configuration with hierarchical merging starting from the given directory
func LoadFrom(startDir string) (*Config, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return LoadFromWithLogger(startDir, logger)
}

// LoadFromWithLogger loads configuration with hierarchical merging and logging.
// Unlike a single Load, every layer is optional; with no files present the
// defaults are returned.
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	finalConfig := &Config{}

	// 1. Global config (optional)
	if globalPath := getXDGConfigPath(); globalPath != "" {
		if globalConfig := loadOptionalLayer(globalPath, logger); globalConfig != nil {
			logger.WithField("path", globalPath).Debug("Loaded global configuration")
			finalConfig = mergeConfigs(finalConfig, globalConfig)
		}
	}

	// 2. Project config (optional, but a broken one is an error)
	projectPath, err := FindConfigFile(startDir)
	if err != nil && !errors.Is(err, errors.ErrCodeConfigNotFound) {
		return nil, err
	}
	if projectPath != "" {
		logger.WithField("path", projectPath).Debug("Loading project configuration")
		data, err := os.ReadFile(projectPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read project config").
				WithDetail("path", projectPath)
		}
		projectConfig, err := parseFile(data, projectPath)
		if err != nil {
			return nil, err
		}
		finalConfig = mergeConfigs(finalConfig, projectConfig)
		finalConfig.SourcePath = projectPath

		// 3. Local overrides next to the project file (optional)
		projectDir := filepath.Dir(projectPath)
		if filepath.Base(projectDir) == ".grove" {
			projectDir = filepath.Dir(projectDir)
		}
		for _, name := range overrideConfigNames {
			overridePath := filepath.Join(projectDir, name)
			if overrideConfig := loadOptionalLayer(overridePath, logger); overrideConfig != nil {
				logger.WithField("path", overridePath).Debug("Loaded local override configuration")
				finalConfig = mergeConfigs(finalConfig, overrideConfig)
			}
		}
	}

	if err := finalize(finalConfig); err != nil {
		return nil, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if configData, err := yaml.Marshal(finalConfig); err == nil {
			logger.Debugf("Merged configuration:\n%s", string(configData))
		}
	}

	return finalConfig, nil
}

// LoadFromBytes parses YAML configuration from a byte array
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parseFile(data, "claims.yml")
	if err != nil {
		return nil, err
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies defaults and runs schema and semantic validation.
func finalize(cfg *Config) error {
	cfg.SetDefaults()

	validator, err := NewSchemaValidator()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	return cfg.Validate()
}

// loadOptionalLayer returns nil when the file is absent or unusable.
// A broken optional layer is logged and skipped rather than failing the load.
func loadOptionalLayer(path string, logger *logrus.Logger) *Config {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Failed to read configuration, continuing without it")
		return nil
	}
	cfg, err := parseFile(data, path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Failed to parse configuration, continuing without it")
		return nil
	}
	return cfg
}

// parseFile decodes YAML or TOML (by extension) after env expansion.
func parseFile(data []byte, path string) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration").
				WithDetail("path", path)
		}
		// go-toml has no inline map capture; collect extension tables by hand.
		var raw map[string]interface{}
		if err := toml.Unmarshal(expanded, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration").
				WithDetail("path", path)
		}
		for key, value := range raw {
			if knownKeys[key] {
				continue
			}
			if cfg.Extensions == nil {
				cfg.Extensions = make(map[string]interface{})
			}
			cfg.Extensions[key] = value
		}
		return &cfg, nil
	}

	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration").
			WithDetail("path", path)
	}
	return &cfg, nil
}

// FindConfigFile searches for a claims project configuration file from
// startDir up to the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to resolve start directory")
	}
	for {
		for _, name := range projectConfigNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// getXDGConfigPath returns the global claims config path, preferring YAML.
func getXDGConfigPath() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	tomlPath := filepath.Join(dir, "claims.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		if _, err := os.Stat(filepath.Join(dir, "claims.yml")); os.IsNotExist(err) {
			return tomlPath
		}
	}
	return filepath.Join(dir, "claims.yml")
}

// GlobalConfigPath is the location of the user-wide configuration layer.
func GlobalConfigPath() string {
	return getXDGConfigPath()
}
