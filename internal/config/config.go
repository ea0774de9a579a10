package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultLogLevel        = "info"
	DefaultDBFileName      = ".tulip.db"
	DefaultDigestAlgorithm = "sha256"

	DefaultIngestMaxRetries      = 4
	DefaultIngestRetryIntervalMS = 500
	DefaultVerifySampleRate      = 0.1
	DefaultVerifyBatchSize       = 500

	configDirEnvKey = "TULIP_CONFIG_DIR"
	dbPathEnvKey    = "TULIP_DB_PATH"

	configFileName = ".tulip.toml"
)

// BackendConfig is the connection parameters for one storage backend.
type BackendConfig struct {
	// Type is "local" or "s3".
	Type string `toml:"type"`
	// Root is the local filesystem root (local backends).
	Root string `toml:"root"`
	// Bucket, Region, Endpoint, Prefix configure s3 backends. Endpoint
	// overrides the AWS endpoint for MinIO-class stores.
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	Prefix   string `toml:"prefix"`
	// Encoding is the at-rest encoding: "" / "identity" or "zstd".
	Encoding string `toml:"encoding"`
}

// IngestConfig tunes the ingestion engine.
type IngestConfig struct {
	MaxRetries      int    `toml:"max_retries"`
	RetryIntervalMS int    `toml:"retry_interval_ms"`
	StagingDir      string `toml:"staging_dir"`
}

// VerifyConfig tunes the consistency verifier.
type VerifyConfig struct {
	SampleRate float64 `toml:"sample_rate"`
	BatchSize  int     `toml:"batch_size"`
}

// Config defines runtime configuration for tulip.
type Config struct {
	DBPath          string                   `toml:"db_path"`
	LogLevel        string                   `toml:"log_level"`
	DigestAlgorithm string                   `toml:"digest_algorithm"`
	DefaultBackend  string                   `toml:"default_backend"`
	Ingest          IngestConfig             `toml:"ingest"`
	Verify          VerifyConfig             `toml:"verify"`
	Backends        map[string]BackendConfig `toml:"backends"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		DBPath:          "",
		LogLevel:        DefaultLogLevel,
		DigestAlgorithm: DefaultDigestAlgorithm,
		Ingest: IngestConfig{
			MaxRetries:      DefaultIngestMaxRetries,
			RetryIntervalMS: DefaultIngestRetryIntervalMS,
		},
		Verify: VerifyConfig{
			SampleRate: DefaultVerifySampleRate,
			BatchSize:  DefaultVerifyBatchSize,
		},
		Backends: map[string]BackendConfig{},
	}
}

// Load resolves configuration: defaults, then the global file, then the
// project file in the working directory, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	if err := loadFile(globalPath, &cfg); err != nil {
		return nil, err
	}

	projectPath, err := ProjectPath()
	if err != nil {
		return nil, err
	}
	if projectPath != globalPath {
		if err := loadFile(projectPath, &cfg); err != nil {
			return nil, err
		}
	}

	if dbPath := strings.TrimSpace(os.Getenv(dbPathEnvKey)); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.DBPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend blocks and tuning values.
func (c *Config) Validate() error {
	for id, b := range c.Backends {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("backend id must not be empty")
		}
		switch b.Type {
		case "local":
			if strings.TrimSpace(b.Root) == "" {
				return fmt.Errorf("backend %s: local backend requires root", id)
			}
		case "s3":
			if strings.TrimSpace(b.Bucket) == "" {
				return fmt.Errorf("backend %s: s3 backend requires bucket", id)
			}
		default:
			return fmt.Errorf("backend %s: unknown type %q", id, b.Type)
		}
		switch b.Encoding {
		case "", "identity", "zstd":
		default:
			return fmt.Errorf("backend %s: unknown encoding %q", id, b.Encoding)
		}
	}
	if c.DefaultBackend != "" {
		if _, ok := c.Backends[c.DefaultBackend]; !ok {
			return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
		}
	}
	if c.Verify.SampleRate < 0 || c.Verify.SampleRate > 1 {
		return fmt.Errorf("verify.sample_rate must be in [0, 1]")
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("ingest.max_retries must be >= 0")
	}
	return nil
}

// BackendIDs returns the configured backend ids, sorted.
func (c *Config) BackendIDs() []string {
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

var allowedKeys = []string{
	"db_path",
	"log_level",
	"digest_algorithm",
	"default_backend",
	"ingest.max_retries",
	"ingest.retry_interval_ms",
	"ingest.staging_dir",
	"verify.sample_rate",
	"verify.batch_size",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "digest_algorithm":
		return c.DigestAlgorithm, nil
	case "default_backend":
		return c.DefaultBackend, nil
	case "ingest.max_retries":
		return strconv.Itoa(c.Ingest.MaxRetries), nil
	case "ingest.retry_interval_ms":
		return strconv.Itoa(c.Ingest.RetryIntervalMS), nil
	case "ingest.staging_dir":
		return c.Ingest.StagingDir, nil
	case "verify.sample_rate":
		return strconv.FormatFloat(c.Verify.SampleRate, 'f', -1, 64), nil
	case "verify.batch_size":
		return strconv.Itoa(c.Verify.BatchSize), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	switch key {
	case "ingest.max_retries", "ingest.retry_interval_ms", "verify.batch_size":
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return parsed, nil
	case "verify.sample_rate":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number: %w", key, err)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	child, ok := data[parts[0]]
	if !ok {
		child = make(map[string]any)
		data[parts[0]] = child
	}
	childMap, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("config key %s collides with a non-table value", parts[0])
	}
	return setNestedKey(childMap, parts[1:], value)
}
