package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"match-predictor/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	HTTPPort     int
	LogLevel     string
	LogFormat    string
	APIRateLimit int

	StorageDriver string
	DataPath      string
	DatabaseURL   string

	RedisURL     string
	CacheHorizon time.Duration
	CacheSize    int

	ModelPath        string
	PythonPath       string
	ModelVersion     string
	InferenceTimeout time.Duration
	FormLength       int

	FootballAPIURL       string
	FootballAPIKey       string
	FootballRateLimit    int
	FootballSeasonWindow int
	FootballCompetition  string
	RESTTimeout          time.Duration
}

type ConfigFile struct {
	Server struct {
		Port      int    `yaml:"port"`
		LogLevel  string `yaml:"logLevel"`
		LogFormat string `yaml:"logFormat"`
		RateLimit int    `yaml:"rateLimit"`
	} `yaml:"server"`

	Storage struct {
		Driver      string `yaml:"driver"`
		DataPath    string `yaml:"dataPath"`
		DatabaseURL string `yaml:"databaseURL"`
	} `yaml:"storage"`

	Cache struct {
		RedisURL string `yaml:"redisURL"`
		Horizon  string `yaml:"horizon"`
		Size     int    `yaml:"size"`
	} `yaml:"cache"`

	Model struct {
		Path       string `yaml:"path"`
		PythonPath string `yaml:"pythonPath"`
		Version    string `yaml:"version"`
		Timeout    string `yaml:"timeout"`
		FormLength int    `yaml:"formLength"`
	} `yaml:"model"`

	Provider struct {
		BaseURL           string `yaml:"baseURL"`
		APIKey            string `yaml:"apiKey"`
		Timeout           string `yaml:"timeout"`
		RequestsPerMinute int    `yaml:"requestsPerMinute"`
		SeasonWindow      int    `yaml:"seasonWindow"`
		Competition       string `yaml:"competition"`
	} `yaml:"provider"`
}

// Load reads settings from the YAML file named by CONFIG_FILE, with
// environment overrides, or from the environment alone. A .env file is
// applied first when present; it never overrides variables already set.
func Load() (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault(common.EnvDotEnvFile, common.DefaultDotEnvFile)); err != nil {
		return Settings{}, err
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		log.Debug().Str("file", path).Msg("Loaded environment file")
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse durations
	horizon, err := parseDurationOrDefault(config.Cache.Horizon, common.DefaultCacheHorizon)
	if err != nil {
		return Settings{}, fmt.Errorf("cache.horizon: %w", err)
	}
	inferenceTimeout, err := parseDurationOrDefault(config.Model.Timeout, common.DefaultInferenceTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("model.timeout: %w", err)
	}
	restTimeout, err := parseDurationOrDefault(config.Provider.Timeout, common.DefaultRESTTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("provider.timeout: %w", err)
	}

	settings := Settings{
		HTTPPort:     getIntFromEnvOrConfig(common.EnvHTTPPort, config.Server.Port, common.DefaultHTTPPort),
		LogLevel:     getEnvOrDefault(common.EnvLogLevel, orDefault(config.Server.LogLevel, common.DefaultLogLevel)),
		LogFormat:    getEnvOrDefault(common.EnvLogFormat, orDefault(config.Server.LogFormat, common.DefaultLogFormat)),
		APIRateLimit: getIntFromEnvOrConfig(common.EnvAPIRateLimit, config.Server.RateLimit, common.DefaultAPIRateLimit),

		StorageDriver: getEnvOrDefault(common.EnvStorageDriver, orDefault(config.Storage.Driver, common.DefaultStorageDriver)),
		DataPath:      getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		DatabaseURL:   getEnvOrDefault(common.EnvDatabaseURL, config.Storage.DatabaseURL),

		RedisURL:     getEnvOrDefault(common.EnvRedisURL, config.Cache.RedisURL),
		CacheHorizon: getDurationOrDefault(common.EnvCacheHorizon, horizon),
		CacheSize:    getIntFromEnvOrConfig(common.EnvCacheSize, config.Cache.Size, common.DefaultCacheSize),

		ModelPath:        getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		PythonPath:       getEnvOrDefault(common.EnvPythonPath, config.Model.PythonPath),
		ModelVersion:     getEnvOrDefault(common.EnvModelVersion, config.Model.Version),
		InferenceTimeout: getDurationOrDefault(common.EnvInferenceTimeout, inferenceTimeout),
		FormLength:       getIntFromEnvOrConfig(common.EnvFormLength, config.Model.FormLength, common.DefaultFormLength),

		FootballAPIURL:       getEnvOrDefault(common.EnvFootballAPIURL, orDefault(config.Provider.BaseURL, common.DefaultFootballAPIURL)),
		FootballAPIKey:       getEnvOrDefault(common.EnvFootballAPIKey, config.Provider.APIKey),
		FootballRateLimit:    getIntFromEnvOrConfig(common.EnvFootballRateLimit, config.Provider.RequestsPerMinute, common.DefaultFootballRateLimit),
		FootballSeasonWindow: getIntFromEnvOrConfig(common.EnvFootballSeasonWindow, config.Provider.SeasonWindow, common.DefaultSeasonWindow),
		FootballCompetition:  getEnvOrDefault(common.EnvFootballCompetition, orDefault(config.Provider.Competition, common.DefaultCompetition)),
		RESTTimeout:          getDurationOrDefault(common.EnvRESTTimeout, restTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		HTTPPort:     getIntOrDefault(common.EnvHTTPPort, common.DefaultHTTPPort),
		LogLevel:     getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:    getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		APIRateLimit: getIntOrDefault(common.EnvAPIRateLimit, common.DefaultAPIRateLimit),

		StorageDriver: getEnvOrDefault(common.EnvStorageDriver, common.DefaultStorageDriver),
		DataPath:      getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		DatabaseURL:   os.Getenv(common.EnvDatabaseURL),

		RedisURL:     os.Getenv(common.EnvRedisURL), // optional, memory cache when empty
		CacheHorizon: getDurationOrDefault(common.EnvCacheHorizon, common.DefaultCacheHorizon),
		CacheSize:    getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),

		ModelPath:        getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		PythonPath:       os.Getenv(common.EnvPythonPath),
		ModelVersion:     os.Getenv(common.EnvModelVersion),
		InferenceTimeout: getDurationOrDefault(common.EnvInferenceTimeout, common.DefaultInferenceTimeout),
		FormLength:       getIntOrDefault(common.EnvFormLength, common.DefaultFormLength),

		FootballAPIURL:       getEnvOrDefault(common.EnvFootballAPIURL, common.DefaultFootballAPIURL),
		FootballAPIKey:       os.Getenv(common.EnvFootballAPIKey),
		FootballRateLimit:    getIntOrDefault(common.EnvFootballRateLimit, common.DefaultFootballRateLimit),
		FootballSeasonWindow: getIntOrDefault(common.EnvFootballSeasonWindow, common.DefaultSeasonWindow),
		FootballCompetition:  getEnvOrDefault(common.EnvFootballCompetition, common.DefaultCompetition),
		RESTTimeout:          getDurationOrDefault(common.EnvRESTTimeout, common.DefaultRESTTimeout),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ZerologLevel returns the parsed log level; validation guarantees it parses.
func (s *Settings) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseDurationOrDefault(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate server
	if settings.HTTPPort < common.MinHTTPPort || settings.HTTPPort > common.MaxHTTPPort {
		return fmt.Errorf("HTTP port must be between %d and %d, got %d", common.MinHTTPPort, common.MaxHTTPPort, settings.HTTPPort)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}
	if settings.LogFormat != common.LogFormatConsole && settings.LogFormat != common.LogFormatJSON {
		return fmt.Errorf("log format must be %q or %q, got %q", common.LogFormatConsole, common.LogFormatJSON, settings.LogFormat)
	}
	if settings.APIRateLimit <= 0 || settings.APIRateLimit > common.MaxAPIRateLimit {
		return fmt.Errorf("API rate limit must be between 1 and %d, got %d", common.MaxAPIRateLimit, settings.APIRateLimit)
	}

	// Validate storage
	settings.StorageDriver = strings.ToLower(settings.StorageDriver)
	switch settings.StorageDriver {
	case "bolt":
		if settings.DataPath == "" {
			return fmt.Errorf("data path is required for the bolt storage driver")
		}
	case "postgres", "sqlite":
		if settings.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the %s storage driver", settings.StorageDriver)
		}
	default:
		return fmt.Errorf("storage driver must be bolt, postgres or sqlite, got %q", settings.StorageDriver)
	}

	// Validate cache
	if settings.RedisURL != "" && !strings.HasPrefix(settings.RedisURL, "redis://") && !strings.HasPrefix(settings.RedisURL, "rediss://") {
		return fmt.Errorf("redis URL must start with redis:// or rediss://")
	}
	if settings.CacheHorizon < common.MinCacheHorizon || settings.CacheHorizon > common.MaxCacheHorizon {
		return fmt.Errorf("cache horizon must be between %v and %v, got %v", common.MinCacheHorizon, common.MaxCacheHorizon, settings.CacheHorizon)
	}
	if settings.CacheSize <= 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 1 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}

	// Validate model
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.InferenceTimeout < common.MinInferenceTimeout || settings.InferenceTimeout > common.MaxInferenceTimeout {
		return fmt.Errorf("inference timeout must be between %v and %v, got %v", common.MinInferenceTimeout, common.MaxInferenceTimeout, settings.InferenceTimeout)
	}
	if strings.Contains(settings.ModelVersion, "/") {
		return fmt.Errorf("model version must not contain '/', got %q", settings.ModelVersion)
	}
	if settings.FormLength <= 0 || settings.FormLength > common.MaxFormLength {
		return fmt.Errorf("form length must be between 1 and %d, got %d", common.MaxFormLength, settings.FormLength)
	}

	// Validate provider
	if settings.FootballAPIURL == "" {
		return fmt.Errorf("football API URL cannot be empty")
	}
	if settings.FootballRateLimit <= 0 || settings.FootballRateLimit > common.MaxFootballRate {
		return fmt.Errorf("football API rate limit must be between 1 and %d per minute, got %d", common.MaxFootballRate, settings.FootballRateLimit)
	}
	if settings.FootballSeasonWindow <= 0 || settings.FootballSeasonWindow > common.MaxSeasonWindow {
		return fmt.Errorf("season window must be between 1 and %d matches, got %d", common.MaxSeasonWindow, settings.FootballSeasonWindow)
	}
	if settings.FootballCompetition == "" {
		return fmt.Errorf("football competition code cannot be empty")
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}

	return nil
}
