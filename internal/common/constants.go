package common

import "time"

// Environment variable keys
const (
	EnvConfigFile = "CONFIG_FILE"
	EnvDotEnvFile = "ENV_FILE"

	EnvHTTPPort     = "HTTP_PORT"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
	EnvAPIRateLimit = "API_RATE_LIMIT"

	EnvStorageDriver = "STORAGE_DRIVER"
	EnvDataPath      = "DATA_PATH"
	EnvDatabaseURL   = "DATABASE_URL"

	EnvRedisURL     = "REDIS_URL"
	EnvCacheHorizon = "CACHE_HORIZON"
	EnvCacheSize    = "CACHE_SIZE"

	EnvModelPath        = "MODEL_PATH"
	EnvPythonPath       = "PYTHON_PATH"
	EnvModelVersion     = "MODEL_VERSION"
	EnvInferenceTimeout = "INFERENCE_TIMEOUT"
	EnvFormLength       = "FORM_LENGTH"

	EnvFootballAPIURL       = "FOOTBALL_API_URL"
	EnvFootballAPIKey       = "FOOTBALL_API_KEY"
	EnvFootballRateLimit    = "FOOTBALL_API_RATE_LIMIT"
	EnvFootballSeasonWindow = "FOOTBALL_SEASON_WINDOW"
	EnvFootballCompetition  = "FOOTBALL_COMPETITION"
	EnvRESTTimeout          = "REST_TIMEOUT"
)

// Configuration defaults
const (
	DefaultDotEnvFile        = ".env"
	DefaultHTTPPort          = 8080
	DefaultLogLevel          = "info"
	DefaultLogFormat         = LogFormatConsole
	DefaultAPIRateLimit      = 100 // requests per second
	DefaultStorageDriver     = "bolt"
	DefaultDataPath          = "data"
	DefaultCacheHorizon      = 72 * time.Hour
	DefaultCacheSize         = 1000
	DefaultModelPath         = "models/predictor.onnx"
	DefaultInferenceTimeout  = 5 * time.Second
	DefaultFormLength        = 5
	DefaultFootballAPIURL    = "https://api.football-data.org/v4"
	DefaultFootballRateLimit = 10 // requests per minute, free tier
	DefaultSeasonWindow      = 38
	DefaultCompetition       = "PL"
	DefaultRESTTimeout       = 10 * time.Second
)

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Validation constants
const (
	MinHTTPPort         = 1024
	MaxHTTPPort         = 65535
	MinCacheHorizon     = time.Hour
	MaxCacheHorizon     = 30 * 24 * time.Hour
	MaxCacheSize        = 1_000_000
	MinInferenceTimeout = 100 * time.Millisecond
	MaxInferenceTimeout = time.Minute
	MaxFormLength       = 20
	MaxSeasonWindow     = 100
	MaxFootballRate     = 1000
	MaxAPIRateLimit     = 10000
)
