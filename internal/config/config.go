package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Weather API.
	WeatherBaseURL  string
	WeatherEndpoint string
	WeatherCity     string
	WeatherAPIKey   string
	WeatherTimeout  time.Duration

	// Readiness sensor and task retries.
	SensorPokeInterval time.Duration
	SensorTimeout      time.Duration
	TaskRetries        int
	TaskRetryDelay     time.Duration

	// Scheduling.
	ScheduleInterval time.Duration
	RunOnStart       bool
	RunOnce          bool

	// Object storage. Credentials are handed to the S3 client as values and
	// never exported to the process environment.
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	ObjectKeyPrefix   string

	// Optional Kafka publishing.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// Optional sqlite run history.
	RunLedgerPath string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	weatherTimeout, err := parsePositiveDuration("WEATHER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	pokeInterval, err := parsePositiveDuration("SENSOR_POKE_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	sensorTimeout, err := parsePositiveDuration("SENSOR_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	retryDelay, err := parseNonNegativeDuration("TASK_RETRY_DELAY", "2m")
	if err != nil {
		return nil, err
	}
	scheduleInterval, err := parsePositiveDuration("SCHEDULE_INTERVAL", "24h")
	if err != nil {
		return nil, err
	}

	retries, err := parseRetries()
	if err != nil {
		return nil, err
	}

	runOnStart, err := parseBool("RUN_ON_START")
	if err != nil {
		return nil, err
	}
	runOnce, err := parseBool("RUN_ONCE")
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WeatherBaseURL:  sharedcfg.EnvOrDefault("WEATHER_BASE_URL", "https://api.openweathermap.org"),
		WeatherEndpoint: sharedcfg.EnvOrDefault("WEATHER_ENDPOINT", "/data/2.5/weather"),
		WeatherCity:     sharedcfg.EnvOrDefault("WEATHER_CITY", "madison"),
		WeatherAPIKey:   os.Getenv("WEATHER_API_KEY"),
		WeatherTimeout:  weatherTimeout,

		SensorPokeInterval: pokeInterval,
		SensorTimeout:      sensorTimeout,
		TaskRetries:        retries,
		TaskRetryDelay:     retryDelay,

		ScheduleInterval: scheduleInterval,
		RunOnStart:       runOnStart,
		RunOnce:          runOnce,

		S3Bucket:          sharedcfg.EnvOrDefault("S3_BUCKET", "airflow-proj-yog-1"),
		S3Region:          sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		ObjectKeyPrefix:   sharedcfg.EnvOrDefault("OBJECT_KEY_PREFIX", "current_weather_data_madison_"),

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "weather-records"),

		RunLedgerPath: os.Getenv("RUN_LEDGER_PATH"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.WeatherAPIKey == "" {
		return nil, errors.New("WEATHER_API_KEY is required")
	}
	if cfg.WeatherCity == "" {
		return nil, errors.New("WEATHER_CITY is required")
	}
	if cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseNonNegativeDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseRetries() (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault("TASK_RETRIES", "2"))
	if err != nil || n < 0 || n > 100 {
		return 0, errors.New("TASK_RETRIES must be between 0 and 100")
	}
	return n, nil
}

func parseBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}
