package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env      string         `json:"env"`
	Port     int            `json:"port"`
	AppName  string         `json:"app_name"`
	BatchSvc BatchSvcConfig `json:"batch_service"`
	Queue    QueueConfig    `json:"queue"`
	Mapping  MappingConfig  `json:"mapping"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	S3       S3Config       `json:"s3"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// BatchSvcConfig contains the connection settings for the external
// batch-processing service.
type BatchSvcConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

// QueueConfig tunes the import queue and its per-batch pollers.
type QueueConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	StuckAfterSeconds   int `json:"stuck_after_seconds"`
}

// MappingConfig configures the column mapping resolver. Fields is the
// canonical target field set; Synonyms maps normalized source headers to
// canonical fields.
type MappingConfig struct {
	Fields            []string          `json:"fields"`
	Synonyms          map[string]string `json:"synonyms"`
	AutoAcceptDelayMs int               `json:"auto_accept_delay_ms"`
	PreviewRows       int               `json:"preview_rows"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains the message broker connection details used by
// the event publisher.
type RabbitMQConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	VHost        string `json:"vhost"`
	ExchangeName string `json:"exchange_name"`
	QueueName    string `json:"queue_name"`
	RoutingKey   string `json:"routing_key"`
}

// S3Config contains the file staging bucket settings.
type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// MongoDBConfig contains MongoDB connection details for the local import
// history store.
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Queue.PollIntervalSeconds == 0 {
		c.Queue.PollIntervalSeconds = 3
	}
	if c.Queue.StuckAfterSeconds == 0 {
		c.Queue.StuckAfterSeconds = 60
	}
	if c.Mapping.AutoAcceptDelayMs == 0 {
		c.Mapping.AutoAcceptDelayMs = 1500
	}
	if c.Mapping.PreviewRows == 0 {
		c.Mapping.PreviewRows = 5
	}
	if c.BatchSvc.RequestsPerMinute == 0 {
		c.BatchSvc.RequestsPerMinute = 120
	}
	if c.BatchSvc.TimeoutSeconds == 0 {
		c.BatchSvc.TimeoutSeconds = 30
	}
}
