package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	LocationTopic      string `yaml:"location_topic"`
	NotificationsTopic string `yaml:"notifications_topic"`
	EmergencyTopic     string `yaml:"emergency_topic"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackingConfig struct {
	HTTPAddr       string `yaml:"http_addr"`
	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	NotificationsConsumerGroup string `yaml:"notifications_consumer_group"`
	LocationConsumerGroup      string `yaml:"location_consumer_group"`
	EmergencyConsumerGroup     string `yaml:"emergency_consumer_group"`

	SnapshotTTLSeconds       int `yaml:"snapshot_ttl_seconds"`
	IngestRateLimitPerMinute int `yaml:"ingest_rate_limit_per_minute"`

	ProximityMeters float64   `yaml:"proximity_meters"`
	MilestoneMeters []float64 `yaml:"milestone_meters"`
	DelaySeconds    int       `yaml:"delay_seconds"`

	Directions DirectionsConfig `yaml:"directions"`
	SMS        SMSConfig        `yaml:"sms"`
	SMTP       SMTPConfig       `yaml:"smtp"`
}

// DirectionsConfig: mode is "google" or "fake". The fake mode is used in
// local/dev environments where no API key is available.
type DirectionsConfig struct {
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SMSConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
