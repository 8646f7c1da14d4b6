package config

import (
	"time"

	"github.com/spf13/viper"
)

// Logger configuration.
type Logger struct {
	Level      int    `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	OutputFile string `json:"output_file" yaml:"output_file"`
}

func getLoggerConfig(v *viper.Viper) *Logger {
	return &Logger{
		Level:      getIntOrDefault(v, "logger.level", 4), // logrus.InfoLevel
		Format:     getStringOrDefault(v, "logger.format", "json"),
		Output:     getStringOrDefault(v, "logger.output", "stdout"),
		OutputFile: v.GetString("logger.output_file"),
	}
}

// Data holds database configuration.
type Data struct {
	Driver string `json:"driver" yaml:"driver"`
	Source string `json:"source" yaml:"source"`
}

func getDataConfig(v *viper.Viper) *Data {
	return &Data{
		Driver: getStringOrDefault(v, "data.database.driver", "sqlite3"),
		Source: getStringOrDefault(v, "data.database.source", "file:hdrid.db?cache=shared&_fk=1"),
	}
}

// Storage holds object storage configuration.
type Storage struct {
	Provider string `json:"provider" yaml:"provider"`
	ID       string `json:"id" yaml:"id"`
	Secret   string `json:"secret" yaml:"secret"`
	Region   string `json:"region" yaml:"region"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

func getStorageConfig(v *viper.Viper) *Storage {
	return &Storage{
		Provider: getStringOrDefault(v, "storage.provider", "filesystem"),
		ID:       v.GetString("storage.id"),
		Secret:   v.GetString("storage.secret"),
		Region:   v.GetString("storage.region"),
		Bucket:   getStringOrDefault(v, "storage.bucket", "./uploads"),
		Endpoint: v.GetString("storage.endpoint"),
	}
}

// Provider holds compute provider configuration.
type Provider struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	EndpointID string        `json:"endpoint_id" yaml:"endpoint_id"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	WebhookURL string        `json:"webhook_url" yaml:"webhook_url"`

	// Simulator pacing, used when no real provider is configured.
	SimQueueFor    time.Duration `json:"sim_queue_for" yaml:"sim_queue_for"`
	SimRunningFor  time.Duration `json:"sim_running_for" yaml:"sim_running_for"`
	LocalStepDelay time.Duration `json:"local_step_delay" yaml:"local_step_delay"`
}

func getProviderConfig(v *viper.Viper) *Provider {
	return &Provider{
		APIKey:         v.GetString("provider.api_key"),
		EndpointID:     v.GetString("provider.endpoint_id"),
		BaseURL:        getStringOrDefault(v, "provider.base_url", "https://api.runpod.ai/v2"),
		Timeout:        getDurationOrDefault(v, "provider.timeout", 30*time.Second),
		WebhookURL:     v.GetString("provider.webhook_url"),
		SimQueueFor:    getDurationOrDefault(v, "provider.sim_queue_for", 10*time.Second),
		SimRunningFor:  getDurationOrDefault(v, "provider.sim_running_for", 30*time.Second),
		LocalStepDelay: getDurationOrDefault(v, "provider.local_step_delay", 2*time.Second),
	}
}

// Available reports whether a real provider is configured.
func (p *Provider) Available() bool {
	return p != nil && p.APIKey != "" && p.EndpointID != ""
}

// Webhook holds inbound webhook configuration.
type Webhook struct {
	Secret string `json:"secret" yaml:"secret"`
}

func getWebhookConfig(v *viper.Viper) *Webhook {
	return &Webhook{
		Secret: getStringOrDefault(v, "webhook.secret", "default-secret"),
	}
}

// Queue holds task queue configuration.
type Queue struct {
	Broker            string        `json:"broker" yaml:"broker"` // memory | redis
	RedisAddr         string        `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword     string        `json:"redis_password" yaml:"redis_password"`
	RedisDB           int           `json:"redis_db" yaml:"redis_db"`
	ProcessingWorkers int           `json:"processing_workers" yaml:"processing_workers"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay" yaml:"retry_delay"`
	VisibilityTimeout time.Duration `json:"visibility_timeout" yaml:"visibility_timeout"`
	TaskTimeout       time.Duration `json:"task_timeout" yaml:"task_timeout"`
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
	ProcessTimeout    time.Duration `json:"process_timeout" yaml:"process_timeout"`
}

func getQueueConfig(v *viper.Viper) *Queue {
	return &Queue{
		Broker:            getStringOrDefault(v, "queue.broker", "memory"),
		RedisAddr:         getStringOrDefault(v, "queue.redis_addr", "localhost:6379"),
		RedisPassword:     v.GetString("queue.redis_password"),
		RedisDB:           getIntOrDefault(v, "queue.redis_db", 0),
		ProcessingWorkers: getIntOrDefault(v, "queue.processing_workers", 4),
		MaxRetries:        getIntOrDefault(v, "queue.max_retries", 3),
		RetryDelay:        getDurationOrDefault(v, "queue.retry_delay", time.Minute),
		VisibilityTimeout: getDurationOrDefault(v, "queue.visibility_timeout", 15*time.Minute),
		TaskTimeout:       getDurationOrDefault(v, "queue.task_timeout", 15*time.Minute),
		PollInterval:      getDurationOrDefault(v, "queue.poll_interval", 5*time.Second),
		ProcessTimeout:    getDurationOrDefault(v, "queue.process_timeout", 10*time.Minute),
	}
}

// Maintenance holds periodic maintenance configuration.
type Maintenance struct {
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	RetentionAge      time.Duration `json:"retention_age" yaml:"retention_age"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
}

func getMaintenanceConfig(v *viper.Viper) *Maintenance {
	return &Maintenance{
		CleanupInterval:   getDurationOrDefault(v, "maintenance.cleanup_interval", 24*time.Hour),
		RetentionAge:      getDurationOrDefault(v, "maintenance.retention_age", 30*24*time.Hour),
		HeartbeatInterval: getDurationOrDefault(v, "maintenance.heartbeat_interval", 5*time.Minute),
	}
}

// Observes holds observability configuration.
type Observes struct {
	SentryDSN string `json:"sentry_dsn" yaml:"sentry_dsn"`
}

func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		SentryDSN: v.GetString("observes.sentry.dsn"),
	}
}
