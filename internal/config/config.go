// Package config loads and exposes service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	mu     sync.Mutex
	v      = viper.New()
	path   string
)

// Config represents the service configuration.
type Config struct {
	AppName     string
	RunMode     string
	Host        string
	Port        int
	Logger      *Logger
	Data        *Data
	Storage     *Storage
	Provider    *Provider
	Webhook     *Webhook
	Queue       *Queue
	Maintenance *Maintenance
	Observes    *Observes
	Viper       *viper.Viper
}

// LoadConfig loads the configuration from the given file, or from the
// default search paths when the path is empty.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath("/etc/hdrid")
		v.AddConfigPath("$HOME/.hdrid")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	path = configPath

	cfg := &Config{
		AppName:     getStringOrDefault(v, "app_name", "hdrid"),
		RunMode:     getStringOrDefault(v, "run_mode", "release"),
		Host:        getStringOrDefault(v, "server.host", "0.0.0.0"),
		Port:        getIntOrDefault(v, "server.port", 5000),
		Logger:      getLoggerConfig(v),
		Data:        getDataConfig(v),
		Storage:     getStorageConfig(v),
		Provider:    getProviderConfig(v),
		Webhook:     getWebhookConfig(v),
		Queue:       getQueueConfig(v),
		Maintenance: getMaintenanceConfig(v),
		Observes:    getObservesConfig(v),
		Viper:       v,
	}

	mu.Lock()
	config = cfg
	mu.Unlock()

	return cfg, nil
}

// GetConfig returns the loaded configuration.
func GetConfig() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return config, nil
}

// Reload reloads the configuration from the file.
func Reload() error {
	_, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	return nil
}

// Watch watches the configuration file and invokes the callback after each
// successful reload.
func Watch(onChange func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			return
		}
		if onChange != nil {
			cfg, err := GetConfig()
			if err == nil {
				onChange(cfg)
			}
		}
	})
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
