package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Origin        string              `yaml:"origin"`
	Cache         CacheConfig         `yaml:"cache"`
	Network       NetworkConfig       `yaml:"network"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port      int         `yaml:"port"`
	AdminPort int         `yaml:"admin_port"` // 0 disables the admin API
	HTTPS     HTTPSConfig `yaml:"https"`
}

// HTTPSConfig controls TLS interception of the origin host
type HTTPSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACertFile string `yaml:"ca_cert_file"`
	CAKeyFile  string `yaml:"ca_key_file"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Backend    string `yaml:"backend"` // "memory", "disk" or "sqlite"
	Folder     string `yaml:"folder"`
	SQLitePath string `yaml:"sqlite_path"`
	// Generation overrides the built-in cache generation name
	Generation string `yaml:"generation"`
}

// NetworkConfig contains settings for requests to the origin
type NetworkConfig struct {
	Timeout string `yaml:"timeout"`
}

// NotificationsConfig overrides the notification texts
type NotificationsConfig struct {
	Title       string `yaml:"title"`
	DefaultBody string `yaml:"default_body"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	config := &Config{}
	config.setDefaults()
	return config
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Origin == "" {
		c.Origin = "http://localhost:5000"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendDisk
	}
	if c.Cache.Folder == "" {
		c.Cache.Folder = "./cache"
	}
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = "./offline-cache.db"
	}
	if c.Network.Timeout == "" {
		c.Network.Timeout = "30s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// GetOriginURL parses and returns the origin URL
func (c *Config) GetOriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin host is required")
	}
	return u, nil
}

// GetNetworkTimeout parses and returns the network timeout duration
func (c *Config) GetNetworkTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Network.Timeout)
}

// GetLogLevel parses and returns the log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.Port {
		return fmt.Errorf("admin port must differ from proxy port %d", c.Server.Port)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https ca_cert_file and ca_key_file must be set together")
	}

	if _, err := c.GetOriginURL(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendDisk:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache sqlite_path is required")
		}
	default:
		return fmt.Errorf("cache backend must be 'memory', 'disk' or 'sqlite', got: %s", c.Cache.Backend)
	}

	if c.Network.Timeout == "" {
		return fmt.Errorf("network timeout is required")
	}

	if _, err := c.GetNetworkTimeout(); err != nil {
		return fmt.Errorf("invalid network timeout format: %w", err)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
