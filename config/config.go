// Package config handles the loading, validation and defaulting of the
// service configuration file
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nmoshub/queryd/log"
)

// Default returns the built-in configuration the file overlays
func Default() Config {
	return Config{
		Name:       DefaultName,
		Priority:   DefaultPriority,
		HTTPSMode:  "disabled",
		EnableMDNS: true,
		ListenHost: DefaultListenHost,
		Port:       DefaultAPIPort,
		TLSPort:    DefaultAPITLSPort,
		Registry: RegistryConfig{
			Type: DefaultRegistryType,
		},
		Subscription: SubscriptionConfig{
			GraceSeconds: DefaultGraceSeconds,
			QueueLength:  DefaultQueueLength,
		},
		Logging: log.GenDefaultSettings(),
	}
}

// GetFilePath returns the desired config file or the default config file
// name and whether it was loaded from a default location rather than
// explicitly specified
func GetFilePath(configFile string) (configPath string, isImplicitDefaultPath bool) {
	if configFile != "" {
		return configFile, false
	}
	return filepath.Join(DefaultConfigDir, File), true
}

// LoadConfig loads the path (or the default location when empty) over the
// built-in defaults. A missing file at the default location is not an
// error; the service runs on defaults the way it always has.
func (c *Config) LoadConfig(configPath string) error {
	*c = Default()
	path, wasDefault := GetFilePath(configPath)
	if err := c.ReadConfigFromFile(path); err != nil {
		if !wasDefault || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error reading config %w", err)
		}
		log.Warnf(log.ConfigMgr, "Config file %s not found, using defaults", path)
	}
	return c.CheckConfig()
}

// ReadConfigFromFile overlays the configuration from the given file
func (c *Config) ReadConfigFromFile(configPath string) error {
	confFile, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer confFile.Close()
	return json.NewDecoder(confFile).Decode(c)
}

// CheckConfig repairs what it can, warning about each fix, and errors on
// settings nothing sensible can be substituted for
func (c *Config) CheckConfig() error {
	if c.Name == "" {
		c.Name = DefaultName
	}
	switch c.HTTPSMode {
	case "", "disabled":
		c.HTTPSMode = "disabled"
	case "enabled", "mixed":
		if c.CertFile == "" || c.KeyFile == "" {
			log.Warnf(log.ConfigMgr,
				"https_mode %q requires cert_file and key_file, falling back to disabled",
				c.HTTPSMode)
			c.HTTPSMode = "disabled"
		}
	default:
		log.Warnf(log.ConfigMgr, "Unknown https_mode %q, falling back to disabled", c.HTTPSMode)
		c.HTTPSMode = "disabled"
	}
	if c.ListenHost == "" {
		c.ListenHost = DefaultListenHost
	}
	if c.Port == 0 {
		c.Port = DefaultAPIPort
	}
	if c.TLSPort == 0 {
		c.TLSPort = DefaultAPITLSPort
	}
	if err := c.checkRegistry(); err != nil {
		return err
	}
	if c.Subscription.GraceSeconds <= 0 {
		c.Subscription.GraceSeconds = DefaultGraceSeconds
	}
	if c.Subscription.QueueLength <= 0 {
		c.Subscription.QueueLength = DefaultQueueLength
	}
	if c.Logging.Enabled == nil {
		c.Logging = log.GenDefaultSettings()
	}
	return nil
}

func (c *Config) checkRegistry() error {
	r := &c.Registry
	if r.Type == "" {
		r.Type = DefaultRegistryType
	}
	switch r.Type {
	case "etcd":
		if len(r.Hosts) == 0 {
			r.Hosts = []string{"localhost"}
		}
		if r.Port == 0 {
			r.Port = DefaultEtcdPort
		}
	case "docstore":
		if r.Driver == "" {
			r.Driver = "sqlite3"
		}
		switch r.Driver {
		case "postgres":
			if len(r.Hosts) == 0 {
				r.Hosts = []string{"localhost"}
			}
			if r.Port == 0 {
				r.Port = DefaultPostgresPort
			}
			if r.SSLMode == "" {
				r.SSLMode = DefaultSSLMode
			}
		case "sqlite3":
		default:
			return fmt.Errorf("%w, have %q", errInvalidRegistryDriver, r.Driver)
		}
		if r.Database == "" {
			return errDatabaseRequired
		}
	default:
		return fmt.Errorf("%w, have %q", errInvalidRegistryType, r.Type)
	}
	if r.PollIntervalSeconds <= 0 {
		r.PollIntervalSeconds = DefaultPollSeconds
	}
	if r.ReplayWindowSeconds <= 0 {
		r.ReplayWindowSeconds = DefaultReplaySeconds
	}
	return nil
}
