package config

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nmoshub/queryd/log"
)

// Constants here hold the built-in defaults the config file overlays
const (
	File             = "config.json"
	DefaultConfigDir = "/etc/nmos-query"

	DefaultName    = "queryd"
	DefaultPriority = 100

	DefaultListenHost = "0.0.0.0"
	DefaultAPIPort    = 8870
	DefaultAPITLSPort = 8871

	DefaultRegistryType = "etcd"
	DefaultEtcdPort     = 4001
	DefaultPostgresPort = 5432
	DefaultSSLMode      = "disable"
	DefaultPollSeconds  = 5
	DefaultReplaySeconds = 900

	DefaultGraceSeconds = 10
	DefaultQueueLength  = 64
)

var (
	errInvalidRegistryType   = errors.New("registry type must be etcd or docstore")
	errInvalidRegistryDriver = errors.New("registry driver must be postgres or sqlite3")
	errDatabaseRequired      = errors.New("registry database must be set for the docstore backend")
)

// Priority is the DNS-SD priority advertised for this instance. The config
// field accepts a JSON number or a digit string; any other value collapses
// to zero rather than failing the load.
type Priority int

// UnmarshalJSON implements json.Unmarshaler
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			*p = 0
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*p = 0
		return nil
	}
	*p = Priority(n)
	return nil
}

// RegistryConfig selects and configures the registry backend the service
// reads from
type RegistryConfig struct {
	// Type is etcd or docstore
	Type     string   `json:"type"`
	Hosts    []string `json:"hosts"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`

	// docstore settings
	Driver              string `json:"driver"`
	Database            string `json:"database"`
	SSLMode             string `json:"sslmode"`
	Bucket              string `json:"bucket"`
	MetaBucket          string `json:"meta_bucket"`
	PollIntervalSeconds int    `json:"poll_interval_s"`
	ReplayWindowSeconds int    `json:"replay_window_s"`
}

// SubscriptionConfig bounds the subscription registry
type SubscriptionConfig struct {
	GraceSeconds int `json:"grace_s"`
	QueueLength  int `json:"queue_len"`
}

// Config holds the service configuration
type Config struct {
	Name       string   `json:"name"`
	Priority   Priority `json:"priority"`
	HTTPSMode  string   `json:"https_mode"`
	EnableMDNS bool     `json:"enable_mdns"`
	ListenHost string   `json:"listen_host"`
	Port       int      `json:"port"`
	TLSPort    int      `json:"tls_port"`
	CertFile   string   `json:"cert_file"`
	KeyFile    string   `json:"key_file"`

	Registry     RegistryConfig     `json:"registry"`
	Subscription SubscriptionConfig `json:"subscription"`
	Logging      log.Config         `json:"logging"`
}
