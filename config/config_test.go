package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityUnmarshal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Priority
	}{
		{`100`, 100},
		{`"100"`, 100},
		{`"007"`, 7},
		{`0`, 0},
		{`-5`, 0},
		{`"-5"`, 0},
		{`"1.5"`, 0},
		{`1.5`, 0},
		{`true`, 0},
		{`"fluffy"`, 0},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tc := range cases {
		var p Priority
		require.NoError(t, json.Unmarshal([]byte(tc.in), &p), "input %s", tc.in)
		assert.Equal(t, tc.want, p, "input %s", tc.in)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	c := Default()
	assert.Equal(t, "queryd", c.Name)
	assert.Equal(t, Priority(100), c.Priority)
	assert.Equal(t, "disabled", c.HTTPSMode)
	assert.True(t, c.EnableMDNS)
	assert.Equal(t, 8870, c.Port)
	assert.Equal(t, 8871, c.TLSPort)
	assert.Equal(t, "etcd", c.Registry.Type)
	assert.NotNil(t, c.Logging.Enabled)
}

func TestGetFilePath(t *testing.T) {
	t.Parallel()
	path, wasDefault := GetFilePath("/tmp/override.json")
	assert.Equal(t, "/tmp/override.json", path)
	assert.False(t, wasDefault)

	path, wasDefault = GetFilePath("")
	assert.Equal(t, filepath.Join(DefaultConfigDir, File), path)
	assert.True(t, wasDefault)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), File)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"priority": "42",
		"port": 9000,
		"registry": {
			"hosts": ["reg1.example.com", "reg2.example.com"],
			"port": 2379
		},
		"subscription": {"grace_s": 30}
	}`)

	var c Config
	require.NoError(t, c.LoadConfig(path))
	assert.Equal(t, Priority(42), c.Priority)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, []string{"reg1.example.com", "reg2.example.com"}, c.Registry.Hosts)
	assert.Equal(t, 2379, c.Registry.Port)
	assert.Equal(t, 30, c.Subscription.GraceSeconds)

	// everything the file does not mention keeps its default
	assert.Equal(t, "queryd", c.Name)
	assert.True(t, c.EnableMDNS)
	assert.Equal(t, 64, c.Subscription.QueueLength)
	assert.Equal(t, "etcd", c.Registry.Type)
}

func TestLoadConfigExplicitMDNSOff(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"enable_mdns": false}`)
	var c Config
	require.NoError(t, c.LoadConfig(path))
	assert.False(t, c.EnableMDNS)
}

func TestLoadConfigMissingExplicitPath(t *testing.T) {
	t.Parallel()
	var c Config
	assert.Error(t, c.LoadConfig(filepath.Join(t.TempDir(), "nope.json")))
}

func TestLoadConfigMalformed(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"priority": `)
	var c Config
	assert.Error(t, c.LoadConfig(path))
}

func TestCheckConfigHTTPSModes(t *testing.T) {
	t.Parallel()
	c := Default()
	c.HTTPSMode = "mixed"
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, "disabled", c.HTTPSMode, "mixed without a key pair falls back")

	c = Default()
	c.HTTPSMode = "enabled"
	c.CertFile = "/etc/nmos-query/cert.pem"
	c.KeyFile = "/etc/nmos-query/key.pem"
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, "enabled", c.HTTPSMode)

	c = Default()
	c.HTTPSMode = "sometimes"
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, "disabled", c.HTTPSMode)
}

func TestCheckConfigRegistry(t *testing.T) {
	t.Parallel()
	c := Default()
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, []string{"localhost"}, c.Registry.Hosts)
	assert.Equal(t, DefaultEtcdPort, c.Registry.Port)
	assert.Equal(t, DefaultPollSeconds, c.Registry.PollIntervalSeconds)
	assert.Equal(t, DefaultReplaySeconds, c.Registry.ReplayWindowSeconds)

	c = Default()
	c.Registry.Type = "docstore"
	err := c.CheckConfig()
	assert.ErrorIs(t, err, errDatabaseRequired)

	c = Default()
	c.Registry.Type = "docstore"
	c.Registry.Database = "/var/lib/nmos-query/registry.db"
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, "sqlite3", c.Registry.Driver)

	c = Default()
	c.Registry.Type = "docstore"
	c.Registry.Driver = "postgres"
	c.Registry.Database = "registry"
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, DefaultPostgresPort, c.Registry.Port)
	assert.Equal(t, DefaultSSLMode, c.Registry.SSLMode)

	c = Default()
	c.Registry.Type = "docstore"
	c.Registry.Driver = "oracle"
	c.Registry.Database = "registry"
	assert.ErrorIs(t, c.CheckConfig(), errInvalidRegistryDriver)

	c = Default()
	c.Registry.Type = "couchbase"
	assert.ErrorIs(t, c.CheckConfig(), errInvalidRegistryType)
}

func TestCheckConfigZeroValues(t *testing.T) {
	t.Parallel()
	var c Config
	require.NoError(t, c.CheckConfig())
	assert.Equal(t, "queryd", c.Name)
	assert.Equal(t, "0.0.0.0", c.ListenHost)
	assert.Equal(t, DefaultAPIPort, c.Port)
	assert.Equal(t, DefaultGraceSeconds, c.Subscription.GraceSeconds)
	assert.Equal(t, DefaultQueueLength, c.Subscription.QueueLength)
	assert.NotNil(t, c.Logging.Enabled)
}
