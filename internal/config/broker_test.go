package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBroker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearBrokerEnv(t *testing.T) {
	for _, name := range []string{
		"SHOWSYNC_MQTT_HOST", "SHOWSYNC_MQTT_PORT",
		"SHOWSYNC_MQTT_USER", "SHOWSYNC_MQTT_USER_FILE",
		"SHOWSYNC_MQTT_PASSWORD", "SHOWSYNC_MQTT_PASSWORD_FILE",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadBrokerExample(t *testing.T) {
	clearBrokerEnv(t)

	b, err := LoadBroker("../../config/broker.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "piexpchair", b.BaseTopic)
	assert.Equal(t, "tcp://localhost:1883", b.URL())
	assert.Equal(t, 30*time.Second, b.Reconnect.MaxDelay)
}

func TestLoadBrokerDefaults(t *testing.T) {
	clearBrokerEnv(t)

	b, err := LoadBroker(writeBroker(t, "host: broker.local\n"))
	require.NoError(t, err)

	assert.Equal(t, 1883, b.Port)
	assert.Equal(t, "showsync", b.BaseTopic)
	assert.Equal(t, "ShowSync", b.ClientIDPrefix)
	assert.Equal(t, time.Second, b.Reconnect.InitialDelay)
}

func TestLoadBrokerEnvOverrides(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("SHOWSYNC_MQTT_HOST", "10.0.0.5")
	t.Setenv("SHOWSYNC_MQTT_PORT", "8883")
	t.Setenv("SHOWSYNC_MQTT_USER", "show")

	secret := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(secret, []byte("  s3cret \n"), 0o600))
	t.Setenv("SHOWSYNC_MQTT_PASSWORD", "ignored")
	t.Setenv("SHOWSYNC_MQTT_PASSWORD_FILE", secret)

	b, err := LoadBroker(writeBroker(t, "host: broker.local\ntls: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "ssl://10.0.0.5:8883", b.URL())
	assert.Equal(t, "show", b.User)
	assert.Equal(t, "s3cret", b.Password, "file should win over env and be trimmed")
}

func TestLoadBrokerBadPortEnv(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("SHOWSYNC_MQTT_PORT", "not-a-port")

	_, err := LoadBroker(writeBroker(t, "host: x\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadBrokerValidation(t *testing.T) {
	clearBrokerEnv(t)

	_, err := LoadBroker(writeBroker(t, "host: x\nbase_topic: 'show/#'\nqos: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_topic")
	assert.Contains(t, err.Error(), "qos")
}

func TestResolveSecret(t *testing.T) {
	const envName = "SHOWSYNC_TEST_SECRET"

	t.Run("env only", func(t *testing.T) {
		t.Setenv(envName, "env-value")
		t.Setenv(envName+"_FILE", "")
		v, err := ResolveSecret(envName)
		require.NoError(t, err)
		assert.Equal(t, "env-value", v)
	})

	t.Run("neither set", func(t *testing.T) {
		t.Setenv(envName, "")
		t.Setenv(envName+"_FILE", "")
		v, err := ResolveSecret(envName)
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(envName+"_FILE", "/nonexistent/path/to/secret")
		_, err := ResolveSecret(envName)
		assert.Error(t, err)
	})
}
