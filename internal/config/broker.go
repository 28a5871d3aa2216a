package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker holds the MQTT connection settings shared by every process.
type Broker struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	TLS            bool            `yaml:"tls"`
	BaseTopic      string          `yaml:"base_topic"`
	User           string          `yaml:"user"`
	Password       string          `yaml:"password"`
	ClientIDPrefix string          `yaml:"client_id_prefix"`
	QoS            int             `yaml:"qos"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the bus client's reconnect backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// URL returns the broker URL in the form paho expects.
func (b *Broker) URL() string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// LoadBroker reads broker.yaml and applies environment overrides.
//
// Overrides: SHOWSYNC_MQTT_HOST, SHOWSYNC_MQTT_PORT, SHOWSYNC_MQTT_USER and
// SHOWSYNC_MQTT_PASSWORD. User and password honour the *_FILE convention.
func LoadBroker(path string) (*Broker, error) {
	b := &Broker{
		Host:           "localhost",
		Port:           1883,
		BaseTopic:      "showsync",
		ClientIDPrefix: "ShowSync",
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading broker file: %w", err)
	}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("parsing broker file: %w", err)
	}

	if err := b.applyEnv(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) applyEnv() error {
	if v := os.Getenv("SHOWSYNC_MQTT_HOST"); v != "" {
		b.Host = v
	}
	if v := os.Getenv("SHOWSYNC_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SHOWSYNC_MQTT_PORT=%q is not a number", ErrInvalidConfig, v)
		}
		b.Port = port
	}
	user, err := ResolveSecret("SHOWSYNC_MQTT_USER")
	if err != nil {
		return err
	}
	if user != "" {
		b.User = user
	}
	password, err := ResolveSecret("SHOWSYNC_MQTT_PASSWORD")
	if err != nil {
		return err
	}
	if password != "" {
		b.Password = password
	}
	return nil
}

// Validate checks the broker settings.
func (b *Broker) Validate() error {
	var errs []string
	if b.Host == "" {
		errs = append(errs, "host is required")
	}
	if b.Port < 1 || b.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if b.BaseTopic == "" || strings.ContainsAny(b.BaseTopic, "#+") {
		errs = append(errs, "base_topic must be a non-empty topic without wildcards")
	}
	if b.QoS < 0 || b.QoS > 2 {
		errs = append(errs, "qos must be 0, 1, or 2")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: broker: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ResolveSecret reads a secret value using the *_FILE convention.
// envName+"_FILE" wins over envName; an unreadable file is an error.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}
