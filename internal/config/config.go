// Package config holds the agent's process settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/eliteGoblin/focusd/rc_agent/internal/binding"
	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Prefix is prepended to every environment variable, e.g. RCAGENT_BROKER.
const Prefix = "RCAGENT"

// Auth modes understood by the MQTT transport.
const (
	AuthPrivateKey       = "private_key"
	AuthUsernamePassword = "username_password"
)

// SecretMQTTPassword is the secret store key holding the broker password.
const SecretMQTTPassword = "mqtt_password"

// Config holds all agent configuration.
type Config struct {
	// Broker
	Broker   string `envconfig:"BROKER"`
	Port     int    `envconfig:"PORT" default:"1883"`
	ClientID string `envconfig:"CLIENT_ID"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	AuthMode string `envconfig:"AUTH_MODE" default:"private_key"`
	QoS      int    `envconfig:"QOS" default:"0"`

	KeepAlive    time.Duration `envconfig:"KEEPALIVE" default:"60s"`
	ReconnectMax time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`

	// Files
	ConfigPath string `envconfig:"CONFIG"`
	DataDir    string `envconfig:"DATA_DIR"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`

	Notify      bool   `envconfig:"NOTIFY" default:"true"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	InterruptGrace    time.Duration `envconfig:"INTERRUPT_GRACE" default:"2s"`
	ProgramGrace      time.Duration `envconfig:"PROGRAM_GRACE" default:"3s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
}

// Load loads configuration from RCAGENT_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Port:              1883,
		AuthMode:          AuthPrivateKey,
		KeepAlive:         60 * time.Second,
		ReconnectMax:      30 * time.Second,
		LogLevel:          "info",
		Notify:            true,
		InterruptGrace:    2 * time.Second,
		ProgramGrace:      3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Merge applies connection settings from the bindings file. Values
// present in the file win over the environment.
func (c *Config) Merge(s binding.Settings) {
	if s.Broker != "" {
		c.Broker = s.Broker
	}
	if s.Port > 0 {
		c.Port = s.Port
	}
	if s.ClientID != "" {
		c.ClientID = s.ClientID
	}
	if s.Username != "" {
		c.Username = s.Username
	}
	if s.Password != "" {
		c.Password = s.Password
	}
	if s.AuthMode != "" {
		c.AuthMode = strings.ToLower(s.AuthMode)
	}
	if s.Notify != nil {
		c.Notify = *s.Notify
	}
}

// UsesPassword reports whether the broker login carries credentials.
func (c *Config) UsesPassword() bool {
	return c.AuthMode == AuthUsernamePassword
}

// EnsureClientID fills in a generated client id when username/password
// mode has none. In private-key mode the client id is the credential and
// is never generated.
func (c *Config) EnsureClientID(gen domain.ClientIDGenerator) bool {
	if c.ClientID != "" || !c.UsesPassword() {
		return false
	}
	c.ClientID = gen.GenerateName()
	return true
}

// BrokerURL returns the paho server URL. A broker that already carries a
// scheme is used as is.
func (c *Config) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	return "tcp://" + net.JoinHostPort(c.Broker, strconv.Itoa(c.Port))
}

// Validate checks the settings needed to connect.
func (c *Config) Validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is not set"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.QoS < 0 || c.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos %d must be 0, 1 or 2", c.QoS))
	}
	switch c.AuthMode {
	case AuthPrivateKey:
		if c.ClientID == "" {
			errs = append(errs, errors.New("private_key mode needs a client id"))
		}
	case AuthUsernamePassword:
		if c.Username == "" || c.Password == "" {
			errs = append(errs, errors.New("username_password mode needs username and password"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.AuthMode))
	}
	return errors.Join(errs...)
}
