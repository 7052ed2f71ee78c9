package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Login strategies.
const (
	LoginPlain     = "plain"
	LoginChallenge = "challenge"
)

// Store drivers.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
	StoreNone   = "none"
)

// Config is the root configuration of the KLW bridge.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// GatewayConfig describes the KLW gateway session.
type GatewayConfig struct {
	// ID names the gateway in MQTT topics and the default store file.
	ID   string `yaml:"id"`
	Host string `yaml:"host"`

	// Port defaults to 4002 for plain login and 4196 for challenge login.
	Port int `yaml:"port"`

	// Login is "plain" (password) or "challenge" (AES challenge-response).
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	Code     string `yaml:"code"`

	// Cipher is the AES primitive applied to challenges: "decrypt" or
	// "encrypt".
	Cipher string `yaml:"cipher"`

	SystemLevel   int    `yaml:"system_level"`
	Language      string `yaml:"language"`
	ClientID      string `yaml:"client_id"`
	ShowStopScene bool   `yaml:"show_stop_scene"`

	// Timings in seconds, except LoginTimeoutMs.
	ConnectTimeout       int  `yaml:"connect_timeout"`
	ReconnectInterval    int  `yaml:"reconnect_interval"`
	MaxReconnectInterval int  `yaml:"max_reconnect_interval"`
	HeartbeatInterval    int  `yaml:"heartbeat_interval"`
	DisableHeartbeat     bool `yaml:"disable_heartbeat"`
	LoginTimeoutMs       int  `yaml:"login_timeout_ms"`
}

// StoreConfig selects where device records persist.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the JSON file for the json driver. Default: data/{gateway id}.json
	Path string `yaml:"path"`
}

// DatabaseConfig contains SQLite settings for the sqlite store driver.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig tunes gateway discovery.
type DiscoveryConfig struct {
	Port           int    `yaml:"port"`
	Broadcast      string `yaml:"broadcast"`
	MulticastGroup string `yaml:"multicast_group"`
	Timeout        int    `yaml:"timeout"`
}

// BridgeConfig tunes the MQTT bridge.
type BridgeConfig struct {
	// HealthInterval is the health publish period in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// Loading order: defaults, then the file, then KLWIOT_SECTION_KEY
// environment variables (e.g. KLWIOT_GATEWAY_HOST, KLWIOT_MQTT_PASSWORD).
// The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFile is Load without validation, for callers that patch the result
// (e.g. from command-line flags) before validating it themselves.
// A missing file yields an error wrapping fs.ErrNotExist.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied, for
// running without a config file.
func FromEnv() *Config {
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:                   "klw",
			Login:                LoginPlain,
			Password:             "1234",
			Cipher:               "decrypt",
			Language:             "en",
			ConnectTimeout:       10,
			ReconnectInterval:    15,
			MaxReconnectInterval: 120,
			HeartbeatInterval:    15,
			LoginTimeoutMs:       2000,
		},
		Store: StoreConfig{
			Driver: StoreJSON,
		},
		Database: DatabaseConfig{
			Path:        "./data/klwbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "klwbridge",
			},
			QoS:         1,
			TopicPrefix: "klwiot",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "klwiot",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Port:           1092,
			Broadcast:      "255.255.255.255",
			MulticastGroup: "230.90.76.1",
			Timeout:        4,
		},
		Bridge: BridgeConfig{
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies KLWIOT_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"KLWIOT_GATEWAY_HOST":      &cfg.Gateway.Host,
		"KLWIOT_GATEWAY_LOGIN":     &cfg.Gateway.Login,
		"KLWIOT_GATEWAY_PASSWORD":  &cfg.Gateway.Password,
		"KLWIOT_GATEWAY_CODE":      &cfg.Gateway.Code,
		"KLWIOT_GATEWAY_CIPHER":    &cfg.Gateway.Cipher,
		"KLWIOT_STORE_DRIVER":      &cfg.Store.Driver,
		"KLWIOT_STORE_PATH":        &cfg.Store.Path,
		"KLWIOT_DATABASE_PATH":     &cfg.Database.Path,
		"KLWIOT_MQTT_HOST":         &cfg.MQTT.Broker.Host,
		"KLWIOT_MQTT_USERNAME":     &cfg.MQTT.Auth.Username,
		"KLWIOT_MQTT_PASSWORD":     &cfg.MQTT.Auth.Password,
		"KLWIOT_INFLUXDB_URL":      &cfg.InfluxDB.URL,
		"KLWIOT_INFLUXDB_TOKEN":    &cfg.InfluxDB.Token,
		"KLWIOT_LOGGING_LEVEL":     &cfg.Logging.Level,
		"KLWIOT_DISCOVERY_ADDRESS": &cfg.Discovery.Broadcast,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"KLWIOT_GATEWAY_PORT":         &cfg.Gateway.Port,
		"KLWIOT_GATEWAY_SYSTEM_LEVEL": &cfg.Gateway.SystemLevel,
		"KLWIOT_MQTT_PORT":            &cfg.MQTT.Broker.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	g := c.Gateway
	if g.Host == "" {
		errs = append(errs, "gateway.host is required")
	}
	if g.Port < 0 || g.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	switch g.Login {
	case LoginPlain:
		if g.Password == "" {
			errs = append(errs, "gateway.password is required for plain login")
		}
	case LoginChallenge:
		if g.Code == "" {
			errs = append(errs, "gateway.code is required for challenge login (set KLWIOT_GATEWAY_CODE)")
		}
	default:
		errs = append(errs, "gateway.login must be plain or challenge")
	}
	if !slices.Contains([]string{"", "decrypt", "encrypt"}, g.Cipher) {
		errs = append(errs, "gateway.cipher must be decrypt or encrypt")
	}
	if g.SystemLevel < 0 {
		errs = append(errs, "gateway.system_level must not be negative")
	}

	switch c.Store.Driver {
	case StoreJSON, StoreNone:
	case StoreSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite store")
		}
	default:
		errs = append(errs, "store.driver must be json, sqlite or none")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Enabled && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StorePath returns the JSON store file, defaulting to data/{gateway id}.json.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	id := c.Gateway.ID
	if id == "" {
		id = c.Gateway.Host
	}
	return filepath.Join("data", id+".json")
}

// Seconds converts a configured number of seconds to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
