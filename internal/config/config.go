package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Message bus implementations.
const (
	BusMQTT   = "mqtt"
	BusMemory = "memory"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid config")

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus", BusMQTT)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("launch.dir", "./config/services")
	v.SetDefault("launch.driver", "docker")
	v.SetDefault("docker.network", "")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.path", "./horme.db")
	v.SetDefault("storage.seed", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "horme:")
	v.SetDefault("failure.policy", "timespan")
	v.SetDefault("failure.time_span", 5*time.Second)
	v.SetDefault("failure.rooms", []string{"bedroom"})
	v.SetDefault("api.addr", ":8080")
}

// BindFlags registers the command line flags overriding config values.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("config", "", "path of the config file")
	flags.String("apartment", "", "apartment the controller manages")
	flags.String("mqtt-host", "", "address of the MQTT broker")
	flags.String("bus", BusMQTT, "message bus implementation (mqtt, memory)")
	flags.String("log-level", "info", "log level")
	flags.String("storage", StorageMemory, "storage backend (memory, sqlite, redis)")
	flags.Bool("seed", false, "seed an empty storage with the default bedroom services")
	flags.String("api-addr", ":8080", "listen address of the operator API")

	bindings := map[string]string{
		"config_file":     "config",
		"apartment":       "apartment",
		"mqtt.host":       "mqtt-host",
		"bus":             "bus",
		"log_level":       "log-level",
		"storage.backend": "storage",
		"storage.seed":    "seed",
		"api.addr":        "api-addr",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// Config exposes the controller configuration, read from defaults, an optional reconf.yml
// file, HORME_ prefixed environment variables and flags, in increasing precedence.
type Config struct {
	v *viper.Viper
}

func NewConfig(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("HORME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("reconf")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.horme")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Debug().Msg("no config file found, using defaults and environment")
	} else {
		log.Debug().Msgf("loaded config file %s", v.ConfigFileUsed())
	}

	c := &Config{v: v}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewTestConfig wraps v without reading files or the environment.
func NewTestConfig(v *viper.Viper) *Config {
	setDefaults(v)
	return &Config{v: v}
}

func (c *Config) validate() error {
	if c.Apartment() == "" {
		return fmt.Errorf("%w: apartment is required", ErrInvalidConfig)
	}
	switch c.Bus() {
	case BusMQTT:
		if c.MQTTHost() == "" {
			return fmt.Errorf("%w: mqtt.host is required for the mqtt bus", ErrInvalidConfig)
		}
	case BusMemory:
	default:
		return fmt.Errorf("%w: unknown bus %q", ErrInvalidConfig, c.Bus())
	}
	switch c.StorageBackend() {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.StorageBackend())
	}
	if q := c.MQTTQoS(); q > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Apartment() string {
	return c.v.GetString("apartment")
}

func (c *Config) Bus() string {
	return c.v.GetString("bus")
}

func (c *Config) MQTTHost() string {
	return c.v.GetString("mqtt.host")
}

func (c *Config) MQTTUser() string {
	return c.v.GetString("mqtt.user")
}

func (c *Config) MQTTPassword() string {
	return c.v.GetString("mqtt.pass")
}

func (c *Config) MQTTQoS() byte {
	return byte(c.v.GetUint("mqtt.qos"))
}

func (c *Config) LogLevel() string {
	return c.v.GetString("log_level")
}

// LaunchDir holds the per service type launch configs.
func (c *Config) LaunchDir() string {
	return c.v.GetString("launch.dir")
}

func (c *Config) LaunchDriver() string {
	return c.v.GetString("launch.driver")
}

func (c *Config) DockerNetwork() string {
	return c.v.GetString("docker.network")
}

func (c *Config) StorageBackend() string {
	return c.v.GetString("storage.backend")
}

func (c *Config) StoragePath() string {
	return c.v.GetString("storage.path")
}

func (c *Config) StorageSeed() bool {
	return c.v.GetBool("storage.seed")
}

func (c *Config) RedisAddr() string {
	return c.v.GetString("redis.addr")
}

func (c *Config) RedisUser() string {
	return c.v.GetString("redis.user")
}

func (c *Config) RedisPassword() string {
	return c.v.GetString("redis.pass")
}

func (c *Config) RedisDB() int {
	return c.v.GetInt("redis.db")
}

func (c *Config) RedisPrefix() string {
	return c.v.GetString("redis.prefix")
}

func (c *Config) FailurePolicy() string {
	return c.v.GetString("failure.policy")
}

func (c *Config) FailureTimeSpan() time.Duration {
	return c.v.GetDuration("failure.time_span")
}

// FailureRooms are the rooms whose failure topics are monitored besides the global one.
func (c *Config) FailureRooms() []string {
	return c.v.GetStringSlice("failure.rooms")
}

func (c *Config) APIAddr() string {
	return c.v.GetString("api.addr")
}
