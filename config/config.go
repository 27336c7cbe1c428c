// Package config loads the cache deployment configuration from YAML with
// environment overrides. Durations accept human-friendly forms such as
// "1d6h" or "90m".
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from extended duration
// strings (days and weeks included).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RedisConfig configures the Redis store adapter.
type RedisConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	KeyPrefix    string   `yaml:"key_prefix"`
}

// CacheConfig tunes the manager.
type CacheConfig struct {
	DefaultTTL           Duration `yaml:"default_ttl"`
	LockTTL              Duration `yaml:"lock_ttl"`
	WaitBound            Duration `yaml:"wait_bound"`
	PollInterval         Duration `yaml:"poll_interval"`
	CompressionThreshold int      `yaml:"compression_threshold"`
}

// NamespaceConfig overrides cache policy for one namespace.
type NamespaceConfig struct {
	TTL Duration `yaml:"ttl"`
}

// WarmJob describes one scheduled pre-warming query.
type WarmJob struct {
	Name      string         `yaml:"name"`
	Namespace string         `yaml:"namespace"`
	Schedule  string         `yaml:"schedule"`
	Params    map[string]any `yaml:"params"`
}

// Config is the root configuration document.
type Config struct {
	Redis      RedisConfig                `yaml:"redis"`
	Cache      CacheConfig                `yaml:"cache"`
	Namespaces map[string]NamespaceConfig `yaml:"namespaces"`
	Warm       []WarmJob                  `yaml:"warm"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
			KeyPrefix:    "geocached",
		},
		Cache: CacheConfig{
			DefaultTTL:           Duration(time.Hour),
			LockTTL:              Duration(30 * time.Second),
			WaitBound:            Duration(3 * time.Second),
			PollInterval:         Duration(100 * time.Millisecond),
			CompressionThreshold: 1024,
		},
	}
}

// Load reads a YAML config file, applies defaults for unset fields, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides connection settings from the environment, which wins
// over the file in containerized deployments. A malformed value is an
// error, not a silent fallback to the file value.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GEOCACHED_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("GEOCACHED_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("GEOCACHED_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "config: GEOCACHED_REDIS_DB %q is not an integer", v)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("GEOCACHED_KEY_PREFIX"); v != "" {
		c.Redis.KeyPrefix = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Redis.Addr == "" {
		return errors.New("config: redis addr is required")
	}
	if c.Cache.DefaultTTL <= 0 {
		return errors.New("config: default_ttl must be positive")
	}
	if c.Cache.LockTTL <= 0 || c.Cache.PollInterval <= 0 || c.Cache.WaitBound <= 0 {
		return errors.New("config: lock_ttl, wait_bound and poll_interval must be positive")
	}
	for _, job := range c.Warm {
		if job.Namespace == "" || job.Schedule == "" {
			return errors.Newf("config: warm job %q needs a namespace and a schedule", job.Name)
		}
	}
	return nil
}

// TTLFor returns the TTL for a namespace, falling back to the default.
func (c *Config) TTLFor(namespace string) time.Duration {
	if ns, ok := c.Namespaces[namespace]; ok && ns.TTL > 0 {
		return ns.TTL.Std()
	}
	return c.Cache.DefaultTTL.Std()
}
