package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/geocached/geocached/codec"
)

const (
	// DefaultTTL is used when GetOrCompute is called with a non-positive TTL.
	DefaultTTL = time.Hour
	// DefaultLockTTL bounds how long a crashed worker can wedge a key.
	// It must exceed the worst-case compute duration by a safety margin or
	// legitimate computations will be duplicated.
	DefaultLockTTL = 30 * time.Second
	// DefaultWaitBound is how long a contending caller waits for another
	// caller's result before falling back to computing it itself.
	DefaultWaitBound = 3 * time.Second
	// DefaultPollInterval is the store re-check interval during the wait.
	DefaultPollInterval = 100 * time.Millisecond
)

type config struct {
	defaultTTL   time.Duration
	lockTTL      time.Duration
	waitBound    time.Duration
	pollInterval time.Duration
	clock        Clock
	log          *zap.Logger
	codec        *codec.Codec
	registerer   prometheus.Registerer
}

// Option configures a Manager.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		lockTTL:      DefaultLockTTL,
		waitBound:    DefaultWaitBound,
		pollInterval: DefaultPollInterval,
		clock:        systemClock{},
		log:          zap.NewNop(),
		codec:        codec.New(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDefaultTTL sets the TTL used when callers pass a non-positive TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithLockTTL sets the computation lock TTL.
func WithLockTTL(d time.Duration) Option {
	return func(c *config) { c.lockTTL = d }
}

// WithWaitBound sets the maximum time a contending caller waits for another
// caller's result before computing it itself.
func WithWaitBound(d time.Duration) Option {
	return func(c *config) { c.waitBound = d }
}

// WithPollInterval sets the store re-check interval during the contention
// wait.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollInterval = d }
}

// WithClock injects a Clock. Tests use FakeClock for deterministic waits.
func WithClock(clk Clock) Option {
	return func(c *config) { c.clock = clk }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithCodec overrides the payload codec, e.g. to tune the compression
// threshold.
func WithCodec(cd *codec.Codec) Option {
	return func(c *config) { c.codec = cd }
}

// WithRegisterer registers the manager's Prometheus collectors on reg.
// When unset, metrics are registered on a private registry so constructing
// multiple managers never causes duplicate-registration panics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}
