// Package config contains all knobs and defaults used to configure features of
// credmesh when running as a standalone server.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	DefaultMaxRPCMessageSizeInBytes = 512 * 1_024 // 512 KB

	// DefaultResolveNodeLimit bounds how many delegation hops deep a
	// resolution may search before abandoning a branch.
	DefaultResolveNodeLimit = 25

	// DefaultMaxConcurrentLookups bounds how many name resolution lookups a
	// single resolution may have in flight at once.
	DefaultMaxConcurrentLookups = 100

	// DefaultResolveDeadline is the maximum wall time one resolution may run
	// before the server aborts it.
	DefaultResolveDeadline = 3 * time.Second

	DefaultLookupCacheEnable = false
	DefaultLookupCacheLimit  = 10_000
	DefaultLookupCacheTTL    = 10 * time.Second

	DefaultLookupRetryEnable   = false
	DefaultLookupRetryMax      = 3
	DefaultLookupRetryInterval = 5 * time.Millisecond
)

type DatastoreMetricsConfig struct {
	// Enabled enables export of the Datastore metrics.
	Enabled bool
}

// DatastoreConfig defines credmesh server configurations for datastore specific settings.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'sqlite', 'postgres')
	Engine   string
	URI      string
	Username string
	Password string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in the idle connection
	// pool.
	MaxIdleConns int

	// ConnMaxIdleTime is the maximum amount of time a connection to the datastore may be idle.
	ConnMaxIdleTime time.Duration

	// ConnMaxLifetime is the maximum amount of time a connection to the datastore may be reused.
	ConnMaxLifetime time.Duration

	// Metrics is configuration for the Datastore metrics.
	Metrics DatastoreMetricsConfig
}

// GRPCConfig defines credmesh server configurations for grpc server specific settings.
type GRPCConfig struct {
	Addr string
	TLS  *TLSConfig
}

// TLSConfig defines configuration specific to Transport Layer Security (TLS) settings.
type TLSConfig struct {
	Enabled  bool
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

// AuthnConfig defines credmesh server configurations for authentication specific settings.
type AuthnConfig struct {

	// Method is the authentication method that should be enforced (e.g. 'none', 'preshared')
	Method                   string
	*AuthnPresharedKeyConfig `mapstructure:"preshared"`
}

// AuthnPresharedKeyConfig defines configurations for the 'preshared' method of authentication.
type AuthnPresharedKeyConfig struct {
	// Keys define the preshared keys to verify authn tokens against.
	Keys []string
}

// LogConfig defines credmesh server configurations for log specific settings. For production we
// recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
	TLS      OTLPTraceTLSConfig
}

type OTLPTraceTLSConfig struct {
	Enabled bool
}

// ProfilerConfig defines server configurations specific to pprof profiling.
type ProfilerConfig struct {
	Enabled bool
	Addr    string
}

// MetricConfig defines configurations for serving custom metrics from credmesh.
type MetricConfig struct {
	Enabled             bool
	Addr                string
	EnableRPCHistograms bool
}

// LookupCacheConfig defines configuration for caching name resolution lookups
// during resolution.
type LookupCacheConfig struct {
	Enabled bool
	Limit   uint32 // (in items)
	TTL     time.Duration
}

// LookupRetryConfig defines configuration for retrying failed name resolution
// lookups before the engine gives a branch up.
type LookupRetryConfig struct {
	Enabled    bool
	MaxRetries uint64
	Interval   time.Duration
}

type Config struct {
	// ResolveNodeLimit indicates how many delegation hops deep a resolution
	// may search before a branch is abandoned.
	ResolveNodeLimit uint32

	// MaxConcurrentLookups defines the maximum number of in-flight name
	// resolution lookups a single resolution may issue.
	MaxConcurrentLookups int

	// ResolveDeadline defines the maximum amount of time the server spends
	// on a single Verify or Collect resolution before aborting it. This is
	// to protect the server from resolutions over pathological delegation
	// graphs. Zero disables the deadline.
	ResolveDeadline time.Duration

	Datastore   DatastoreConfig
	GRPC        GRPCConfig
	Authn       AuthnConfig
	Log         LogConfig
	Trace       TraceConfig
	Profiler    ProfilerConfig
	Metrics     MetricConfig
	LookupCache LookupCacheConfig
	LookupRetry LookupRetryConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if cfg.Log.Level != "none" &&
		cfg.Log.Level != "debug" &&
		cfg.Log.Level != "info" &&
		cfg.Log.Level != "warn" &&
		cfg.Log.Level != "error" &&
		cfg.Log.Level != "panic" &&
		cfg.Log.Level != "fatal" {
		return fmt.Errorf(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if cfg.GRPC.TLS.Enabled {
		if cfg.GRPC.TLS.CertPath == "" || cfg.GRPC.TLS.KeyPath == "" {
			return errors.New("'grpc.tls.cert' and 'grpc.tls.key' configs must be set")
		}
	}

	if cfg.Trace.Enabled {
		if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
			return errors.New("config 'trace.sampleRatio' must be a value between 0 and 1")
		}
	}

	if cfg.LookupCache.Enabled {
		if cfg.LookupCache.Limit <= 0 {
			return errors.New("config 'lookupCache.limit' must be a positive integer")
		}
		if cfg.LookupCache.TTL <= 0 {
			return errors.New("config 'lookupCache.ttl' must be a positive time duration")
		}
	}

	if cfg.LookupRetry.Enabled {
		if cfg.LookupRetry.MaxRetries <= 0 {
			return errors.New("config 'lookupRetry.maxRetries' must be a positive integer")
		}
		if cfg.LookupRetry.Interval <= 0 {
			return errors.New("config 'lookupRetry.interval' must be a positive time duration")
		}
	}

	if cfg.ResolveDeadline < 0 {
		return errors.New("config 'resolveDeadline' must not be negative")
	}

	return nil
}

// DefaultConfig is the credmesh server default configurations.
func DefaultConfig() *Config {
	return &Config{
		ResolveNodeLimit:     DefaultResolveNodeLimit,
		MaxConcurrentLookups: DefaultMaxConcurrentLookups,
		ResolveDeadline:      DefaultResolveDeadline,
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxIdleConns: 10,
			MaxOpenConns: 30,
		},
		GRPC: GRPCConfig{
			Addr: "0.0.0.0:8081",
			TLS:  &TLSConfig{Enabled: false},
		},
		Authn: AuthnConfig{
			Method:                  "none",
			AuthnPresharedKeyConfig: &AuthnPresharedKeyConfig{},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
				TLS: OTLPTraceTLSConfig{
					Enabled: false,
				},
			},
			SampleRatio: 0.2,
			ServiceName: "credmesh",
		},
		Profiler: ProfilerConfig{
			Enabled: false,
			Addr:    ":3001",
		},
		Metrics: MetricConfig{
			Enabled:             true,
			Addr:                "0.0.0.0:2112",
			EnableRPCHistograms: false,
		},
		LookupCache: LookupCacheConfig{
			Enabled: DefaultLookupCacheEnable,
			Limit:   DefaultLookupCacheLimit,
			TTL:     DefaultLookupCacheTTL,
		},
		LookupRetry: LookupRetryConfig{
			Enabled:    DefaultLookupRetryEnable,
			MaxRetries: DefaultLookupRetryMax,
			Interval:   DefaultLookupRetryInterval,
		},
	}
}

// MustDefaultConfig returns default server config with metrics turned off.
func MustDefaultConfig() *Config {
	config := DefaultConfig()

	config.Metrics.Enabled = false

	return config
}

// MustDefaultConfigWithRandomPorts returns default server config but with random ports for the
// grpc and metrics addresses and with metrics turned off.
// This function may panic if somehow a random port cannot be chosen.
func MustDefaultConfigWithRandomPorts() *Config {
	config := MustDefaultConfig()

	grpcPort, grpcPortReleaser := TCPRandomPort()
	defer grpcPortReleaser()
	metricsPort, metricsPortReleaser := TCPRandomPort()
	defer metricsPortReleaser()

	config.GRPC.Addr = fmt.Sprintf("0.0.0.0:%d", grpcPort)
	config.Metrics.Addr = fmt.Sprintf("0.0.0.0:%d", metricsPort)

	return config
}

// TCPRandomPort tries to find a random TCP Port. If it can't find one, it panics. Else, it returns the port and a function that releases the port.
// It is the responsibility of the caller to call the release function right before trying to listen on the given port.
func TCPRandomPort() (int, func()) {
	l, err := net.Listen("tcp", "")
	if err != nil {
		panic(err)
	}
	return l.Addr().(*net.TCPAddr).Port, func() {
		l.Close()
	}
}
