// Package run contains the command to run a credmesh server.
package run

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	grpcauth "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	grpc_prometheus "github.com/jon-whit/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/credmesh/credmesh/internal/authn"
	"github.com/credmesh/credmesh/internal/authn/presharedkey"
	"github.com/credmesh/credmesh/internal/build"
	"github.com/credmesh/credmesh/internal/graph"
	authnmw "github.com/credmesh/credmesh/internal/middleware/authn"
	"github.com/credmesh/credmesh/internal/middleware/logging"
	"github.com/credmesh/credmesh/internal/middleware/recovery"
	"github.com/credmesh/credmesh/internal/middleware/requestid"
	serverconfig "github.com/credmesh/credmesh/internal/server/config"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/rpc"
	"github.com/credmesh/credmesh/pkg/server"
	"github.com/credmesh/credmesh/pkg/server/health"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/storage/memory"
	"github.com/credmesh/credmesh/pkg/storage/postgres"
	"github.com/credmesh/credmesh/pkg/storage/sqlcommon"
	"github.com/credmesh/credmesh/pkg/storage/sqlite"
	"github.com/credmesh/credmesh/pkg/storage/storagewrappers"
	"github.com/credmesh/credmesh/pkg/telemetry"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreURIFlag    = "datastore-uri"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the credmesh server",
		Long:  "Run the credmesh server.",
		Run:   run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	flags.String("grpc-addr", defaultConfig.GRPC.Addr, "the host:port address to serve the grpc server on")

	flags.Bool("grpc-tls-enabled", defaultConfig.GRPC.TLS.Enabled, "enable/disable transport layer security (TLS)")

	flags.String("grpc-tls-cert", defaultConfig.GRPC.TLS.CertPath, "the (absolute) file path of the certificate to use for the TLS connection")

	flags.String("grpc-tls-key", defaultConfig.GRPC.TLS.KeyPath, "the (absolute) file path of the TLS key that should be used for the TLS connection")

	cmd.MarkFlagsRequiredTogether("grpc-tls-enabled", "grpc-tls-cert", "grpc-tls-key")

	flags.String("authn-method", defaultConfig.Authn.Method, "the authentication method to use")

	flags.StringSlice("authn-preshared-keys", defaultConfig.Authn.Keys, "one or more preshared keys to use for authentication")

	flags.String(datastoreEngineFlag, defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence")

	flags.String(datastoreURIFlag, defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")

	flags.String("datastore-username", "", "the connection username to use to connect to the datastore (overwrites any username provided in the connection uri)")

	flags.String("datastore-password", "", "the connection password to use to connect to the datastore (overwrites any password provided in the connection uri)")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics")

	flags.Bool("profiler-enabled", defaultConfig.Profiler.Enabled, "enable/disable pprof profiling")

	flags.String("profiler-addr", defaultConfig.Profiler.Addr, "the host:port address to serve the pprof profiler server on")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	flags.Bool("metrics-enable-rpc-histograms", defaultConfig.Metrics.EnableRPCHistograms, "enables prometheus histogram metrics for RPC latency distributions")

	flags.Uint32("resolve-node-limit", defaultConfig.ResolveNodeLimit, "maximum number of delegation hops a resolution may search through before a branch is abandoned")

	flags.Int("max-concurrent-lookups", defaultConfig.MaxConcurrentLookups, "the maximum number of in-flight name resolution lookups a single resolution may issue")

	flags.Duration("resolve-deadline", defaultConfig.ResolveDeadline, "the timeout deadline for serving Verify and Collect requests. If 0, there is no deadline")

	flags.Bool("lookup-cache-enabled", defaultConfig.LookupCache.Enabled, "enable in-memory caching of name resolution lookups. Cached zones are served without consulting the datastore until the TTL expires, so resolutions become eventually consistent with record writes")

	flags.Uint32("lookup-cache-limit", defaultConfig.LookupCache.Limit, "if lookup-cache-enabled, this is the size limit of the cache")

	flags.Duration("lookup-cache-ttl", defaultConfig.LookupCache.TTL, "if lookup-cache-enabled, this is the TTL of each value")

	flags.Bool("lookup-retry-enabled", defaultConfig.LookupRetry.Enabled, "enable retrying of failed name resolution lookups before the engine gives a branch up")

	flags.Uint64("lookup-retry-max-retries", defaultConfig.LookupRetry.MaxRetries, "if lookup-retry-enabled, the number of times a failed lookup is retried before its branch is abandoned")

	flags.Duration("lookup-retry-interval", defaultConfig.LookupRetry.Interval, "if lookup-retry-enabled, the wait between retry attempts")

	// NOTE: if you add a new flag here, update the bindings in flags.go, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the credmesh server configuration based on the values provided in the server's 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/credmesh', '$HOME/.credmesh', or the current working directory. If no configuration
// file is present, the default values are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Verify(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)
	serverCtx := &ServerContext{Logger: logger}
	if err := serverCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

type ServerContext struct {
	Logger logger.Logger
}

// telemetryConfig returns the function that must be called to shut down tracing.
// The context provided to this function should be error-free, or shut down will be incomplete.
func (s *ServerContext) telemetryConfig(config *serverconfig.Config) func() error {
	if config.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", config.Trace.SampleRatio, config.Trace.OTLP.Endpoint, config.Trace.OTLP.TLS.Enabled))

		options := []telemetry.TracerOption{
			telemetry.WithOTLPEndpoint(
				config.Trace.OTLP.Endpoint,
			),
			telemetry.WithOTLPTLS(
				config.Trace.OTLP.TLS.Enabled,
			),
			telemetry.WithServiceName(
				config.Trace.ServiceName,
			),
			telemetry.WithSamplingRatio(config.Trace.SampleRatio),
		}

		tp := telemetry.MustNewTracerProvider(options...)
		return func() error {
			// can take up to 5 seconds to complete (https://github.com/open-telemetry/opentelemetry-go/blob/aebcbfcbc2962957a578e9cb3e25dc834125e318/sdk/trace/batch_span_processor.go#L97)
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

func (s *ServerContext) datastoreConfig(config *serverconfig.Config) (storage.ZoneDatastore, error) {
	datastoreOptions := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Datastore.Username),
		sqlcommon.WithPassword(config.Datastore.Password),
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}

	if config.Datastore.Metrics.Enabled {
		datastoreOptions = append(datastoreOptions, sqlcommon.WithMetrics())
	}

	dsCfg := sqlcommon.NewConfig(datastoreOptions...)

	var datastore storage.ZoneDatastore
	var err error
	switch config.Datastore.Engine {
	case "memory":
		datastore = memory.New()
	case "postgres":
		datastore, err = postgres.New(config.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
	case "sqlite":
		datastore, err = sqlite.New(config.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}

	s.Logger.Info(fmt.Sprintf("using '%v' storage engine", config.Datastore.Engine))

	return datastore, nil
}

// lookupResolverConfig layers the configured lookup wrappers over the
// datastore. The returned closer releases cache resources and must be called
// after the engine has stopped issuing lookups.
func (s *ServerContext) lookupResolverConfig(config *serverconfig.Config, datastore storage.ZoneDatastore) (storage.NameResolver, func(), error) {
	var reads storage.NameResolver = datastore

	if config.LookupRetry.Enabled {
		reads = storagewrappers.NewRetryingResolver(reads,
			storagewrappers.WithMaxRetries(config.LookupRetry.MaxRetries),
			storagewrappers.WithRetryInterval(config.LookupRetry.Interval),
		)

		s.Logger.Info(fmt.Sprintf("lookup retries enabled: up to %d attempts %s apart", config.LookupRetry.MaxRetries, config.LookupRetry.Interval))
	}

	if !config.LookupCache.Enabled {
		return reads, func() {}, nil
	}

	cached, err := storagewrappers.NewCachedResolver(
		storagewrappers.NewSingleflightResolver(reads),
		storagewrappers.WithMaxCacheSize(int64(config.LookupCache.Limit)),
		storagewrappers.WithCacheTTL(config.LookupCache.TTL),
		storagewrappers.WithCacheLogger(s.Logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize lookup cache: %w", err)
	}

	s.Logger.Info(fmt.Sprintf("lookup cache enabled: %d entries with a ttl of %s", config.LookupCache.Limit, config.LookupCache.TTL))

	return cached, cached.Close, nil
}

func (s *ServerContext) authenticatorConfig(config *serverconfig.Config) (authn.Authenticator, error) {
	var authenticator authn.Authenticator
	var err error

	switch config.Authn.Method {
	case "none":
		s.Logger.Warn("authentication is disabled")
		authenticator = authn.NoopAuthenticator{}
	case "preshared":
		s.Logger.Info("using 'preshared' authentication")
		authenticator, err = presharedkey.NewPresharedKeyAuthenticator(config.Authn.Keys)
	default:
		return nil, fmt.Errorf("unsupported authentication method '%v'", config.Authn.Method)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}
	return authenticator, nil
}

func (s *ServerContext) buildServerOpts(config *serverconfig.Config, authenticator authn.Authenticator) ([]grpc.ServerOption, error) {
	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(serverconfig.DefaultMaxRPCMessageSizeInBytes),
		grpc.ChainUnaryInterceptor(
			[]grpc.UnaryServerInterceptor{
				grpc_recovery.UnaryServerInterceptor( // panic middleware must be 1st in chain
					grpc_recovery.WithRecoveryHandlerContext(
						recovery.PanicRecoveryHandler(s.Logger),
					),
				),
				requestid.NewUnaryInterceptor(),
				logging.NewLoggingInterceptor(s.Logger), // needed to log invalid requests
			}...,
		),
		grpc.ChainStreamInterceptor(
			[]grpc.StreamServerInterceptor{
				grpc_recovery.StreamServerInterceptor( // panic middleware must be 1st in chain
					grpc_recovery.WithRecoveryHandlerContext(
						recovery.PanicRecoveryHandler(s.Logger),
					),
				),
				requestid.NewStreamingInterceptor(),
			}...,
		),
	}

	if config.Metrics.Enabled {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
			grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor))

		if config.Metrics.EnableRPCHistograms {
			grpc_prometheus.EnableHandlingTimeHistogram()
		}
	}

	if config.Trace.Enabled {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(
		[]grpc.UnaryServerInterceptor{
			grpcauth.UnaryServerInterceptor(authnmw.AuthFunc(authenticator)),
		}...),
		grpc.ChainStreamInterceptor(
			[]grpc.StreamServerInterceptor{
				grpcauth.StreamServerInterceptor(authnmw.AuthFunc(authenticator)),
				// The following interceptor wraps the server stream with our own
				// wrapper and must come last.
				logging.NewStreamingLoggingInterceptor(s.Logger),
			}...,
		),
	)

	if config.GRPC.TLS.Enabled {
		if config.GRPC.TLS.CertPath == "" || config.GRPC.TLS.KeyPath == "" {
			return nil, errors.New("'grpc.tls.cert' and 'grpc.tls.key' configs must be set")
		}
		creds, err := credentials.NewServerTLSFromFile(config.GRPC.TLS.CertPath, config.GRPC.TLS.KeyPath)
		if err != nil {
			return nil, err
		}

		serverOpts = append(serverOpts, grpc.Creds(creds))

		s.Logger.Info("gRPC TLS is enabled, serving connections using the provided certificate")
	} else {
		s.Logger.Warn("gRPC TLS is disabled, serving connections using insecure plaintext")
	}
	return serverOpts, nil
}

// Run returns an error if the server was unable to start successfully.
// If it started and terminated successfully, it returns a nil error.
func (s *ServerContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, os.Kill, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(config)

	datastore, err := s.datastoreConfig(config)
	if err != nil {
		return err
	}

	reads, closeLookups, err := s.lookupResolverConfig(config, datastore)
	if err != nil {
		return err
	}

	authenticator, err := s.authenticatorConfig(config)
	if err != nil {
		return err
	}

	serverOpts, err := s.buildServerOpts(config, authenticator)
	if err != nil {
		return err
	}

	resolver := graph.NewResolver(reads,
		graph.WithLogger(s.Logger),
		graph.WithResolveNodeLimit(config.ResolveNodeLimit),
		graph.WithMaxConcurrentLookups(config.MaxConcurrentLookups),
		graph.WithZoneDatastore(datastore),
	)

	svr := server.New(&server.Dependencies{
		Resolver:        resolver,
		Datastore:       datastore,
		Logger:          s.Logger,
		ResolveDeadline: config.ResolveDeadline,
	})

	s.Logger.Info(
		"starting credmesh service...",
		zap.String("version", build.Version),
		zap.String("date", build.Date),
		zap.String("commit", build.Commit),
		zap.String("go-version", goruntime.Version()),
		zap.Any("config", config),
	)

	// nosemgrep: grpc-server-insecure-connection
	grpcServer := grpc.NewServer(serverOpts...)
	rpc.RegisterResolverServer(grpcServer, svr)
	healthServer := &health.Checker{TargetService: svr, TargetServiceName: rpc.ServiceName}
	healthv1pb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	if config.Metrics.Enabled {
		grpc_prometheus.Register(grpcServer)
	}

	lis, err := net.Listen("tcp", config.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	servers, serversCtx := errgroup.WithContext(ctx)

	servers.Go(func() error {
		s.Logger.Info(fmt.Sprintf("🚀 starting gRPC server on '%s'...", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("the gRPC server closed with an unexpected error: %w", err)
		}
		s.Logger.Info("gRPC server shut down.")
		return nil
	})

	var profilerServer *http.Server
	if config.Profiler.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		profilerServer = &http.Server{Addr: config.Profiler.Addr, Handler: mux}

		servers.Go(func() error {
			s.Logger.Info(fmt.Sprintf("🔬 starting pprof profiler on '%s'", config.Profiler.Addr))
			if err := profilerServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("the pprof profiler closed with an unexpected error: %w", err)
			}
			s.Logger.Info("profiler shut down.")
			return nil
		})
	}

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: config.Metrics.Addr, Handler: mux}

		servers.Go(func() error {
			s.Logger.Info(fmt.Sprintf("📈 starting prometheus metrics server on '%s'", config.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("the prometheus metrics server closed with an unexpected error: %w", err)
			}
			s.Logger.Info("metrics server shut down.")
			return nil
		})
	}

	// wait for a cancellation signal or for one of the servers to fail
	select {
	case <-ctx.Done():
	case <-serversCtx.Done():
	}
	s.Logger.Info("attempting to shutdown gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if profilerServer != nil {
		if err := profilerServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the profiler", zap.Error(err))
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
	}

	grpcServer.GracefulStop()

	svr.Close()

	closeLookups()

	datastore.Close()

	authenticator.Close()

	if err := tracerProviderCloser(); err != nil {
		s.Logger.Error("failed to shutdown tracing", zap.Error(err))
	}

	if err := servers.Wait(); err != nil {
		return err
	}

	s.Logger.Info("server exited. goodbye 👋")

	return nil
}
