package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/credmesh/credmesh/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		util.MustBindPFlag("grpc.addr", flags.Lookup("grpc-addr"))
		util.MustBindEnv("grpc.addr", "CREDMESH_GRPC_ADDR")

		util.MustBindPFlag("grpc.tls.enabled", flags.Lookup("grpc-tls-enabled"))
		util.MustBindEnv("grpc.tls.enabled", "CREDMESH_GRPC_TLS_ENABLED")

		util.MustBindPFlag("grpc.tls.cert", flags.Lookup("grpc-tls-cert"))
		util.MustBindEnv("grpc.tls.cert", "CREDMESH_GRPC_TLS_CERT")

		util.MustBindPFlag("grpc.tls.key", flags.Lookup("grpc-tls-key"))
		util.MustBindEnv("grpc.tls.key", "CREDMESH_GRPC_TLS_KEY")

		util.MustBindPFlag("authn.method", flags.Lookup("authn-method"))
		util.MustBindEnv("authn.method", "CREDMESH_AUTHN_METHOD")

		util.MustBindPFlag("authn.preshared.keys", flags.Lookup("authn-preshared-keys"))
		util.MustBindEnv("authn.preshared.keys", "CREDMESH_AUTHN_PRESHARED_KEYS")

		util.MustBindPFlag("datastore.engine", flags.Lookup(datastoreEngineFlag))
		util.MustBindEnv("datastore.engine", "CREDMESH_DATASTORE_ENGINE")

		util.MustBindPFlag("datastore.uri", flags.Lookup(datastoreURIFlag))
		util.MustBindEnv("datastore.uri", "CREDMESH_DATASTORE_URI")

		util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
		util.MustBindEnv("datastore.username", "CREDMESH_DATASTORE_USERNAME")

		util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
		util.MustBindEnv("datastore.password", "CREDMESH_DATASTORE_PASSWORD")

		util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
		util.MustBindEnv("datastore.maxOpenConns", "CREDMESH_DATASTORE_MAX_OPEN_CONNS", "CREDMESH_DATASTORE_MAXOPENCONNS")

		util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
		util.MustBindEnv("datastore.maxIdleConns", "CREDMESH_DATASTORE_MAX_IDLE_CONNS", "CREDMESH_DATASTORE_MAXIDLECONNS")

		util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
		util.MustBindEnv("datastore.connMaxIdleTime", "CREDMESH_DATASTORE_CONN_MAX_IDLE_TIME", "CREDMESH_DATASTORE_CONNMAXIDLETIME")

		util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
		util.MustBindEnv("datastore.connMaxLifetime", "CREDMESH_DATASTORE_CONN_MAX_LIFETIME", "CREDMESH_DATASTORE_CONNMAXLIFETIME")

		util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("datastore.metrics.enabled", "CREDMESH_DATASTORE_METRICS_ENABLED")

		util.MustBindPFlag("profiler.enabled", flags.Lookup("profiler-enabled"))
		util.MustBindEnv("profiler.enabled", "CREDMESH_PROFILER_ENABLED")

		util.MustBindPFlag("profiler.addr", flags.Lookup("profiler-addr"))
		util.MustBindEnv("profiler.addr", "CREDMESH_PROFILER_ADDRESS")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "CREDMESH_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "CREDMESH_LOG_LEVEL")

		util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
		util.MustBindEnv("log.timestampFormat", "CREDMESH_LOG_TIMESTAMP_FORMAT")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "CREDMESH_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "CREDMESH_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
		util.MustBindEnv("trace.otlp.tls.enabled", "CREDMESH_TRACE_OTLP_TLS_ENABLED")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "CREDMESH_TRACE_SAMPLE_RATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "CREDMESH_TRACE_SERVICE_NAME")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "CREDMESH_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "CREDMESH_METRICS_ADDR")

		util.MustBindPFlag("metrics.enableRPCHistograms", flags.Lookup("metrics-enable-rpc-histograms"))
		util.MustBindEnv("metrics.enableRPCHistograms", "CREDMESH_METRICS_ENABLE_RPC_HISTOGRAMS")

		util.MustBindPFlag("resolveNodeLimit", flags.Lookup("resolve-node-limit"))
		util.MustBindEnv("resolveNodeLimit", "CREDMESH_RESOLVE_NODE_LIMIT", "CREDMESH_RESOLVENODELIMIT")

		util.MustBindPFlag("maxConcurrentLookups", flags.Lookup("max-concurrent-lookups"))
		util.MustBindEnv("maxConcurrentLookups", "CREDMESH_MAX_CONCURRENT_LOOKUPS", "CREDMESH_MAXCONCURRENTLOOKUPS")

		util.MustBindPFlag("resolveDeadline", flags.Lookup("resolve-deadline"))
		util.MustBindEnv("resolveDeadline", "CREDMESH_RESOLVE_DEADLINE", "CREDMESH_RESOLVEDEADLINE")

		util.MustBindPFlag("lookupCache.enabled", flags.Lookup("lookup-cache-enabled"))
		util.MustBindEnv("lookupCache.enabled", "CREDMESH_LOOKUP_CACHE_ENABLED")

		util.MustBindPFlag("lookupCache.limit", flags.Lookup("lookup-cache-limit"))
		util.MustBindEnv("lookupCache.limit", "CREDMESH_LOOKUP_CACHE_LIMIT")

		util.MustBindPFlag("lookupCache.ttl", flags.Lookup("lookup-cache-ttl"))
		util.MustBindEnv("lookupCache.ttl", "CREDMESH_LOOKUP_CACHE_TTL")

		util.MustBindPFlag("lookupRetry.enabled", flags.Lookup("lookup-retry-enabled"))
		util.MustBindEnv("lookupRetry.enabled", "CREDMESH_LOOKUP_RETRY_ENABLED")

		util.MustBindPFlag("lookupRetry.maxRetries", flags.Lookup("lookup-retry-max-retries"))
		util.MustBindEnv("lookupRetry.maxRetries", "CREDMESH_LOOKUP_RETRY_MAX_RETRIES")

		util.MustBindPFlag("lookupRetry.interval", flags.Lookup("lookup-retry-interval"))
		util.MustBindEnv("lookupRetry.interval", "CREDMESH_LOOKUP_RETRY_INTERVAL")
	}
}
