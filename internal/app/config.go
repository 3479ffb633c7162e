package app

import "time"

// HistoryBackend selects which history.Store implementation New wires up.
type HistoryBackend string

const (
	HistoryBackendMemory   HistoryBackend = "memory"
	HistoryBackendRedis    HistoryBackend = "redis"
	HistoryBackendPostgres HistoryBackend = "postgres"
)

// Config contains all runtime configuration loaded from environment
// variables. A Config value is immutable once LoadConfig returns: per
// spec.md §6, reloading configuration requires a process restart in v1.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL, when set, enables the Postgres-backed rooms channel
	// snapshot and is required when HistoryBackend is "postgres".
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr string

	HistoryBackend  HistoryBackend
	HistoryRingSize int
	HistorySchema   string

	// CASILConfigPath, when set, loads casil.Config from a YAML file;
	// otherwise CASIL runs with casil.DefaultConfig() (disabled).
	CASILConfigPath string
	// CASILTelemetryBufferSize bounds the channel backing CASIL's
	// telemetry.ChannelSink; events emitted past this depth are dropped
	// rather than blocking the hot path.
	CASILTelemetryBufferSize int

	// Strict CORS allowlist for browser clients.
	//
	// Rules:
	// - exact origin: "https://app.example.com"
	// - wildcard port: "http://localhost:*"
	// - wildcard all: "*" (not recommended with credentials)
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// ReadinessRequireDB: if true, /readyz returns 503 unless a database
	// is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	corsDefault := "http://localhost:*,http://127.0.0.1:*"
	corsRaw := EnvString("ARQON_HTTP_CORS_ALLOWED_ORIGINS", "")
	if corsRaw == "" {
		corsRaw = EnvString("ARQON_CORS_ALLOWED_ORIGINS", corsDefault)
	}

	return Config{
		HTTPAddr:  EnvString("ARQON_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ARQON_LOG_LEVEL", "info"),
		LogFormat: EnvString("ARQON_LOG_FORMAT", "auto"),

		ReadHeaderTimeout: EnvDuration("ARQON_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ARQON_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ARQON_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ARQON_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("ARQON_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("ARQON_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("ARQON_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ARQON_DB_MIN_CONNS", 0),

		RedisAddr: EnvString("ARQON_REDIS_ADDR", ""),

		HistoryBackend:  HistoryBackend(EnvString("ARQON_HISTORY_BACKEND", string(HistoryBackendMemory))),
		HistoryRingSize: EnvInt("ARQON_HISTORY_RING_SIZE", 500),
		HistorySchema:   EnvString("ARQON_HISTORY_SCHEMA", "arqonbus"),

		CASILConfigPath:          EnvString("ARQON_CASIL_CONFIG", ""),
		CASILTelemetryBufferSize: EnvInt("ARQON_CASIL_TELEMETRY_BUFFER_SIZE", 1024),

		CORSAllowedOrigins:   parseCSV(corsRaw),
		CORSAllowCredentials: EnvBool("ARQON_HTTP_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("ARQON_HTTP_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("ARQON_READINESS_REQUIRE_DB", false),
	}
}
