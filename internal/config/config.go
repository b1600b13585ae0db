// Package config loads relay configuration from environment variables, with
// command-line flags as overrides. Every value is validated at load time so
// a misconfigured relay fails at startup, not on first traffic.
package config

import (
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "NEOSHARE_LISTEN_ADDR"
	envVarMode            = "NEOSHARE_MODE"
	envVarLogFormat       = "NEOSHARE_LOG_FORMAT"
	envVarLogLevel        = "NEOSHARE_LOG_LEVEL"
	envVarShutdownTimeout = "NEOSHARE_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	envVarStoreBackend = "NEOSHARE_STORE"
	envVarPostgresDSN  = "NEOSHARE_POSTGRES_DSN"
	envVarStoreWorkers = "NEOSHARE_STORE_WORKERS"
	envVarStoreQueue   = "NEOSHARE_STORE_QUEUE"

	envVarCacheBackend  = "NEOSHARE_CACHE"
	envVarRedisAddr     = "NEOSHARE_REDIS_ADDR"
	envVarRedisPassword = "NEOSHARE_REDIS_PASSWORD"
	envVarRedisDB       = "NEOSHARE_REDIS_DB"

	envVarIdentitySource = "NEOSHARE_IDENTITY_SOURCE"
	envVarRoomCodeLength = "NEOSHARE_ROOM_CODE_LENGTH"

	envVarMaxMessagesPerMinute = "NEOSHARE_MAX_MESSAGES_PER_MINUTE"
	envVarMaxMessageBytes      = "NEOSHARE_MAX_MESSAGE_BYTES"
	envVarSendBuffer           = "NEOSHARE_SEND_BUFFER"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
)

type CacheBackend string

const (
	CacheNone  CacheBackend = "none"
	CacheRedis CacheBackend = "redis"
)

type IdentitySource string

const (
	IdentityHeader IdentitySource = "header"
	IdentityQuery  IdentitySource = "query"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode                 = ModeDev
	DefaultStoreWorkers         = 8
	DefaultStoreQueue           = 256
	DefaultRoomCodeLength       = 6
	DefaultMaxMessagesPerMinute = 10
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultSendBuffer           = 32
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	StoreBackend StoreBackend
	PostgresDSN  string
	StoreWorkers int
	StoreQueue   int

	CacheBackend  CacheBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IdentitySource IdentitySource
	RoomCodeLength int

	MaxMessagesPerMinute int
	MaxMessageBytes      int64
	SendBuffer           int
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(envMode))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(envMode))

	storeWorkers, err := envIntOrDefault(lookup, envVarStoreWorkers, DefaultStoreWorkers)
	if err != nil {
		return Config{}, err
	}
	storeQueue, err := envIntOrDefault(lookup, envVarStoreQueue, DefaultStoreQueue)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}
	roomCodeLength, err := envIntOrDefault(lookup, envVarRoomCodeLength, DefaultRoomCodeLength)
	if err != nil {
		return Config{}, err
	}
	maxPerMinute, err := envIntOrDefault(lookup, envVarMaxMessagesPerMinute, DefaultMaxMessagesPerMinute)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	sendBuffer, err := envIntOrDefault(lookup, envVarSendBuffer, DefaultSendBuffer)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	fs := flag.NewFlagSet("neoshare-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "address to listen on")
	mode := fs.String("mode", envMode, "dev or prod")
	logFormat := fs.String("log-format", logFormatDefault, "text or json")
	logLevel := fs.String("log-level", logLevelDefault, "debug, info, warn, or error")
	allowedOrigins := fs.String("allowed-origins", envOrDefault(lookup, envVarAllowedOrigins, ""), "comma-separated browser origins allowed to connect")
	storeBackend := fs.String("store", envOrDefault(lookup, envVarStoreBackend, string(StoreMemory)), "membership store backend: memory or postgres")
	postgresDSN := fs.String("postgres-dsn", envOrDefault(lookup, envVarPostgresDSN, ""), "postgres connection string")
	cacheBackend := fs.String("cache", envOrDefault(lookup, envVarCacheBackend, string(CacheNone)), "room directory cache: none or redis")
	redisAddr := fs.String("redis-addr", envOrDefault(lookup, envVarRedisAddr, ""), "redis address host:port")
	identitySource := fs.String("identity-source", envOrDefault(lookup, envVarIdentitySource, defaultIdentityForMode(envMode)), "identity source: header or query")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           *listenAddr,
		ShutdownTimeout:      shutdownTimeout,
		PostgresDSN:          *postgresDSN,
		StoreWorkers:         storeWorkers,
		StoreQueue:           storeQueue,
		RedisAddr:            *redisAddr,
		RedisPassword:        envOrDefault(lookup, envVarRedisPassword, ""),
		RedisDB:              redisDB,
		RoomCodeLength:       roomCodeLength,
		MaxMessagesPerMinute: maxPerMinute,
		MaxMessageBytes:      int64(maxMessageBytes),
		SendBuffer:           sendBuffer,
	}

	if cfg.Mode, err = parseMode(*mode); err != nil {
		return Config{}, err
	}
	if cfg.LogFormat, err = parseLogFormat(*logFormat); err != nil {
		return Config{}, err
	}
	if _, err = parseLogLevel(*logLevel); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(*logLevel))
	if cfg.AllowedOrigins, err = parseAllowedOrigins(*allowedOrigins); err != nil {
		return Config{}, err
	}
	if cfg.StoreBackend, err = parseStoreBackend(*storeBackend); err != nil {
		return Config{}, err
	}
	if cfg.CacheBackend, err = parseCacheBackend(*cacheBackend); err != nil {
		return Config{}, err
	}
	if cfg.IdentitySource, err = parseIdentitySource(*identitySource); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid %s %q: %w", envVarListenAddr, c.ListenAddr, err)
	}
	if c.StoreBackend == StorePostgres && c.PostgresDSN == "" {
		return fmt.Errorf("%s=postgres requires %s", envVarStoreBackend, envVarPostgresDSN)
	}
	if c.CacheBackend == CacheRedis && c.RedisAddr == "" {
		return fmt.Errorf("%s=redis requires %s", envVarCacheBackend, envVarRedisAddr)
	}
	if c.StoreWorkers < 1 {
		return fmt.Errorf("%s must be at least 1", envVarStoreWorkers)
	}
	if c.StoreQueue < 1 {
		return fmt.Errorf("%s must be at least 1", envVarStoreQueue)
	}
	if c.RoomCodeLength < 1 || c.RoomCodeLength > 10 {
		return fmt.Errorf("%s must be between 1 and 10", envVarRoomCodeLength)
	}
	if c.MaxMessagesPerMinute < 1 {
		return fmt.Errorf("%s must be at least 1", envVarMaxMessagesPerMinute)
	}
	if c.MaxMessageBytes < 1 {
		return fmt.Errorf("%s must be at least 1", envVarMaxMessageBytes)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("%s must be at least 1", envVarSendBuffer)
	}
	if c.Mode == ModeProd && c.IdentitySource == IdentityQuery {
		return fmt.Errorf("%s=query is a dev convenience and cannot run in prod mode", envVarIdentitySource)
	}
	return nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func defaultIdentityForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(IdentityHeader)
	default:
		return string(IdentityQuery)
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseStoreBackend(raw string) (StoreBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreMemory):
		return StoreMemory, nil
	case string(StorePostgres):
		return StorePostgres, nil
	default:
		return "", fmt.Errorf("invalid store backend %q (expected memory or postgres)", raw)
	}
}

func parseCacheBackend(raw string) (CacheBackend, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(CacheNone), "":
		return CacheNone, nil
	case string(CacheRedis):
		return CacheRedis, nil
	default:
		return "", fmt.Errorf("invalid cache backend %q (expected none or redis)", raw)
	}
}

func parseIdentitySource(raw string) (IdentitySource, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(IdentityHeader):
		return IdentityHeader, nil
	case string(IdentityQuery):
		return IdentityQuery, nil
	default:
		return "", fmt.Errorf("invalid identity source %q (expected header or query)", raw)
	}
}

// parseAllowedOrigins normalizes a comma-separated origin list to
// scheme://host[:port] form, lowercased, with default ports stripped.
func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid origin %q (expected scheme://host[:port])", part)
		}
		if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("invalid origin %q: must not carry a path", part)
		}
		scheme := strings.ToLower(u.Scheme)
		host := strings.ToLower(u.Host)
		host = strings.TrimSuffix(host, defaultPortSuffix(scheme))
		out = append(out, scheme+"://"+host)
	}
	return out, nil
}

func defaultPortSuffix(scheme string) string {
	switch scheme {
	case "http", "ws":
		return ":80"
	case "https", "wss":
		return ":443"
	default:
		return ""
	}
}
