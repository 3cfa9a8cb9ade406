// Command server starts the MediaVault API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediavault/internal/api"
	"mediavault/internal/auth"
	"mediavault/internal/i18n"
	"mediavault/internal/media"
	"mediavault/internal/observability/logging"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/server"
	"mediavault/internal/storage"
	"mediavault/internal/storagenet"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing a Postgres connection")
	postgresQueryTimeout := flag.Duration("postgres-query-timeout", 0, "timeout applied to individual Postgres queries")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	jwtSecret := flag.String("jwt-secret", "", "secret used to sign access tokens")
	tokenTTL := flag.Duration("token-ttl", 0, "access token lifetime")
	gatewayURL := flag.String("storage-gateway-url", "", "base URL of the storage network gateway")
	gatewayAPIKey := flag.String("storage-gateway-api-key", "", "bearer token for the storage network gateway")
	gatewayTimeout := flag.Duration("storage-gateway-timeout", 0, "timeout for storage network calls including upload bodies")
	gatewayCACert := flag.String("storage-gateway-ca-cert", "", "path to a custom CA certificate for the storage network gateway")
	uploadMaxFileSize := flag.Int64("upload-max-file-size", 0, "maximum size in bytes for a single uploaded file")
	uploadMaxFiles := flag.Int("upload-max-files", 0, "maximum number of files accepted in one upload batch")
	uploadAllowedTypes := flag.String("upload-allowed-types", "", "comma separated MIME types accepted for upload (* allows any)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisDB := flag.Int("rate-redis-db", 0, "Redis database for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated list of allowed CORS origins")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAVAULT_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.New()

	serverMode := modeValue(*mode, os.Getenv("MEDIAVAULT_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MEDIAVAULT_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("MEDIAVAULT_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("MEDIAVAULT_TLS_KEY"))

	secret := firstNonEmpty(*jwtSecret, os.Getenv("MEDIAVAULT_JWT_SECRET"))
	if secret == "" {
		logger.Error("no token secret configured: provide --jwt-secret or MEDIAVAULT_JWT_SECRET")
		os.Exit(1)
	}
	tokens, err := auth.NewTokenService(secret, resolveDuration(*tokenTTL, "MEDIAVAULT_TOKEN_TTL", auth.DefaultTokenTTL))
	if err != nil {
		logger.Error("failed to configure token service", "error", err)
		os.Exit(1)
	}

	bundle, err := i18n.NewBundle()
	if err != nil {
		logger.Error("failed to load message catalogs", "error", err)
		os.Exit(1)
	}

	gatewayBase := firstNonEmpty(*gatewayURL, os.Getenv("MEDIAVAULT_STORAGE_GATEWAY_URL"))
	if gatewayBase == "" {
		logger.Error("no storage gateway configured: provide --storage-gateway-url or MEDIAVAULT_STORAGE_GATEWAY_URL")
		os.Exit(1)
	}
	netClient, err := storagenet.New(storagenet.Config{
		BaseURL:    gatewayBase,
		APIKey:     firstNonEmpty(*gatewayAPIKey, os.Getenv("MEDIAVAULT_STORAGE_GATEWAY_API_KEY")),
		Timeout:    resolveDuration(*gatewayTimeout, "MEDIAVAULT_STORAGE_GATEWAY_TIMEOUT", 0),
		CACertPath: firstNonEmpty(*gatewayCACert, os.Getenv("MEDIAVAULT_STORAGE_GATEWAY_CA_CERT")),
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		logger.Error("failed to configure storage network client", "error", err)
		os.Exit(1)
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MEDIAVAULT_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MEDIAVAULT_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresRepository(storage.PostgresConfig{
			DSN:             postgresDefaultDSN,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "MEDIAVAULT_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "MEDIAVAULT_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "MEDIAVAULT_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime: resolveDuration(*postgresMaxConnIdle, "MEDIAVAULT_POSTGRES_MAX_CONN_IDLE", 0),
			ConnectTimeout:  resolveDuration(*postgresConnectTimeout, "MEDIAVAULT_POSTGRES_CONNECT_TIMEOUT", 0),
			QueryTimeout:    resolveDuration(*postgresQueryTimeout, "MEDIAVAULT_POSTGRES_QUERY_TIMEOUT", 0),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("MEDIAVAULT_POSTGRES_APP_NAME")),
		})
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	limits := media.DefaultLimits()
	if size := resolveInt64(*uploadMaxFileSize, "MEDIAVAULT_UPLOAD_MAX_FILE_SIZE"); size > 0 {
		limits.MaxFileSize = size
	}
	if count := resolveInt(*uploadMaxFiles, "MEDIAVAULT_UPLOAD_MAX_FILES"); count > 0 {
		limits.MaxFileCount = count
	}
	if types := splitAndTrim(firstNonEmpty(*uploadAllowedTypes, os.Getenv("MEDIAVAULT_UPLOAD_ALLOWED_TYPES"))); len(types) > 0 {
		limits.AllowedTypes = types
	}

	handler := api.NewHandler(store, tokens, netClient, func(h *api.Handler) {
		h.Messages = bundle
		h.Metrics = recorder
		h.Logger = logging.WithComponent(logger, "api")
		h.Mode = serverMode
		h.Limits = limits
	})

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: tlsCertPath,
			KeyFile:  tlsKeyPath,
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "MEDIAVAULT_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "MEDIAVAULT_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "MEDIAVAULT_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "MEDIAVAULT_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("MEDIAVAULT_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("MEDIAVAULT_RATE_REDIS_PASSWORD")),
			RedisDB:       resolveInt(*redisDB, "MEDIAVAULT_RATE_REDIS_DB"),
			RedisTimeout:  resolveDuration(*redisTimeout, "MEDIAVAULT_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("MEDIAVAULT_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("MediaVault API listening", "addr", listenAddr, "mode", serverMode)
	if tlsCertPath != "" && tlsKeyPath != "" {
		logger.Info("TLS enabled", "cert_file", tlsCertPath)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	exitCode := 0
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		exitCode = 1
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MEDIAVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
