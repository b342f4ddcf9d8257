package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"securepay/config"
	"securepay/core/events"
	"securepay/core/runtime"
	"securepay/gateway/middleware"
	"securepay/gateway/routes"
	"securepay/observability/logging"
	"securepay/observability/metrics"
	telemetry "securepay/observability/otel"
	"securepay/services/keeper"
	"securepay/storage"
)

const passphraseEnv = "SECUREPAY_KEYSTORE_PASS"

func main() {
	var (
		cfgPath       string
		keeperCfgPath string
		logLevel      string
		logFile       string
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration file")
	flag.StringVar(&keeperCfgPath, "keeper-config", "", "path to keeper configuration file (empty disables the keeper)")
	flag.StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", "", "optional rotating log file")
	flag.Parse()

	var loadOpts []config.Option
	pass, hasPass := os.LookupEnv(passphraseEnv)
	if hasPass {
		loadOpts = append(loadOpts, config.WithKeystorePassphrase(pass))
	}
	cfg, err := config.Load(cfgPath, loadOpts...)
	if err != nil {
		log.Fatalf("securepayd: load config: %v", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(logLevel))}
	if strings.TrimSpace(logFile) != "" {
		logOpts = append(logOpts, logging.WithFile(logFile, 100, 5))
	}
	logger := logging.Setup("securepayd", cfg.Environment, logOpts...)
	logConfig(logger, cfg, pass)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "securepayd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.OTLPHeaders),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		fatal(logger, "init telemetry", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		fatal(logger, "open state database", err)
	}
	defer db.Close()

	var (
		keeperCfg keeper.Config
		journal   *keeper.Journal
	)
	protocolMetrics := metrics.Protocol()
	sink := events.Fanout{protocolMetrics}
	if keeperCfgPath != "" {
		keeperCfg, err = keeper.LoadConfig(keeperCfgPath)
		if err != nil {
			fatal(logger, "load keeper config", err)
		}
		dsn, err := keeper.FileDSN(keeperCfg.DatabasePath)
		if err != nil {
			fatal(logger, "resolve journal path", err)
		}
		journal, err = keeper.OpenJournal(dsn)
		if err != nil {
			fatal(logger, "open keeper journal", err)
		}
		defer journal.Close()
		journal.SetLogger(logging.Component(logger, "journal"))
		sink = append(sink, journal)
	}

	rt, err := runtime.New(db, cfg,
		runtime.WithLogger(logger),
		runtime.WithEmitter(sink),
		runtime.WithMetrics(protocolMetrics))
	if err != nil {
		fatal(logger, "start runtime", err)
	}
	owner, _ := rt.Owner()
	logger.Info("runtime ready", slog.String("owner", owner.Hex()), slog.Uint64("domain", rt.DomainID()))

	handler, err := buildAPI(cfg, rt, journal, logging.Component(logger, "api"))
	if err != nil {
		fatal(logger, "build api", err)
	}
	server := &http.Server{
		Addr:              cfg.API.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if keeperCfgPath != "" {
		opts := []keeper.Option{
			keeper.WithLogger(logging.Component(logger, "keeper")),
			keeper.WithMetrics(metrics.Keeper()),
		}
		if journal != nil {
			opts = append(opts, keeper.WithJournal(journal))
		}
		mgr, err := keeper.New(rt, keeperCfg, opts...)
		if err != nil {
			fatal(logger, "keeper", err)
		}
		go func() {
			if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("service failed", slog.Any("error", err))
	}
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", slog.Any("error", err))
	}
}

func buildAPI(cfg *config.Config, rt *runtime.Runtime, journal *keeper.Journal, logger *slog.Logger) (http.Handler, error) {
	limits := map[string]middleware.RateLimit{
		routes.LimitQuery:  {RatePerSecond: cfg.API.RequestsPerSecond, Burst: cfg.API.Burst},
		routes.LimitOracle: {RatePerSecond: cfg.API.RequestsPerSecond, Burst: cfg.API.Burst},
	}
	var upside []common.Address
	for _, token := range cfg.Tokens {
		if !token.Buyback {
			continue
		}
		addr, err := token.TokenAddress()
		if err != nil {
			return nil, err
		}
		upside = append(upside, addr)
	}
	routeCfg := routes.Config{
		Query:          rt,
		UpsideTokens:   upside,
		RateLimiter:    middleware.NewRateLimiter(limits, logger),
		Observability:  middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: cfg.API.LogRequests}, prometheus.DefaultRegisterer, logger),
		MetricsHandler: promhttp.Handler(),
		AllowedOrigins: cfg.API.AllowedOrigins,
		Tracing:        cfg.Telemetry.OTLPEndpoint != "",
		Logger:         logger,
	}
	if journal != nil {
		routeCfg.Journal = journal
	}
	if cfg.API.Auth.Enabled {
		routeCfg.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.API.Auth.HMACSecret,
			Issuer:     cfg.API.Auth.Issuer,
			Audience:   cfg.API.Auth.Audience,
			ClockSkew:  time.Duration(cfg.API.Auth.ClockSkewSeconds) * time.Second,
		}, logger)
	}
	return routes.New(routeCfg)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

// logConfig records the effective configuration with secrets masked.
func logConfig(logger *slog.Logger, cfg *config.Config, passphrase string) {
	logger.Info("config loaded",
		slog.String("data_dir", cfg.DataDir),
		slog.Uint64("domain", cfg.DomainID),
		slog.String("owner", cfg.Owner),
		slog.String("keystore", cfg.OwnerKeystorePath),
		logging.MaskField("keystore_passphrase", passphrase),
		slog.Bool("api_auth", cfg.API.Auth.Enabled),
		logging.MaskField("hmac_secret", cfg.API.Auth.HMACSecret),
		slog.String("otlp_endpoint", cfg.Telemetry.OTLPEndpoint),
		logging.MaskField("otlp_headers", cfg.Telemetry.OTLPHeaders))
}
