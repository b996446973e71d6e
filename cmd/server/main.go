package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"semaphore/portal/internal/access"
	"semaphore/portal/internal/auth"
	"semaphore/portal/internal/clients"
	"semaphore/portal/internal/config"
	portalgrpc "semaphore/portal/internal/grpc"
	internalhttp "semaphore/portal/internal/http"
	"semaphore/portal/internal/jobs"
	"semaphore/portal/internal/prefs"
	"semaphore/portal/internal/session"
	"semaphore/portal/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := loadPolicy(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("route policy load failed")
	}

	checks := map[string]portalgrpc.Check{}
	var backend prefs.Backend
	switch cfg.PrefsBackend {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("redis ping failed")
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("redis close error")
			}
		}()
		backend = prefs.NewRedis(redisClient, cfg.SessionTTL)
		checks["prefs"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	case "postgres":
		pool, err := prefs.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connection failed")
		}
		defer pool.Close()
		pg := prefs.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("db migration failed")
		}
		backend = pg
		checks["prefs"] = pool.Ping
	default:
		backend = prefs.NewMemory()
	}

	api, err := clients.New(cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("api client init failed")
	}

	publicKey, err := auth.ParseRSAPublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("jwt public key invalid")
	}
	inspector := auth.NewInspector(publicKey, cfg.JWTSecret, cfg.JWTIssuer)

	storeOptions := []store.Option{store.WithMiddleware(store.MetricsMiddleware())}
	if !cfg.Production() {
		storeOptions = append(storeOptions, store.WithMiddleware(store.LoggingMiddleware(log.Logger)))
	}
	if cfg.StrictActions {
		storeOptions = append(storeOptions, store.WithUnknownPolicy(store.UnknownReject))
	}
	sessions := session.NewRegistry(session.Config{
		TTL:          cfg.SessionTTL,
		Capacity:     cfg.SessionCapacity,
		CookieSecure: cfg.SessionCookieSecure,
		CacheSize:    cfg.SelectorCacheSize,
		StoreOptions: storeOptions,
	}, backend, policy, log.Logger.With().Str("component", "session").Logger())

	server := internalhttp.NewServer(cfg, api, sessions, policy, log.Logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	health := portalgrpc.NewHealth(checks, log.Logger.With().Str("component", "health").Logger())
	grpcServer, err := portalgrpc.NewServer(cfg.ServiceAuthToken, health)
	if err != nil {
		log.Fatal().Err(err).Msg("grpc server init failed")
	}
	go health.Run(ctx, 15*time.Second)

	jobs.StartExpirySweepJob(ctx, cfg.ExpirySweepInterval, cfg.APITimeout, sessions, inspector, log.Logger.With().Str("job", "expiry").Logger())

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("portal http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("grpc listen error")
		}
		log.Info().Str("addr", cfg.GRPCAddr).Msg("portal grpc listening")
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal().Err(err).Msg("grpc server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	grpcServer.GracefulStop()
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.Production() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func loadPolicy(cfg config.Config) (*access.Policy, error) {
	if cfg.RoutesFile != "" {
		return access.LoadPolicyFile(cfg.RoutesFile)
	}
	return access.DefaultPolicy()
}
