package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authgrid.org/internal/account"
	"authgrid.org/internal/config"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/keyring"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AUTHGRID_COMMIT"))

	ctx := context.Background()

	// Postgres backs accounts, keys and (without Redis) sessions. No DSN
	// means in-memory everything, for local development.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var keyStore keyring.Store = keyring.NewMemoryStore()
	var accounts account.Repository = account.NewMemoryRepository()
	var sessionStore session.Store = session.NewMemoryStore()
	if db != nil {
		keyStore = keyring.NewPGStore(db)
		accounts = account.NewPGRepository(db)
		sessionStore = session.NewPGStore(db)
	}

	var cache httpapi.Pinger
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := session.NewRedisStore(client)
		sessionStore = rs
		cache = rs
	}

	keys, err := keyring.New(ctx, keyStore,
		keyring.WithGraceWindow(cfg.KeyGraceWindow),
		keyring.WithMaxTokenLifetime(cfg.TokenLifetime),
	)
	if err != nil {
		logger.Fatal("keyring", zap.Error(err))
	}

	issuer := token.NewIssuer(keys,
		token.WithIssuerName(cfg.Issuer),
		token.WithLifetime(cfg.TokenLifetime),
	)
	verifier := token.NewVerifier(keys, token.WithExpectedIssuer(cfg.Issuer))

	sessions := session.NewManager(sessionStore, accounts, issuer,
		session.WithLifetime(cfg.SessionLifetime),
		session.WithRenewalThreshold(cfg.RenewalThreshold),
	)

	if err := bootstrapAdmin(ctx, cfg, accounts); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	api := httpapi.New(httpapi.Deps{
		Ready:    httpapi.ReadyProbe{DB: db, Cache: cache},
		Version:  version,
		Logger:   logger,
		Accounts: accounts,
		Sessions: sessions,
		Issuer:   issuer,
		Verifier: verifier,
		Keys:     keys,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting authgrid-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// gRPC health surface for orchestrators that probe over gRPC.
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	bg, stopBg := context.WithCancel(ctx)
	go rotateLoop(bg, logger, keys, cfg.RotationInterval)
	go sweepLoop(bg, logger, keys, sessions)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	stopBg()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if err := sessions.Flush(shutdownCtx); err != nil {
		logger.Warn("flush sessions", zap.Error(err))
	}
	keys.Close()
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

// bootstrapAdmin ensures the configured admin account exists. Useful on a
// fresh deployment where no one can log in to grant the first admin tier.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, accounts account.Repository) error {
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}
	hash, err := account.HashPassword(cfg.BootstrapPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	err = accounts.Create(ctx, &account.Account{
		Email:        cfg.BootstrapEmail,
		PasswordHash: hash,
		Tier:         account.TierAdmin,
	})
	if errors.Is(err, account.ErrAlreadyExists) {
		return nil
	}
	return err
}

// rotateLoop rotates the signing key on the configured interval until the
// context is canceled.
func rotateLoop(ctx context.Context, logger *zap.Logger, keys *keyring.Keyring, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kid, err := keys.Rotate(ctx)
			if err != nil {
				logger.Error("key rotation", zap.Error(err))
				continue
			}
			logger.Info("key rotated", zap.String("kid", kid))
		}
	}
}

// sweepLoop periodically purges retired keys past their grace window and
// expired session rows.
func sweepLoop(ctx context.Context, logger *zap.Logger, keys *keyring.Keyring, sessions *session.Manager) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := keys.Sweep(ctx); err != nil {
				logger.Error("key sweep", zap.Error(err))
			} else if n > 0 {
				logger.Info("retired keys purged", zap.Int("count", n))
			}
			if n, err := sessions.SweepExpired(ctx); err != nil {
				logger.Error("session sweep", zap.Error(err))
			} else if n > 0 {
				logger.Info("expired sessions purged", zap.Int("count", n))
			}
		}
	}
}
