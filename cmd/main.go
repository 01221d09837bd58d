package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"rsvpdesk/cmd/buildCFG"
	"rsvpdesk/internal/api/api"
	"rsvpdesk/internal/rabbit"
	"rsvpdesk/internal/repo"
	"rsvpdesk/internal/service"
	"rsvpdesk/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	migrate := flag.String("migrate", "", "run migrations (up|down) and exit")
	flag.Parse()

	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load(*configPath, "", "RSVP"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)

	storageCfg, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, err := openStore(ctx, cfg, storageCfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := repository.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	switch *migrate {
	case "":
	case "up":
		if err := repository.MigrateUp(ctx); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("Migrations applied successfully")
		return
	case "down":
		if err := repository.MigrateDown(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
		return
	default:
		log.Fatal().Msgf("unknown -migrate value %q", *migrate)
	}

	if err := repository.MigrateUp(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")

	broker, err := openBroker(ctx, cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open change stream")
	}
	defer func() {
		if err := broker.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close change stream")
		}
	}()

	serviceInstance := service.NewService(repository, broker, &log, service.Options{
		Timeout:             storageCfg.Timeout,
		ReconnectMaxElapsed: buildCFG.BuildGuestListConfig(cfg).ReconnectMaxElapsed,
	})
	app := api.NewRouters(&api.Routers{
		Service:    serviceInstance,
		Mode:       serverCfg.Mode,
		AdminToken: serverCfg.AdminToken,
	})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Initiating shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, sc buildCFG.StorageConfig, log *zerolog.Logger) (repo.Repository, error) {
	if sc.Driver == repo.DriverSQLite {
		return repo.OpenSQLite(ctx, sc.SQLitePath, log)
	}

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	log.Info().Msg("Database connected successfully")
	return repo.NewRepository(db, log)
}

func openBroker(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (stream.Broker, error) {
	sc, err := buildCFG.BuildStreamConfig(cfg)
	if err != nil {
		return nil, err
	}

	switch sc.Driver {
	case "rabbit":
		rc, err := buildCFG.BuildRabbitConfig(cfg, log)
		if err != nil {
			return nil, err
		}
		client, err := rabbit.NewRabbit(rc.Url, rc.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		log.Info().Msg("RabbitMQ connected successfully")
		return stream.NewRabbit(client, log), nil
	case "redis":
		rc, err := buildCFG.BuildRedisConfig(cfg)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info().Msg("Redis connected successfully")
		return stream.NewRedis(client, log), nil
	default:
		log.Info().Msg("using in-process change stream")
		return stream.NewHub(sc.Buffer), nil
	}
}
