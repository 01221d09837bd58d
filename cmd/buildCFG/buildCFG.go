// Package buildCFG turns the loaded config.yaml into typed sections.
package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port       string
	Mode       string
	AdminToken string
}

type StorageConfig struct {
	Driver     string
	SQLitePath string
	Timeout    time.Duration
}

type StreamConfig struct {
	Driver string
	Buffer int
}

type RabbitConfig struct {
	Url      string
	Exchange string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GuestListConfig struct {
	ReconnectMaxElapsed time.Duration
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	sc := ServerConfig{
		Port:       cfg.GetString("server.port"),
		Mode:       cfg.GetString("server.mode"),
		AdminToken: cfg.GetString("server.admin_token"),
	}
	if sc.Port == "" {
		sc.Port = "8080"
		log.Warn().Msg("server.port is not set, using 8080")
	}
	if sc.Mode == "" {
		sc.Mode = "release"
	}
	if sc.AdminToken == "" {
		log.Warn().Msg("server.admin_token is empty, organizer routes are open")
	}
	return sc
}

func BuildStorageConfig(cfg *config.Config, log *zerolog.Logger) (StorageConfig, error) {
	sc := StorageConfig{
		Driver:     cfg.GetString("storage.driver"),
		SQLitePath: cfg.GetString("storage.sqlite_path"),
		Timeout:    cfg.GetDuration("storage.timeout"),
	}
	if sc.Driver == "" {
		sc.Driver = "postgres"
	}
	if sc.Timeout <= 0 {
		sc.Timeout = 3 * time.Second
	}
	switch sc.Driver {
	case "postgres":
	case "sqlite":
		if sc.SQLitePath == "" {
			return StorageConfig{}, fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return StorageConfig{}, fmt.Errorf("unknown storage.driver %q", sc.Driver)
	}
	log.Info().Str("driver", sc.Driver).Dur("timeout", sc.Timeout).Msg("storage config loaded")
	return sc, nil
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	master := cfg.GetString("postgres.master_dsn")
	if master == "" {
		return "", nil, nil, fmt.Errorf("postgres.master_dsn is required")
	}
	slaves := cfg.GetStringSlice("postgres.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("postgres.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("postgres.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("postgres.conn_max_lifetime"),
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}

	log.Info().
		Int("slaves", len(slaves)).
		Int("max_open_conns", opts.MaxOpenConns).
		Msg("postgres config loaded")
	return master, slaves, opts, nil
}

func BuildStreamConfig(cfg *config.Config) (StreamConfig, error) {
	sc := StreamConfig{
		Driver: cfg.GetString("stream.driver"),
		Buffer: cfg.GetInt("stream.buffer"),
	}
	if sc.Driver == "" {
		sc.Driver = "memory"
	}
	switch sc.Driver {
	case "memory", "rabbit", "redis":
	default:
		return StreamConfig{}, fmt.Errorf("unknown stream.driver %q", sc.Driver)
	}
	return sc, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
	}
	if rc.Url == "" {
		return RabbitConfig{}, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "rsvp.changes"
	}
	log.Info().Str("exchange", rc.Exchange).Msg("rabbit config loaded")
	return rc, nil
}

func BuildRedisConfig(cfg *config.Config) (RedisConfig, error) {
	rc := RedisConfig{
		Addr:     cfg.GetString("redis.addr"),
		Password: cfg.GetString("redis.password"),
		DB:       cfg.GetInt("redis.db"),
	}
	if rc.Addr == "" {
		return RedisConfig{}, fmt.Errorf("redis.addr is required")
	}
	return rc, nil
}

func BuildGuestListConfig(cfg *config.Config) GuestListConfig {
	return GuestListConfig{ReconnectMaxElapsed: cfg.GetDuration("guestlist.reconnect_max_elapsed")}
}
