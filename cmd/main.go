// Package main is the entry point for the messages gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/msgrelay/messages-gateway/internal/config"
	"github.com/msgrelay/messages-gateway/internal/gateway"
	"github.com/msgrelay/messages-gateway/internal/monitoring"
)

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "messages-gateway", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	// Local .env can override.
	_ = godotenv.Load()
}

// maskKey keeps a recognizable tail of a credential for log output.
func maskKey(key string) string {
	if key == "" {
		return "(passthrough)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func main() {
	loadEnvFiles()

	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	monitoring.SetupLogger(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
	})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	tracker, err := monitoring.NewTracker(monitoring.TrackerConfig{
		Enabled:     cfg.Monitoring.RequestLogEnabled,
		LogPath:     cfg.Monitoring.RequestLogPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize request log")
	}

	opts := []gateway.Option{gateway.WithRequestLog(tracker)}
	if cfg.Monitoring.EventSinkURL != "" {
		opts = append(opts, gateway.WithEventSink(monitoring.NewHTTPEventSink(cfg.Monitoring.EventSinkURL)))
	}

	gw, err := gateway.New(cfg, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gateway")
	}

	log.Info().
		Str("version", gateway.Version).
		Int("port", cfg.Server.Port).
		Str("upstream", cfg.Upstream.Endpoint).
		Str("api_key", maskKey(cfg.Upstream.APIKey)).
		Dur("upstream_timeout", cfg.Upstream.Timeout).
		Msg("messages gateway starting")

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway error")
	}

	// In-flight requests have drained; flush the request log last.
	tracker.Close()
	log.Info().Msg("messages gateway stopped")
}
