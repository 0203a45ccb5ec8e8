package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/api"
	"github.com/juicebox-server/juicebox-service/internal/auth"
	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/events"
	"github.com/juicebox-server/juicebox-service/internal/reconciler"
	"github.com/juicebox-server/juicebox-service/internal/session"
	"github.com/juicebox-server/juicebox-service/internal/storage"
	"github.com/juicebox-server/juicebox-service/internal/udp"
)

const defaultConfigPath = "config/juicebox-service.yml"

func main() {
	// Command line flags
	var (
		configFile   string
		current      int
		scheduleSpec string
		logFile      string
		validateOnly bool
		showConfig   bool
		hashPassword string
	)
	flag.StringVar(&configFile, "config", defaultConfigPath, "Configuration file path")
	flag.IntVar(&current, "i", config.DefaultCurrentAmps, "Maximum charging current in amps")
	flag.IntVar(&current, "current", config.DefaultCurrentAmps, "Maximum charging current in amps")
	flag.StringVar(&scheduleSpec, "s", "", "Charging schedule hh:mm-hh:mm (default always on)")
	flag.StringVar(&scheduleSpec, "schedule", "", "Charging schedule hh:mm-hh:mm (default always on)")
	flag.StringVar(&logFile, "l", "", "Append events to this CSV file")
	flag.StringVar(&logFile, "log", "", "Append events to this CSV file")
	flag.BoolVar(&validateOnly, "validate", false, "Validate the configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print the configuration and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of a password for api.jwt.admin_password_hash and exit")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if hashPassword != "" {
		hash, err := auth.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration; the default file is optional
	cfg, err := config.Load(configFile, configFile == defaultConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", configFile).Msg("Failed to load configuration")
	}

	// Flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i", "current":
			cfg.Charging.MaxCurrent = current
		case "s", "schedule":
			cfg.Charging.Schedule = scheduleSpec
		case "l", "log":
			cfg.Log.File = logFile
		}
	})

	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if showConfig || validateOnly {
		cfg.PrintConfigSummary()
		if validateOnly {
			fmt.Println("Configuration OK")
		}
		return
	}

	log.Info().
		Str("udp", cfg.Service.UDPBind).
		Int("max_current", cfg.Charging.MaxCurrent).
		Str("schedule", cfg.Charging.Window.String()).
		Msg("JuiceBox service starting")

	sinks, store := openSinks(cfg)
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event sinks")
		}
		if store != nil {
			store.Close()
		}
	}()

	listener, err := udp.Listen(cfg.Service.UDPBind, cfg.Service.ReadBuffer, cfg.Session.InboxSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind UDP listener")
	}

	rec := reconciler.New(cfg.Charging, sinks, reconciler.WithTickInterval(cfg.Session.TickInterval))
	manager := session.NewManager(listener, rec, sinks, cfg.Session)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("UDP listener stopped")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := manager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Session manager stopped")
			cancel()
		}
	}()

	// Start REST API server
	var apiServer *api.RESTServer
	if cfg.APIEnabled() {
		var apiStore storage.Store
		if store != nil {
			apiStore = store
		}
		apiServer = api.NewRESTServer(cfg, manager, rec, apiStore)
		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
				cancel()
			}
		}()
	}

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down...")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	}

	cancel()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("REST API shutdown")
		}
		shutdownCancel()
	}

	wg.Wait()
	rec.Wait()
	log.Info().Msg("JuiceBox service stopped")
}

// setupLogging applies level and format from the configuration
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// openSinks connects every configured event sink. A configured sink that
// cannot be reached is fatal.
func openSinks(cfg *config.Config) (*events.Fanout, *storage.PostgresStore) {
	sinks := events.NewFanout(events.NewLogSink(log.Logger))
	sinks.SetTimeout(cfg.Log.SinkTimeout)

	if cfg.Log.File != "" {
		fileSink, err := events.OpenFileSink(cfg.Log.File)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Log.File).Msg("Failed to open event log")
		}
		sinks.Add(fileSink)
	}

	var store *storage.PostgresStore
	if cfg.Database.DSN != "" {
		var err error
		store, err = storage.NewPostgresStore(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = store.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
		sinks.Add(events.NewStoreSink(store))
		log.Info().Msg("Connected to database")
	}

	if cfg.NATS.URL != "" {
		natsSink, err := events.ConnectNATS(cfg.NATS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		sinks.Add(natsSink)
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("Publishing events to NATS")
	}

	if cfg.MQTT.Broker != "" {
		mqttSink, err := events.ConnectMQTT(cfg.MQTT)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
		}
		sinks.Add(mqttSink)
	}

	if cfg.ClickHouse.Addr != "" {
		ch, err := storage.NewClickHouseStore(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		sinks.Add(events.NewTelemetrySink(ch))
	}

	return sinks, store
}
