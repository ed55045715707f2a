package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/ecozmo/robobridge/internal/adapter/actor"
	"github.com/ecozmo/robobridge/internal/config"
	coreactor "github.com/ecozmo/robobridge/internal/core/actor"
	"github.com/ecozmo/robobridge/internal/server"
	"github.com/ecozmo/robobridge/internal/util/actorutil"
	"github.com/ecozmo/robobridge/pkg/ecovacs"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return coreactor.NewBridgeActor(*cfg, ecovacsActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "bridge")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias bare env vars => ROBOBRIDGE_ prefixed ones
	aliases := map[string]string{
		"PORT":              "ROBOBRIDGE_PORT",
		"ECOVACS_EMAIL":     "ROBOBRIDGE_ECOVACS_EMAIL",
		"ECOVACS_PASSWORD":  "ROBOBRIDGE_ECOVACS_PASSWORD",
		"ECOVACS_COUNTRY":   "ROBOBRIDGE_ECOVACS_COUNTRY",
		"ECOVACS_CONTINENT": "ROBOBRIDGE_ECOVACS_CONTINENT",
	}
	for from, to := range aliases {
		if value := os.Getenv(from); value != "" && os.Getenv(to) == "" {
			os.Setenv(to, value)
		}
	}

	setConfigDefaults()

	viper.SetEnvPrefix("robobridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// credentials are mandatory
	if cfg.Ecovacs.Email == "" {
		return nil, errors.New("config param ecovacs.email is required")
	}
	if cfg.Ecovacs.Password == "" {
		return nil, errors.New("config param ecovacs.password is required")
	}

	// check and fix region codes
	country, err := config.CheckCountryCode(cfg.Ecovacs.Country)
	if err != nil {
		return nil, err
	}
	cfg.Ecovacs.Country = country

	continent, err := config.CheckContinentCode(cfg.Ecovacs.Continent)
	if err != nil {
		return nil, err
	}
	cfg.Ecovacs.Continent = continent

	// check bounds
	if cfg.CommandTimeoutMillis < 1000 {
		return nil, errors.New("config param command_timeout_millis should be >= 1000")
	}
	if cfg.InitTimeoutMillis < 5000 {
		return nil, errors.New("config param init_timeout_millis should be >= 5000")
	}
	if cfg.StatusRefreshMillis != 0 && cfg.StatusRefreshMillis < 10000 {
		return nil, errors.New("config param status_refresh_millis should be 0 (disabled) or >= 10000")
	}

	return &cfg, nil
}

func ecovacsActorProvider(cfg *config.Config, logger *zap.Logger) coreactor.EcovacsActorProvider {
	email := cfg.Ecovacs.Email
	password := cfg.Ecovacs.Password
	commandTimeout := time.Duration(cfg.CommandTimeoutMillis) * time.Millisecond
	initTimeout := time.Duration(cfg.InitTimeoutMillis) * time.Millisecond

	return func(es *eventstream.EventStream) *adactor.EcovacsActor {
		return adactor.NewEcovacsActor(func(country, continent string) ecovacs.Client {
			return ecovacs.NewPortalClient(email, password, country, continent)
		}, es, commandTimeout, initTimeout, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	// empty defaults so Unmarshal sees the keys and AutomaticEnv applies
	viper.SetDefault("ecovacs.email", "")
	viper.SetDefault("ecovacs.password", "")
	viper.SetDefault("ecovacs.country", "us")
	viper.SetDefault("ecovacs.continent", "na")
	viper.SetDefault("status_refresh_millis", 300000)
	viper.SetDefault("command_timeout_millis", 10000)
	viper.SetDefault("init_timeout_millis", 30000)
	viper.SetDefault("port", 8090)
}

func safePrintConfig(cfg config.Config) {
	cfg.Ecovacs.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
