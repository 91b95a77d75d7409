// File: cmd/alertengine/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldops/storealert/internal/config"
	"github.com/fieldops/storealert/internal/engine"
	"github.com/fieldops/storealert/internal/metrics"
	"github.com/fieldops/storealert/internal/server"
	"github.com/fieldops/storealert/internal/storage"
	"github.com/fieldops/storealert/internal/sweep"
	"github.com/fieldops/storealert/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config  *config.Config
	logger  *logrus.Logger
	storage storage.Storage
	metrics *metrics.Manager
	engine  *engine.Engine
	sweeper *sweep.Sweeper
	server  *server.HTTPServer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.metrics = metrics.NewManager()

	if err := app.initializeEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := app.initializeSweeper(); err != nil {
		return fmt.Errorf("failed to initialize sweeper: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}

	if err := storage.ValidateStorageConfig(storageCfg); err != nil {
		return err
	}

	var err error
	app.storage, err = storage.NewStorage(storageCfg)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := app.storage.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeEngine initializes the ingestion engine
func (app *Application) initializeEngine() error {
	app.logger.Info("Initializing ingestion engine")

	location, err := time.LoadLocation(app.config.Engine.Timezone)
	if err != nil {
		return fmt.Errorf("invalid engine timezone %q: %w", app.config.Engine.Timezone, err)
	}

	app.engine = engine.NewEngine(app.storage, &engine.EngineConfig{
		Location: location,
	})
	app.engine.SetMetricsManager(app.metrics)

	app.logger.Info("Ingestion engine initialized successfully")
	return nil
}

// initializeSweeper initializes the reminder sweep scheduler
func (app *Application) initializeSweeper() error {
	app.logger.Info("Initializing reminder sweep scheduler")

	location, err := time.LoadLocation(app.config.Sweep.Timezone)
	if err != nil {
		return fmt.Errorf("invalid sweep timezone %q: %w", app.config.Sweep.Timezone, err)
	}

	app.sweeper, err = sweep.NewSweeper(app.engine, &sweep.SweeperConfig{
		Enabled:  app.config.Sweep.Enabled,
		RunAt:    app.config.Sweep.RunAt,
		Location: location,
	})
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}

	app.logger.Info("Reminder sweep scheduler initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, app.engine, app.sweeper, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting store alert engine")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := app.sweeper.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start sweep scheduler: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage_type":   app.config.Storage.Type,
		"sweep_enabled":  app.config.Sweep.Enabled,
	}).Info("Store alert engine started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping store alert engine")

	app.cancel()

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.sweeper != nil {
		if err := app.sweeper.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop sweep scheduler")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Store alert engine stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "alertengine",
	Short:   "Store operations alert engine",
	Long:    `Deduplicating incident and notification engine for store operations: raw signals become accumulated incident records with a reminder and manager-escalation schedule.`,
	Version: AppVersion,
	RunE:    runEngine,
}

// runEngine is the main command to run the alert engine
func runEngine(cmd *cobra.Command, args []string) error {
	// Load configuration
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	// Stop application
	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Store Alert Engine %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Sweep: enabled=%t run_at=%s tz=%s\n", cfg.Sweep.Enabled, cfg.Sweep.RunAt, cfg.Sweep.Timezone)

		return nil
	},
}

// sweepCmd runs a single reminder sweep pass and exits
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reminder sweep pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// Never start the scheduler for a one-shot pass.
		cfg.Sweep.Enabled = false

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		result, err := app.sweeper.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("Sweep completed: examined=%d reminders=%d escalations=%d\n",
			result.GroupsExamined, result.RemindersSent, result.EscalationsSent)
		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sweepCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
