package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
	"github.com/qkb2/iot-data-collector-server/pkg/mq"
)

// Server wires the collector together: database, device registry, sensor
// catalog, ingestion pipeline, HTTP API, and the optional AMQP ingestion
// consumer.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	db         *gorm.DB
	registry   *DeviceRegistry
	catalog    *SensorCatalog
	pipeline   *IngestionPipeline
	admin      *AdminQueries
	consumer   *IngestConsumer
	httpServer *http.Server
	metrics    *metrics.CollectorMetrics
	ownsDB     bool
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// DB optionally supplies an existing handle; when nil the server
	// connects using the DB* fields below and owns the connection.
	DB *gorm.DB

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// HTTP configuration
	HTTPPort int

	// RabbitMQ configuration; leave RabbitMQURL empty to disable the AMQP
	// ingestion path.
	RabbitMQURL string
	QueueName   string

	// Metrics and MQMetrics are optional.
	Metrics   *metrics.CollectorMetrics
	MQMetrics *metrics.MQMetrics
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.DB == nil {
		if cfg.DBHost == "" {
			return nil, errors.New("database host cannot be empty")
		}
		if cfg.DBPort <= 0 {
			return nil, errors.New("database port must be positive")
		}
		if cfg.DBUser == "" {
			return nil, errors.New("database user cannot be empty")
		}
		if cfg.DBName == "" {
			return nil, errors.New("database name cannot be empty")
		}
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty when rabbitmq is enabled")
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// initComponents builds the core components over the given handle.
func (s *Server) initComponents(db *gorm.DB) error {
	s.db = db

	registry, err := NewDeviceRegistry(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create device registry: %w", err)
	}
	s.registry = registry

	catalog, err := NewSensorCatalog(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create sensor catalog: %w", err)
	}
	s.catalog = catalog

	pipeline, err := NewIngestionPipeline(db, registry, catalog, s.logger, s.metrics)
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	s.pipeline = pipeline

	admin, err := NewAdminQueries(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create admin queries: %w", err)
	}
	s.admin = admin

	return nil
}

// Handler wires the components against the configured DB handle and returns
// the HTTP API. Used directly by tests; Run calls it as part of startup.
func (s *Server) Handler() (http.Handler, error) {
	if s.registry == nil {
		if s.config.DB == nil {
			return nil, errors.New("no database handle configured")
		}
		if err := s.initComponents(s.config.DB); err != nil {
			return nil, err
		}
	}
	return s.setupRoutes(), nil
}

// Run starts the collector server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting collector server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	db := s.config.DB
	if db == nil {
		var err error
		db, err = NewDB(&DBConfig{
			Host:     s.config.DBHost,
			Port:     s.config.DBPort,
			User:     s.config.DBUser,
			Password: s.config.DBPassword,
			DBName:   s.config.DBName,
			SSLMode:  s.config.DBSSLMode,
			Logger:   s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		s.ownsDB = true
	}

	if err := s.initComponents(db); err != nil {
		return err
	}

	s.logger.Info("collector components initialized")

	if s.config.RabbitMQURL != "" {
		mqClient := mq.New(s.config.QueueName, s.config.RabbitMQURL, s.logger)
		if s.config.MQMetrics != nil {
			mqClient.SetMetrics(s.config.MQMetrics)
		}

		consumer, err := NewIngestConsumer(&IngestConsumerConfig{
			Logger:    s.logger,
			Pipeline:  s.pipeline,
			MQClient:  mqClient,
			QueueName: s.config.QueueName,
			Metrics:   s.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize ingest consumer: %w", err)
		}
		s.consumer = consumer

		// Give the MQ client a moment to establish its first connection.
		time.Sleep(2 * time.Second)

		if err := s.consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ingest consumer: %w", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("collector server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down collector server")

	var shutdownErr error

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		s.logger.Info("stopping HTTP server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP shutdown error: %w", err)
		}
	}

	if s.consumer != nil {
		s.logger.Info("stopping ingest consumer")
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop ingest consumer", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; consumer shutdown error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("consumer shutdown error: %w", err)
			}
		}
	}

	if s.ownsDB && s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("collector server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("collector server shutdown completed successfully")
	return nil
}
