package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qkb2/iot-data-collector-server/internal/collector"
	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the collector server",
	Long: `Run the collector server that:
- Accepts device registrations and gates them behind operator approval
- Ingests fixed-point sensor batches over HTTP and optionally RabbitMQ
- Auto-provisions sensors and decodes readings at ingestion time
- Serves the admin API and Prometheus metrics`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "iot", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().Int("http-port", 8080, "HTTP API port")
	serverCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables the AMQP ingestion path)")
	serverCmd.Flags().String("queue-name", "sensor-data", "RabbitMQ queue name for ingestion batches")

	// Bind flags to viper
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.rabbitmq.url", serverCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("server.rabbitmq.queue_name", serverCmd.Flags().Lookup("queue-name"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting collector service")

	config := &collector.ServerConfig{
		Logger:      logger,
		DBHost:      viper.GetString("server.db.host"),
		DBPort:      viper.GetInt("server.db.port"),
		DBUser:      viper.GetString("server.db.user"),
		DBPassword:  viper.GetString("server.db.password"),
		DBName:      viper.GetString("server.db.name"),
		DBSSLMode:   viper.GetString("server.db.sslmode"),
		HTTPPort:    viper.GetInt("server.http.port"),
		RabbitMQURL: viper.GetString("server.rabbitmq.url"),
		QueueName:   viper.GetString("server.rabbitmq.queue_name"),
		Metrics:     metrics.NewCollectorMetrics("iot_collector"),
	}
	if config.RabbitMQURL != "" {
		config.MQMetrics = metrics.NewMQMetrics("iot_collector")
	}

	server, err := collector.NewServer(config)
	if err != nil {
		logger.Error("failed to create collector server", "error", err)
		return err
	}

	logger.Info("collector server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"http_port", config.HTTPPort,
		"rabbitmq_url", config.RabbitMQURL,
		"queue_name", config.QueueName,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("collector server error", "error", err)
		return err
	}

	logger.Info("collector server stopped")
	return nil
}
