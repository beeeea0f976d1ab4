package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
	"github.com/qkb2/iot-data-collector-server/pkg/mq"
	"github.com/qkb2/iot-data-collector-server/pkg/simulator"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the device traffic simulator",
	Long: `Run the device simulator that:
- Registers a fleet of synthetic devices with the collector
- Sends fixed-point telemetry batches on an interval
- Sends over HTTP by default, or RabbitMQ when a URL is given`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	// Simulator-specific flags
	simulatorCmd.Flags().String("url", "http://localhost:8080", "collector base URL")
	simulatorCmd.Flags().Duration("interval", time.Minute, "data send interval")
	simulatorCmd.Flags().Bool("once", false, "register, send one round, and exit")
	simulatorCmd.Flags().Int("random-devices", 0, "add N randomly generated devices to the fleet")
	simulatorCmd.Flags().String("rabbitmq-url", "", "publish telemetry via RabbitMQ instead of HTTP")
	simulatorCmd.Flags().String("queue-name", "sensor-data", "RabbitMQ queue name for ingestion batches")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.url", simulatorCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.once", simulatorCmd.Flags().Lookup("once"))
	_ = viper.BindPFlag("simulator.random_devices", simulatorCmd.Flags().Lookup("random-devices"))
	_ = viper.BindPFlag("simulator.rabbitmq.url", simulatorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("simulator.rabbitmq.queue_name", simulatorCmd.Flags().Lookup("queue-name"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting device simulator")

	fleet := simulator.DefaultFleet()
	if n := viper.GetInt("simulator.random_devices"); n > 0 {
		fleet = append(fleet, simulator.RandomFleet(n)...)
	}

	cfg := &simulator.Config{
		Logger:  logger,
		Fleet:   fleet,
		BaseURL: viper.GetString("simulator.url"),
		Metrics: metrics.NewSimulatorMetrics("iot_collector"),
	}

	if mqURL := viper.GetString("simulator.rabbitmq.url"); mqURL != "" {
		client := mq.New(viper.GetString("simulator.rabbitmq.queue_name"), mqURL, logger)
		client.SetMetrics(metrics.NewMQMetrics("iot_collector"))
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close mq client", "error", err)
			}
		}()
		cfg.Publisher = client

		// Give the MQ client a moment to establish its first connection.
		time.Sleep(2 * time.Second)
	}

	sim, err := simulator.New(cfg)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("simulator.once") {
		if err := sim.RegisterAll(ctx); err != nil {
			return err
		}
		return sim.RunOnce(ctx)
	}

	return sim.Run(ctx, viper.GetDuration("simulator.interval"))
}
