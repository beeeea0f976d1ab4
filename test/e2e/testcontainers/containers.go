// Package testcontainers starts the backing services the collector e2e
// tests run against.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresOptions configures the PostgreSQL test container. Zero values fall
// back to postgres/postgres/collector_test.
type PostgresOptions struct {
	User     string
	Password string
	Database string
}

// StartPostgres starts a PostgreSQL container and returns it together with a
// gorm-compatible DSN.
func StartPostgres(ctx context.Context, opts *PostgresOptions) (testcontainers.Container, string, error) {
	if opts == nil {
		opts = &PostgresOptions{}
	}
	if opts.User == "" {
		opts.User = "postgres"
	}
	if opts.Password == "" {
		opts.Password = "postgres"
	}
	if opts.Database == "" {
		opts.Database = "collector_test"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     opts.User,
				"POSTGRES_PASSWORD": opts.Password,
				"POSTGRES_DB":       opts.Database,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, opts.User, opts.Password, opts.Database)
	return container, dsn, nil
}

// StartRabbitMQ starts a RabbitMQ container and returns it together with the
// amqp connection URL.
func StartRabbitMQ(ctx context.Context) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-management-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5672/tcp"),
				wait.ForLog("Server startup complete"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start rabbitmq container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5672")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}

	return container, fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port), nil
}

func endpoint(ctx context.Context, container testcontainers.Container, port nat.Port) (string, string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", "", fmt.Errorf("failed to get container port: %w", err)
	}

	return host, mapped.Port(), nil
}
