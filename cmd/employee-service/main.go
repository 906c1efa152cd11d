package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"usersync/internal/employee"
	"usersync/pkg/bootstrap"
	"usersync/pkg/config"
	"usersync/pkg/health"
	"usersync/pkg/logging"
	"usersync/pkg/metrics"
	"usersync/pkg/postgres"
	"usersync/pkg/rabbitmq"
)

const serviceName = "employee-service"

// @title           Employee Service API
// @version         1.0
// @description     Read API over employee records created from user.created events.
// @host            localhost:8081
// @BasePath        /
// @schemes         http
func main() {
	cfg, cfgErr := config.LoadForService(serviceName)

	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfgErr != nil {
		log.Fatal("invalid configuration", zap.Error(cfgErr))
	}
	ackMode, err := rabbitmq.ParseAckMode(cfg.Consumer.AckMode)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log.Info("starting employee-service", zap.String("ack_mode", ackMode.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	migrator, err := postgres.NewMigrator(db, serviceName, log)
	if err != nil {
		log.Fatal("failed to set up migrations", zap.Error(err))
	}
	boot := bootstrap.New(migrator, bootstrap.Config{
		MaxRetries: cfg.Bootstrap.MaxRetries,
		RetryDelay: cfg.Bootstrap.RetryDelay,
	}, log)
	if !boot.Start(ctx) {
		if cfg.Bootstrap.Required || ctx.Err() != nil {
			log.Fatal("database not ready, exiting")
		}
		log.Warn("database not ready, continuing in degraded mode")
	}

	conn, err := rabbitmq.Connect(rabbitmq.ConnectionConfig{
		Host:             cfg.RabbitMQ.Host,
		Port:             cfg.RabbitMQ.Port,
		Username:         cfg.RabbitMQ.Username,
		Password:         cfg.RabbitMQ.Password,
		VHost:            cfg.RabbitMQ.VHost,
		RecoveryInterval: cfg.RabbitMQ.RecoveryInterval,
		ConnectTimeout:   cfg.RabbitMQ.ConnectTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	repo := employee.NewSQLRepository(db)
	handler := employee.NewConsumer(repo, log)
	consumer := rabbitmq.NewConsumer(conn, rabbitmq.ConsumerConfig{
		Queue: rabbitmq.QueueConfig{
			Name:            cfg.RabbitMQ.QueueName,
			DeadLetterQueue: cfg.RabbitMQ.DeadLetterQueue,
		},
		ConsumerName: cfg.Consumer.Name,
		AckMode:      ackMode,
		Prefetch:     cfg.Consumer.Prefetch,
		RestartDelay: cfg.Consumer.RestartDelay,
		RequeueDelay: cfg.Consumer.RequeueDelay,
	}, handler.HandleMessage, log)

	router := employee.NewRouter(employee.NewHandler(repo, log), map[string]health.Check{
		"broker":   health.Broker(conn),
		"database": health.Database(db),
		"consumer": func(context.Context) error {
			if s := consumer.State(); s != rabbitmq.StateConsuming {
				return errors.New(s.String())
			}
			return nil
		},
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("employee-service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("employee-service exited gracefully")
}
