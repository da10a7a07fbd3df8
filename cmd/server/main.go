package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"route-tracking/internal/config"
	"route-tracking/internal/database"
	"route-tracking/internal/modules/routes"
	"route-tracking/internal/modules/tracking"
	"route-tracking/internal/observability"
	"route-tracking/internal/transport/kafka"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.Fatalf("could not load config: %v", err)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("port", cfg.ServerPort).Info("starting route-tracking")

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database init failed: %v", err)
	}
	defer pool.Close()

	var feed tracking.Feed
	if cfg.RedisAddr != "" {
		rdb, err := tracking.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis init failed: %v", err)
		}
		defer rdb.Close()
		feed = tracking.NewRedisFeed(rdb, logger)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis live feed")
	} else {
		feed = tracking.NewMemoryFeed()
		logger.Info("using in-process live feed")
	}

	routeService := routes.NewService(routes.NewRepository(pool), routes.Options{
		MinWaypointSpacingMeters: cfg.MinWaypointSpacingMeters,
	}, logger)
	trackingService := tracking.NewService(tracking.NewRepository(pool), routeService, feed, tracking.Options{
		MinTrackMoveMeters: cfg.MinTrackMoveMeters,
	}, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
			} else {
				entry.Info("request")
			}
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "database unreachable")
		}
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	routes.NewHandler(routeService, logger).RegisterRoutes(api)
	trackingHandler := tracking.NewHandler(trackingService, logger)
	trackingHandler.RegisterRoutes(api)
	// event streams never go idle, so Shutdown would wait out its whole grace period
	e.Server.RegisterOnShutdown(trackingHandler.CloseStreams)

	var workers sync.WaitGroup

	if brokers := kafka.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		consumer, err := kafka.NewConsumer(kafka.Config{
			Brokers: brokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, trackingService, logger)
		if err != nil {
			logger.Fatalf("kafka init failed: %v", err)
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.WithError(err).Error("kafka consumer stopped")
				stop()
			}
		}()
	}

	go func() {
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}
	// the consumer writes through the pool, which closes on return
	workers.Wait()
	logger.Info("stopped")
}
