package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"eval-orchestrator/internal/adapter/eval_http"
	"eval-orchestrator/internal/adapter/repository"
	"eval-orchestrator/internal/di"
	"eval-orchestrator/internal/infra"
	"eval-orchestrator/internal/infra/config"
	"eval-orchestrator/internal/infra/logger"
	"eval-orchestrator/internal/infra/otelinit"
)

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize Logger
	log := logger.NewWithOTel(cfg.OTelEnabled)
	slog.SetDefault(log)

	// 3. Initialize OpenTelemetry (traces and logs; metrics are Prometheus)
	if cfg.OTelEnabled {
		shutdown, err := otelinit.InitProvider(context.Background(), otelinit.ConfigFromEnv())
		if err != nil {
			log.Warn("otel_init_failed", slog.Any("error", err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Warn("otel_shutdown_failed", slog.Any("error", err))
				}
			}()
		}
	}

	// 4. Optional Postgres archive
	var pool *pgxpool.Pool
	if cfg.DB.Enabled {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		var err error
		pool, err = infra.NewPostgresDB(context.Background(), dsn)
		if err != nil {
			log.Error("failed to connect to db", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	// 5. Wire components
	components := di.NewApplicationComponents(cfg, pool, log)

	// 6. Start snapshot worker
	if components.Worker != nil {
		components.Worker.Start()
		defer components.Worker.Stop()
	}

	// 7. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		// Propagate the request ID into the request context so
		// context-aware log lines carry it.
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), rid)))
			return next(c)
		}
	})
	if cfg.OTelEnabled {
		e.Use(otelecho.Middleware("eval-orchestrator"))
	}

	// 8. Register Handlers
	var handlerOpts []eval_http.HandlerOption
	if pool != nil {
		handlerOpts = append(handlerOpts, eval_http.WithEmbeddingArchive(repository.NewEmbeddingArchive(pool)))
	}
	handler := eval_http.NewHandler(components.Loop, components.Fallback, components.Store, handlerOpts...)
	handler.RegisterRoutes(e, components.Registry)

	// 9. Health Checks
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if pool != nil {
			if err := pool.Ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// 10. Start Server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("Starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
