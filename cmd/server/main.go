package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quartermill/be-pr-workflow/internal/client"
	"github.com/quartermill/be-pr-workflow/internal/config"
	"github.com/quartermill/be-pr-workflow/internal/database"
	"github.com/quartermill/be-pr-workflow/internal/handler"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/metrics"
	"github.com/quartermill/be-pr-workflow/internal/middleware"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Purchase Request Workflow Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is optional; the workflow engine runs without notifications.
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	requestRepo := repository.NewRequestRepository(db)
	stageRepo := repository.NewStageRepository(db)
	ruleRepo := repository.NewRoutingRuleRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	commentRepo := repository.NewCommentRepository(db)

	departmentClient := client.NewDepartmentClient(cfg.Clients.DepartmentsURL)
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	requestService := service.NewRequestService(requestRepo, stageRepo, historyRepo, log)
	transitionService := service.NewTransitionService(requestRepo, stageRepo, ruleRepo, departmentClient, notifier, m, log)
	splitService := service.NewSplitService(requestRepo, stageRepo, notifier, m, log)
	stageService := service.NewStageService(stageRepo, historyRepo, log)
	ruleService := service.NewRuleService(ruleRepo, stageRepo, log)
	commentService := service.NewCommentService(commentRepo, requestRepo, log)

	httpHandler := handler.NewHTTPHandler(
		requestService, transitionService, splitService,
		stageService, ruleService, commentService, log)

	router := mux.NewRouter()
	httpHandler.Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Use(middleware.Metrics(m))

	var h http.Handler = router
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
