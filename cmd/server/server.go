package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studybuddy/config"
	"studybuddy/db"
	"studybuddy/handlers"
	"studybuddy/logger"
	"studybuddy/metrics"
	"studybuddy/services/agent"
	"studybuddy/services/llm"
	"studybuddy/services/mcpsource"
	"studybuddy/services/reminder"
	"studybuddy/tracing"

	"github.com/gorilla/mux"
)

const serviceName = "studybuddy"

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(serviceName, cfg.TracingEndpoint)
		if err != nil {
			logger.Log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
				logger.Log.Errorf("Failed to flush traces: %v", err)
			}
		}()
	}

	opener, err := newOpener(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to initialize storage: %v", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to initialize generation engine: %v", err)
	}

	var sources []agent.ToolSource
	for _, server := range cfg.MCPServers {
		source, err := mcpsource.NewSource(ctx, server.Name, server.URL)
		if err != nil {
			logger.Log.Warnf("Skipping MCP server %s: %v", server.Name, err)
			continue
		}
		defer source.Close()
		sources = append(sources, source)
	}

	systemPrompt := agent.AgentSystemPrompt
	var scheduler *reminder.Scheduler
	if cfg.RemindersEnabled {
		scheduler = reminder.NewScheduler()
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		systemPrompt += agent.ReminderPromptAddendum
	}

	manager := agent.NewManager(agent.ManagerConfig{
		Opener:            opener,
		Service:           agent.NewService(engine, systemPrompt, cfg.MaxSteps, cfg.LLMMaxTokens),
		Sources:           sources,
		Scheduler:         scheduler,
		ChatRatePerMinute: cfg.ChatRatePerMinute,
	})
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Log.Errorf("Failed to close agent instances: %v", err)
		}
	}()

	router := mux.NewRouter()

	router.Use(corsMiddleware)
	router.Use(jsonMiddleware)
	router.Use(metrics.Middleware)
	if cfg.TracingEnabled {
		router.Use(tracing.Middleware)
	}

	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("OPTIONS")

	handlers.NewAgentHandler(manager).RegisterRoutes(router)
	handlers.NewStudyHandler(manager).RegisterRoutes(router)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)

	// No write timeout: chat responses stream for the length of a turn.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Log.Infof("Server starting on port %s (storage: %s, engine: %s)", cfg.Port, cfg.StorageDriver, cfg.LLMProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Server shutdown failed: %v", err)
	}
}

func newOpener(cfg *config.Config) (db.Opener, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		return db.NewPostgresOpener(cfg.DatabaseURL)
	default:
		return db.NewSQLiteOpener(cfg.DataDir)
	}
}

func newEngine(cfg *config.Config) (llm.Engine, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.LLMModel)
	default:
		return llm.NewAnthropicEngine(cfg.AnthropicAPIKey, cfg.LLMModel), nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
