package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kgchat/backend/internal/adapter"
	"kgchat/backend/internal/agent"
	"kgchat/backend/internal/api"
	"kgchat/backend/internal/constants"
	"kgchat/backend/internal/kg"
	"kgchat/backend/internal/store"
	"kgchat/backend/pkg/config"
	"kgchat/backend/pkg/logger"
)

func main() {
	// Load configuration first so the logger can honor ENV and LOG_LEVEL
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
		zap.String("extractor", cfg.Extractor),
	)

	ctx := context.Background()
	sessionStore, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open session store", zap.Error(err))
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			log.Error("Failed to close session store", zap.Error(err))
		}
	}()

	llmAdapter := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelID)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, sessionStore, llmAdapter, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

var _ agent.StreamingChatModel = (*adapter.LLMAdapter)(nil)

// newRouter wires the knowledge-graph engine and session manager behind the HTTP API
func newRouter(cfg *config.Config, s store.Store, llm agent.ChatModel, log *zap.Logger) *gin.Engine {
	engine := kg.NewEngine(
		kg.WithExtractor(kg.NewExtractor(cfg.Extractor)),
		kg.WithRelationOrder(kg.ParseRelationOrder(cfg.RelationOrder)),
		kg.WithCliqueWarning(cfg.CliqueWarnPairs),
	)

	manager := agent.NewManager(s, engine, llm,
		agent.WithDefaultModel(cfg.ModelID),
		agent.WithContextLimit(cfg.ContextLimit),
	)
	if stats, err := manager.Stats(context.Background()); err != nil {
		log.Warn("Failed to count stored sessions", zap.Error(err))
	} else {
		log.Info("Sessions loaded", zap.Int("count", stats.TotalSessions))
	}

	return api.NewRouter(manager, api.Options{
		MetricsEnabled: cfg.MetricsEnabled,
		Logger:         log,
	})
}
