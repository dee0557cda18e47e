package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dehqonjon/internal/api"
	"dehqonjon/internal/chatstore"
	"dehqonjon/internal/config"
	"dehqonjon/internal/locale"
	"dehqonjon/internal/logging"
	"dehqonjon/internal/remote"
	"dehqonjon/internal/service/ai"
	"dehqonjon/internal/service/assistant"
	"dehqonjon/internal/storage"
	"dehqonjon/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("DEHQONJON_CONFIG"))
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)
	logger.WithField("storage", cfg.BasicConfig.Storage).Info("starting dehqonjon chat core")

	kv, kvCloser, err := storage.OpenKV(cfg)
	if err != nil {
		logger.Fatalf("open storage: %v", err)
	}
	defer kvCloser.Close()

	phrases := locale.For(cfg.BasicConfig.Language)
	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.Sync.MinWorkers,
		MaxWorkers:  cfg.Sync.MaxWorkers,
		QueueSize:   cfg.Sync.QueueSize,
		IdleTimeout: time.Duration(cfg.Sync.WorkerIdleTimeoutSeconds) * time.Second,
		JobTimeout:  time.Duration(cfg.Sync.JobTimeoutSeconds) * time.Second,
	}, logger)

	store := chatstore.New(chatstore.Options{
		KV:          kv,
		Remote:      remote.NewClient(cfg.Remote.BaseURL, time.Duration(cfg.Remote.TimeoutSeconds)*time.Second),
		Runner:      dispatcher,
		Logger:      logger,
		Placeholder: phrases.NewChat,
	})
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 10*time.Second)
	err = store.Restore(restoreCtx)
	cancelRestore()
	if err != nil {
		logger.Fatalf("restore chat sessions: %v", err)
	}

	// the consultant still records questions without an advisor
	var advisor assistant.Advisor
	adv, err := ai.NewAdvisor(context.Background(), cfg, logger)
	switch {
	case err == nil:
		advisor = adv
	case errors.Is(err, ai.ErrNotConfigured):
		logger.WithError(err).Warn("ai advisor disabled")
	default:
		logger.Fatalf("init ai advisor: %v", err)
	}
	consultant := assistant.NewConsultant(store, advisor, phrases, logger)

	handlers := api.NewHandler(store, consultant, logger)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	// drains queued remote calls before storage closes
	store.Close()
}
