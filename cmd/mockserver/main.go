package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/taxipool/internal/config"
	"github.com/example/taxipool/internal/logging"
	"github.com/example/taxipool/internal/mockapi"
	"github.com/example/taxipool/internal/settlement"
)

func main() {
	cfg, err := config.LoadMockServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var gateway settlement.Gateway
	if os.Getenv("STRIPE_API_KEY") != "" {
		gateway = settlement.NewStripeGateway()
		logger.Info("using stripe for fare holds")
	} else {
		gateway = settlement.NewOfflineGateway()
	}
	settle := settlement.NewService(gateway, logger)

	api := mockapi.NewServer(mockapi.NewState(cfg.SeatCount), settle, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("mock backend listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	api.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
