package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openbourse/bourse/api/handlers"
	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/config"
	"github.com/openbourse/bourse/internal/engine"
	"github.com/openbourse/bourse/internal/escrow"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/orderbook"
	"github.com/openbourse/bourse/internal/server"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	st, err := store.Open(cfg.Storage.Path, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open record store", zap.Error(err))
	}
	defer st.Close()

	vaults := vault.NewManager(zapLogger)

	exchangeSvc, err := exchange.NewService(zapLogger, st)
	if err != nil {
		zapLogger.Fatal("Failed to create exchange service", zap.Error(err))
	}
	err = exchangeSvc.Initialize(cfg.AuthorityID(), cfg.FeeCollectorID(), cfg.Exchange.MakerFeeBps, cfg.Exchange.TakerFeeBps)
	if err != nil && !errors.Is(err, errs.ErrExchangeInitialized) {
		zapLogger.Fatal("Failed to initialize exchange", zap.Error(err))
	}

	booksSvc, err := orderbook.NewService(zapLogger, exchangeSvc, vaults, st)
	if err != nil {
		zapLogger.Fatal("Failed to create order book service", zap.Error(err))
	}

	engineSvc := engine.NewService(zapLogger, exchangeSvc, booksSvc, vaults, st)

	escrowSvc, err := escrow.NewService(zapLogger, vaults, st, cfg.AuthorityID())
	if err != nil {
		zapLogger.Fatal("Failed to create escrow service", zap.Error(err))
	}

	h := handlers.New(zapLogger, exchangeSvc, booksSvc, engineSvc, escrowSvc, vaults)
	srv := server.New(zapLogger, cfg.Server, h, cfg.Environment)

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.Server.Address()))
		if err := srv.Run(); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
