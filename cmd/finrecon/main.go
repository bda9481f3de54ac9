package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finrecon/internal/api"
	"finrecon/internal/api/handlers"
	"finrecon/internal/app"
	"finrecon/pkg/config"
	"finrecon/pkg/logger"

	"go.uber.org/zap"
)

// @title finrecon API
// @version 1.0
// @description Financial document processing and tenant reconciliation.

// @contact.name API Support
// @contact.email support@finrecon.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the service token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting finrecon service")

	ctx := context.Background()
	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	authHandler := handlers.NewAuthHandler(application.AuthService, appLogger)
	docHandler := handlers.NewDocumentHandler(application.DocumentService, cfg.Server.ProcessTimeout, appLogger)

	router := api.SetupRouter(authHandler, docHandler, application.JWTManager, appLogger)

	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := router.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := router.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
