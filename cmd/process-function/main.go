package main

import (
	"context"
	"sync"

	"finrecon/internal/app"
	"finrecon/internal/trigger"
	"finrecon/pkg/config"
	"finrecon/pkg/logger"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

var (
	handler *trigger.PubSubHandler
	once    sync.Once
	initErr error
)

func init() {
	functions.CloudEvent("ProcessDocument", processDocument)
}

// main is required by the Functions Framework.
func main() {}

func processDocument(ctx context.Context, e cloudevents.Event) error {
	// clients are built once per instance and reused across invocations
	once.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.Load()
		if initErr != nil {
			return
		}
		if initErr = logger.Init(cfg.Logger.Level, cfg.Logger.Format); initErr != nil {
			return
		}
		var application *app.App
		application, initErr = app.New(context.Background(), cfg, logger.Component("function"))
		if initErr != nil {
			return
		}
		handler = trigger.NewPubSubHandler(application.Engine, logger.Component("pubsub"))
	})
	if initErr != nil {
		logger.Error("Critical error during function initialization", zap.Error(initErr))
		return initErr
	}

	defer logger.Sync()
	return handler.Handle(ctx, e)
}
