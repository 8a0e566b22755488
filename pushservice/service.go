// Package pushservice assembles the push dispatch service: HTTP
// surface, scheduler-tick pipeline and their shared components.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/sylmmhy/Lumi-sub007/internal/api"
	"github.com/sylmmhy/Lumi-sub007/internal/pipeline"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/metrics"
	"github.com/sylmmhy/Lumi-sub007/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.Tick]
	logger          *slog.Logger
}

// New assembles the service. The consumer is optional: without a
// Pub/Sub subscription the batch runs only via the HTTP trigger.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	processor *pipeline.Processor,
	starter *pipeline.Starter,
	deviceStore dispatch.DeviceStore,
	m *metrics.Metrics,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Scheduler-tick pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.Tick]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.TickTransformer,
			pipeline.NewTickProcessor(processor, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	pushAPI := api.NewPushAPI(deviceStore, processor, starter, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Device registry (called by the app during onboarding)
	handle("POST /api/v1/devices/register", pushAPI.RegisterDevice)
	handle("POST /api/v1/devices/unregister", pushAPI.UnregisterDevice)

	// Dispatch triggers (called by the scheduler and the app server)
	handle("POST /api/v1/process", pushAPI.ProcessBatch)
	handle("POST /api/v1/live-activity/start", pushAPI.StartLiveActivity)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", m.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Scheduler-tick pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
