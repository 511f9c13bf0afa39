package bootstrap

import (
	"context"
	"log"
	"time"

	"clinical-workflow-be/internal/config"
	"clinical-workflow-be/internal/controller"
	"clinical-workflow-be/internal/pkg/logger"
	"clinical-workflow-be/internal/repository/memory"
	"clinical-workflow-be/internal/repository/unitofwork"
	"clinical-workflow-be/internal/service"
	"clinical-workflow-be/internal/websocket"
	"clinical-workflow-be/internal/worker"
	"clinical-workflow-be/pkg/eventbus"
	"clinical-workflow-be/pkg/exporter"
	"clinical-workflow-be/pkg/inference/httpapi"

	pktNats "clinical-workflow-be/pkg/nats"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	SessionController controller.ISessionController

	// WebSockets & Streaming
	WebSocketHub *websocket.Hub
	EventBus     *eventbus.Bus
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus (in-process sequencing + replay for session streams)
	bus := eventbus.New(cfg.Streaming.ReplayWindow)

	// 3. Inference collaborators
	inferenceProvider := httpapi.NewProvider(cfg.Inference.BaseURL, cfg.Inference.Model)
	log.Printf("[INFO] Using Inference Provider: %s (%s)", cfg.Inference.BaseURL, cfg.Inference.Model)

	// 2.5 Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub + reconnect cursor store
	wsLogger := logger.NewIsolatedLogger("logs/streaming.log")
	wsHub := websocket.NewHub(rdb, bus, wsLogger)
	go wsHub.Run()

	cursorRepo := memory.NewCursorRepository(time.Duration(cfg.Streaming.GracePeriodSec) * time.Second)
	gateway := websocket.NewGateway(wsHub, bus, cursorRepo, inferenceProvider)

	// EHR export + billing claim targets
	ehrExporter := exporter.NewHTTPExporter(cfg.Exporter.EHRBaseURL, cfg.Exporter.BillingBaseURL)

	// 3. Services
	validationService := service.NewValidationService(inferenceProvider, cfg.Workflow.SuggestionThreshold)
	dispatchService := service.NewDispatchService(
		uowFactory,
		ehrExporter,
		bus,
		natsPub,
		sysLogger,
		cfg.Workflow.MaxDispatchAttempts,
	)
	workflowService := service.NewWorkflowService(
		uowFactory,
		validationService,
		dispatchService,
		bus,
		inferenceProvider,
		inferenceProvider,
		inferenceProvider,
		natsPub,
		sysLogger,
		time.Duration(cfg.Workflow.ValidationTimeoutSec)*time.Second,
		cfg.Streaming.ReplayWindow,
	)

	// Durable retry consumer for failed deliveries
	if natsSub != nil {
		backoff := time.Duration(cfg.Workflow.DispatchBackoffSec) * time.Second
		if err := worker.RegisterDispatchRetry(natsSub, dispatchService, backoff, sysLogger); err != nil {
			log.Printf("[WARN] Failed to register dispatch retry consumer: %v", err)
		}
	}

	// 4. Controllers
	return &Container{
		SessionController: controller.NewSessionController(workflowService, dispatchService, gateway),
		WebSocketHub:      wsHub,
		EventBus:          bus,
	}
}
