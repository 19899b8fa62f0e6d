package main

import (
	"database/sql"

	"broadcast-platform/internal/audience"
	"broadcast-platform/internal/audit"
	"broadcast-platform/internal/campaigns"
	"broadcast-platform/internal/config"
	"broadcast-platform/internal/delivery"
	"broadcast-platform/internal/dispatch"
	"broadcast-platform/internal/events"
	"broadcast-platform/internal/httpapi"
	"broadcast-platform/internal/queue"
	"broadcast-platform/internal/reporting"
	"broadcast-platform/internal/telephony"

	"github.com/redis/go-redis/v9"
)

// app holds the wired services. Built once in main; no globals.
type app struct {
	handlers   httpapi.Handlers
	twilio     telephony.TwilioWebhookHandler
	reconciler *delivery.Reconciler
}

func newApp(cfg config.Config, db *sql.DB, rdb *redis.Client, publisher events.Publisher) (*app, error) {
	queueClient, err := queue.NewClient(queue.Config{
		BaseURL:               cfg.Queue.BaseURL,
		RequestTimeout:        cfg.Queue.RequestTimeout,
		RatePerSec:            cfg.Queue.RatePerSec,
		Source:                cfg.Queue.Source,
		SMSCallbackEndpoint:   cfg.Queue.SMSCallbackEndpoint,
		EmailCallbackEndpoint: cfg.Queue.EmailCallbackEndpoint,
	})
	if err != nil {
		return nil, err
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	campaignRepo := campaigns.NewPostgresRepo(db)
	deliveryRepo := delivery.NewPostgresRepo(db)
	audienceSvc := audience.NewService(audience.NewPostgresRepo(db))

	dirty := delivery.RedisDirtySet{Client: rdb, Key: delivery.DefaultDirtyKey}
	recorder := delivery.NewRecorder(deliveryRepo, dirty)

	deps := campaigns.Deps{
		Campaigns: campaignRepo,
		Audience:  audienceSvc,
		Submitter: queueClient,
		Recorder:  recorder,
		Locker:    dispatch.RedisLocker{Client: rdb, TTL: cfg.Dispatch.LockTTL},
		Audit:     auditSvc,
		Events:    publisher,
	}
	if n := cfg.Dispatch.WorkspaceSlots; n > 0 {
		deps.Slots = func(workspaceID string) dispatch.Slots {
			return dispatch.RedisSlots{
				Client: rdb,
				Key:    dispatch.WorkspaceSlotsKey(workspaceID),
				Limit:  n,
				TTL:    cfg.Dispatch.LockTTL,
			}
		}
	}
	orch := campaigns.NewOrchestrator(deps, campaigns.OrchestratorConfig{
		BatchSize:       cfg.Dispatch.BatchSize,
		MaxConcurrent:   cfg.Dispatch.MaxConcurrent,
		InterBatchDelay: cfg.Dispatch.InterBatchDelay,
		ScheduleGrace:   cfg.Dispatch.ScheduleGrace,
	})

	return &app{
		handlers: httpapi.Handlers{
			Campaigns:    campaigns.NewService(campaignRepo, auditSvc),
			Orchestrator: orch,
			Deliveries:   recorder,
			Reports:      reporting.NewService(deliveryRepo),
			Audience:     audienceSvc,

			CallbackSecret: cfg.Queue.CallbackSecret,
		},
		twilio: telephony.TwilioWebhookHandler{
			Deliveries:        recorder,
			OptOuts:           audienceSvc,
			Audit:             auditSvc,
			AuthToken:         cfg.Twilio.AuthToken,
			ValidateSignature: cfg.Twilio.ValidateSignature,
			PublicBaseURL:     cfg.Twilio.PublicBaseURL,
		},
		reconciler: delivery.NewReconciler(recorder, dirty, 0),
	}, nil
}
