package service

import (
	"context"

	dispatchdomain "github.com/apploom/apploom/internal/dispatch/domain"
	obsmetrics "github.com/apploom/apploom/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type IngestorParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    dispatchdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type ingestor struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    dispatchdomain.Repository
	metrics *obsmetrics.Metrics
}

func NewIngestor(p IngestorParams) dispatchdomain.Ingestor {
	return &ingestor{
		db:      p.DB,
		log:     p.Log.Named("dispatch.ingestor"),
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *ingestor) Ingest(ctx context.Context, provider, providerEventID, eventType string, payload []byte) (bool, error) {
	inserted, err := s.repo.Insert(ctx, s.db, &dispatchdomain.WebhookEvent{
		Provider:        provider,
		ProviderEventID: providerEventID,
		EventType:       eventType,
		Payload:         payload,
		Status:          dispatchdomain.EventStatusPending,
	})
	if err != nil {
		s.metrics.RecordWebhookEvent("error")
		return false, err
	}

	if !inserted {
		s.log.Info("duplicate delivery acknowledged",
			zap.String("provider", provider),
			zap.String("provider_event_id", providerEventID))
		s.metrics.RecordWebhookEvent("duplicate")
		return false, nil
	}

	s.log.Info("delivery accepted",
		zap.String("provider", provider),
		zap.String("provider_event_id", providerEventID),
		zap.String("event_type", eventType))
	s.metrics.RecordWebhookEvent("accepted")
	return true, nil
}
