package service

import (
	"context"
	"errors"

	"github.com/apploom/apploom/internal/clock"
	"github.com/apploom/apploom/internal/config"
	deploymentdomain "github.com/apploom/apploom/internal/deployment/domain"
	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	obsmetrics "github.com/apploom/apploom/internal/observability/metrics"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/apploom/apploom/internal/tier"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAlreadyApplied aborts a reconciliation transaction when the
// idempotency constraint reports the event was applied concurrently.
// Process resolves it to a clean no-op.
var errAlreadyApplied = errors.New("already_applied")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Catalog *tier.Catalog
	Gateway gatewaydomain.Gateway

	LedgerRepo       ledgerdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	DeploymentRepo   deploymentdomain.Repository

	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Engine struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	catalog *tier.Catalog
	gateway gatewaydomain.Gateway

	ledgerRepo       ledgerdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	deploymentRepo   deploymentdomain.Repository

	metrics *obsmetrics.Metrics
}

func NewEngine(p Params) reconciliationdomain.Engine {
	return &Engine{
		db:               p.DB,
		log:              p.Log.Named("reconciliation.engine"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Cfg,
		catalog:          p.Catalog,
		gateway:          p.Gateway,
		ledgerRepo:       p.LedgerRepo,
		subscriptionRepo: p.SubscriptionRepo,
		deploymentRepo:   p.DeploymentRepo,
		metrics:          p.Metrics,
	}
}

// Process applies the single transition an event classifies into. A
// returned error signals the dispatcher to retry the whole event, so
// every handler checks its idempotency key before mutating anything.
func (e *Engine) Process(ctx context.Context, event reconciliationdomain.Event) error {
	ledger, sub, err := e.resolveState(ctx, event)
	if err != nil {
		return err
	}

	transition := Classify(event, ledger, sub)
	log := e.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("transition", string(transition.Kind)),
		zap.String("user_id", transition.UserID.String()),
	)

	if transition.Kind == reconciliationdomain.TransitionSkip {
		if transition.Reason == SkipReasonUnresolvedSubscription {
			// The referenced subscription should exist; this needs
			// investigation, not a silent drop.
			log.Error("billing event references an unresolvable subscription",
				zap.String("reason", transition.Reason))
		} else {
			log.Info("billing event skipped", zap.String("reason", transition.Reason))
		}
		e.metrics.RecordReconciliation(string(transition.Kind), transition.Reason)
		return nil
	}

	switch transition.Kind {
	case reconciliationdomain.TransitionActivation:
		err = e.applyActivation(ctx, log, transition)
	case reconciliationdomain.TransitionUpgrade:
		err = e.applyUpgrade(ctx, log, transition)
	case reconciliationdomain.TransitionRenewal:
		err = e.applyRenewal(ctx, log, transition)
	case reconciliationdomain.TransitionCancellation:
		err = e.applyCancellation(ctx, log, transition)
	case reconciliationdomain.TransitionPastDue:
		err = e.applyPastDue(ctx, log, transition)
	case reconciliationdomain.TransitionCreditPurchase:
		err = e.applyCreditPurchase(ctx, log, transition)
	case reconciliationdomain.TransitionCheckoutPending:
		err = e.applyCheckoutPending(ctx, log, transition)
	default:
		log.Warn("unhandled transition kind")
		return nil
	}

	if errors.Is(err, errAlreadyApplied) {
		log.Info("event already applied; skipping")
		e.metrics.RecordReconciliation(string(transition.Kind), "duplicate")
		return nil
	}
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		e.metrics.RecordReconciliation(string(transition.Kind), "error")
		return err
	}
	e.metrics.RecordReconciliation(string(transition.Kind), "applied")
	return nil
}

// resolveState loads the ledger and subscription record the classifier
// needs. Lookups are read-only; handlers re-read inside their own
// transactions.
func (e *Engine) resolveState(
	ctx context.Context,
	event reconciliationdomain.Event,
) (*ledgerdomain.CreditLedger, *subscriptiondomain.Subscription, error) {
	switch event.Type {
	case reconciliationdomain.EventSubscriptionCreated, reconciliationdomain.EventSubscriptionUpdated:
		if event.Subscription == nil || event.Subscription.UserID == 0 {
			return nil, nil, nil
		}
		ledger, err := e.ledgerRepo.FindByUserID(ctx, e.db, event.Subscription.UserID)
		if err != nil {
			return nil, nil, err
		}
		return ledger, nil, nil

	case reconciliationdomain.EventSubscriptionDeleted:
		if event.Subscription == nil || event.Subscription.ID == "" {
			return nil, nil, nil
		}
		sub, err := e.subscriptionRepo.FindByExternalID(ctx, e.db, event.Subscription.ID)
		if err != nil {
			return nil, nil, err
		}
		if sub != nil {
			// The ledger's current reference decides whether this
			// deletion still matters; load it alongside the record.
			ledger, err := e.ledgerRepo.FindByUserID(ctx, e.db, sub.UserID)
			if err != nil {
				return nil, nil, err
			}
			return ledger, sub, nil
		}
		// No local record; the ledger may still hold the reference.
		ledger, err := e.ledgerRepo.FindByExternalSubscriptionID(ctx, e.db, event.Subscription.ID)
		if err != nil {
			return nil, nil, err
		}
		return ledger, nil, nil

	case reconciliationdomain.EventInvoicePaid:
		if event.Invoice == nil || event.Invoice.SubscriptionID == "" {
			return nil, nil, nil
		}
		sub, err := e.subscriptionRepo.FindByExternalID(ctx, e.db, event.Invoice.SubscriptionID)
		if err != nil {
			return nil, nil, err
		}
		if sub == nil && event.Invoice.CustomerID != "" {
			// The subscription row may lag the invoice; fall back to the
			// customer reference.
			sub, err = e.subscriptionRepo.FindActiveByExternalCustomerID(ctx, e.db, event.Invoice.CustomerID)
			if err != nil {
				return nil, nil, err
			}
		}
		return nil, sub, nil

	default:
		return nil, nil, nil
	}
}
