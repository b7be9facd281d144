package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/clients"
	apperrors "github.com/moneyflowz367/affilync-bigcommerce/common/errors"
	"github.com/moneyflowz367/affilync-bigcommerce/common/logger"
	"github.com/moneyflowz367/affilync-bigcommerce/models"
	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"
	"github.com/moneyflowz367/affilync-bigcommerce/repository"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// releaseTimeout bounds the detached release of a reservation after a failure.
const releaseTimeout = 5 * time.Second

// Dispatcher handles one inbound webhook request.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte, signature string) DispatchResult
}

// DeliveryResult is the terminal state of one envelope within a request.
type DeliveryResult struct {
	Scope     string               `json:"scope"`
	EventID   string               `json:"event_id,omitempty"`
	Kind      models.EventKind     `json:"event_kind,omitempty"`
	State     models.DispatchState `json:"state"`
	Duplicate bool                 `json:"duplicate"`
	Outcome   *models.Outcome      `json:"outcome,omitempty"`
	Error     string               `json:"error,omitempty"`
	// Retryable is set on failures that a later redelivery may get past.
	Retryable bool                 `json:"retryable,omitempty"`
	Err       error                `json:"-"`
}

// DispatchResult is the aggregate outcome of a request and the HTTP status to answer with.
// Err is the error behind a rejected or failed request. HTTPStatus is derived from it.
type DispatchResult struct {
	State      models.DispatchState
	HTTPStatus int
	Reason     string
	Deliveries []DeliveryResult
	Err        error
}

type DispatcherDeps struct {
	Verifier   *SignatureVerifier
	Normalizer *EventNormalizer
	Resolver   *AttributionResolver
	Recorder   *ConversionRecorder
	Ledger     repository.IdempotencyLedger
	Clicks     repository.ClickRegistry
	Stores     repository.StoreRepository
	Forwarder  clients.Forwarder
	Metrics    *awspkg.MetricsClient
}

type DispatcherConfig struct {
	// AppClientSecret signs deliveries for stores without their own shared secret.
	AppClientSecret   string
	DefaultCookieDays int
	DefaultModel      models.AttributionModel
}

// WebhookDispatcher runs verify, normalize, dedupe, route and commit for each delivery.
type WebhookDispatcher struct {
	deps   DispatcherDeps
	cfg    DispatcherConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) *WebhookDispatcher {
	if cfg.DefaultCookieDays <= 0 {
		cfg.DefaultCookieDays = 30
	}
	if !cfg.DefaultModel.Known() {
		cfg.DefaultModel = models.ModelLastClick
	}
	return &WebhookDispatcher{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, body []byte, signature string) DispatchResult {
	start := d.now()

	envelopes, raws, err := splitEnvelopes(body)
	if err != nil {
		return d.reject(ctx, "", "malformed_body")
	}

	storeHash := ""
	for _, env := range envelopes {
		hash := env.TenantHash()
		if hash == "" {
			return d.reject(ctx, "", "missing_store")
		}
		if storeHash != "" && hash != storeHash {
			return d.reject(ctx, storeHash, "mixed_stores")
		}
		storeHash = hash
	}
	if storeHash == "" {
		return d.reject(ctx, "", "missing_store")
	}

	store, err := d.deps.Stores.FindByHash(ctx, storeHash)
	if errors.Is(err, repository.ErrStoreNotFound) {
		return d.reject(ctx, storeHash, "unknown_store")
	}
	if err != nil {
		d.logger.Error("Store lookup failed",
			zap.String("store_id", storeHash),
			zap.String("request_id", logger.GetRequestID(ctx)),
			zap.Error(err),
		)
		d.count(models.StateFailed, "")
		lookupErr := apperrors.Wrap(apperrors.ErrStorage, err)
		return DispatchResult{
			State:      models.StateFailed,
			HTTPStatus: apperrors.Code(lookupErr),
			Reason:     lookupErr.Message,
			Err:        lookupErr,
		}
	}

	settings := store.Settings(d.cfg.DefaultCookieDays, d.cfg.DefaultModel, d.cfg.AppClientSecret)
	if v := d.deps.Verifier.Verify(body, signature, settings.SharedSecret); !v.Valid {
		return d.reject(ctx, storeHash, v.Reason)
	}
	d.logger.Debug("Webhook verified",
		zap.String("store_id", storeHash),
		zap.Int("envelopes", len(envelopes)),
		zap.String("request_id", logger.GetRequestID(ctx)),
	)

	deliveries := make([]DeliveryResult, 0, len(envelopes))
	for i, env := range envelopes {
		deliveries = append(deliveries, d.deliver(ctx, settings, env.Scope, raws[i]))
	}

	result := aggregate(deliveries)
	if d.deps.Metrics.IsEnabled() {
		elapsed := d.now().Sub(start)
		go func() {
			_ = d.deps.Metrics.RecordLatency(context.Background(), awspkg.MetricWebhookLatency, elapsed, map[string]string{"Service": "attribution-service"})
		}()
	}
	return result
}

func (d *WebhookDispatcher) deliver(ctx context.Context, settings models.StoreSettings, scope string, raw json.RawMessage) (res DeliveryResult) {
	res = DeliveryResult{Scope: scope, State: models.StateVerified}

	norm, err := d.deps.Normalizer.Normalize(settings.StoreID, scope, raw)
	if err != nil {
		return d.fail(ctx, res, err)
	}
	if norm.Skip {
		res.State = models.StateSkipped
		d.logger.Info("Skipping unsupported scope",
			zap.String("store_id", settings.StoreID),
			zap.String("scope", scope),
			zap.String("request_id", logger.GetRequestID(ctx)),
		)
		d.count(models.StateSkipped, "")
		return res
	}

	ev := norm.Event
	res.EventID, res.Kind = ev.EventID, ev.Kind
	d.transition(ctx, ev, models.StateNormalized)

	reservation, err := d.deps.Ledger.CheckAndReserve(ctx, ev.Key())
	if errors.Is(err, repository.ErrInFlight) {
		return d.fail(ctx, res, apperrors.Wrap(apperrors.ErrInFlight, err))
	}
	if err != nil {
		return d.fail(ctx, res, apperrors.Wrap(apperrors.ErrStorage, err))
	}
	d.transition(ctx, ev, models.StateDedupChecked)

	if reservation.State == repository.AlreadyProcessed {
		res.State = models.StateCommitted
		res.Duplicate = true
		res.Outcome = reservation.Prior
		d.transition(ctx, ev, models.StateCommitted, zap.Bool("duplicate", true))
		d.count(models.StateCommitted, awspkg.MetricWebhookDuplicate)
		return res
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// request cancellation must not leave the event reserved
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := d.deps.Ledger.Release(releaseCtx, ev.Key(), reservation.Token); err != nil {
			d.logger.Warn("Failed to release reservation",
				zap.String("store_id", ev.StoreID),
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		}
	}()

	outcome, err := d.route(ctx, settings, ev)
	if err != nil {
		return d.fail(ctx, res, err)
	}
	d.transition(ctx, ev, models.StateResolved, zap.String("outcome", outcome.Status))

	if err := d.deps.Ledger.Commit(ctx, ev.Key(), reservation.Token, outcome); err != nil {
		if errors.Is(err, repository.ErrReservationLost) {
			return d.fail(ctx, res, apperrors.Wrap(apperrors.ErrInFlight, err))
		}
		return d.fail(ctx, res, apperrors.Wrap(apperrors.ErrStorage, err))
	}
	committed = true

	res.State = models.StateCommitted
	res.Outcome = &outcome
	d.transition(ctx, ev, models.StateCommitted, zap.String("outcome", outcome.Status))
	d.count(models.StateCommitted, "")
	return res
}

// route applies the event's effect. Every kind is handled here; the default branch is unreachable
// for kinds produced by the normalizer.
func (d *WebhookDispatcher) route(ctx context.Context, settings models.StoreSettings, ev *models.AttributionEvent) (models.Outcome, error) {
	outcome := models.Outcome{Kind: ev.Kind}
	if !settings.Active {
		outcome.Status = models.OutcomeStoreInactive
		return outcome, nil
	}

	switch {
	case ev.Kind == models.EventClickRecorded:
		return d.recordClick(ctx, ev, outcome)

	case ev.Kind == models.EventOrderStatusChanged:
		return d.resolveOrder(ctx, settings, ev, outcome)

	case ev.Kind.IsOrder():
		outcome.Status = models.OutcomeOrderLogged
		outcome.OrderID = ev.Order.OrderID
		return outcome, nil

	case ev.Kind.IsProduct():
		outcome.ProductID = ev.Product.ProductID
		if ev.Kind != models.EventProductDeleted && !settings.AutoSyncProducts {
			outcome.Status = models.OutcomeProductLogged
			return outcome, nil
		}
		if err := d.deps.Forwarder.ForwardProduct(ctx, forwardedEvent(ev)); err != nil {
			return outcome, apperrors.Wrap(apperrors.ErrDownstream, err)
		}
		outcome.Status = models.OutcomeForwarded
		return outcome, nil

	case ev.Kind == models.EventAppUninstalled:
		if err := d.deps.Forwarder.ForwardStoreLifecycle(ctx, forwardedEvent(ev)); err != nil {
			return outcome, apperrors.Wrap(apperrors.ErrDownstream, err)
		}
		outcome.Status = models.OutcomeForwarded
		return outcome, nil

	default:
		return outcome, apperrors.Wrap(apperrors.ErrInternalServer, fmt.Errorf("unhandled event kind %q", ev.Kind))
	}
}

func (d *WebhookDispatcher) recordClick(ctx context.Context, ev *models.AttributionEvent, outcome models.Outcome) (models.Outcome, error) {
	c := ev.Click
	record := &models.ClickRecord{
		StoreID:          ev.StoreID,
		VisitorKey:       c.VisitorKey,
		ClickedAt:        c.ClickedAt.UTC(),
		AffiliateID:      c.AffiliateID,
		LandingProductID: c.LandingProductID,
		EventID:          ev.EventID,
	}
	if err := d.deps.Clicks.Record(ctx, record); err != nil {
		return outcome, apperrors.Wrap(apperrors.ErrStorage, err)
	}
	outcome.Status = models.OutcomeClickRecorded
	outcome.AffiliateID = c.AffiliateID
	return outcome, nil
}

// resolveOrder attributes an order when its status moves into a sale status. Every such
// transition recomputes the record from scratch, including one that finds no attribution
// for an order that was credited before.
func (d *WebhookDispatcher) resolveOrder(ctx context.Context, settings models.StoreSettings, ev *models.AttributionEvent, outcome models.Outcome) (models.Outcome, error) {
	order := ev.Order
	outcome.OrderID = order.OrderID

	switch {
	case order.BecameSale():
		asOf := ev.OccurredAt
		if order.PlacedAt != nil {
			asOf = *order.PlacedAt
		}
		candidates, err := d.deps.Clicks.FindCandidates(ctx, ev.StoreID, order.CustomerVisitorKey, asOf, settings.CookieDuration)
		if err != nil {
			return outcome, apperrors.Wrap(apperrors.ErrStorage, err)
		}

		outcome.Model = settings.Model
		record, ok := d.deps.Resolver.Resolve(order, candidates, settings.Model, ev.StoreID, d.now())
		if !ok {
			if _, err := d.deps.Recorder.Unattribute(ctx, ev.StoreID, order, settings.Model, d.now()); err != nil {
				return outcome, err
			}
			outcome.Status = models.OutcomeNoAttribution
			return outcome, nil
		}
		saved, err := d.deps.Recorder.Record(ctx, record)
		if err != nil {
			return outcome, err
		}

		outcome.Status = models.OutcomeAttributed
		outcome.Model = saved.AttributionModel
		outcome.Attributions = saved.Attributions
		outcome.AffiliateID = saved.Attributions[0].AffiliateID
		if d.deps.Metrics.IsEnabled() {
			amount, _ := saved.OrderTotal.Float64()
			go func() {
				dims := map[string]string{"Service": "attribution-service", "Model": string(saved.AttributionModel)}
				_ = d.deps.Metrics.PutMetrics(context.Background(), dims,
					awspkg.Count(awspkg.MetricConversionsCount),
					awspkg.Datum{Name: awspkg.MetricConversionsAmount, Value: amount, Unit: cwtypes.StandardUnitNone},
				)
			}()
		}
		return outcome, nil

	case order.Status.IsReversal():
		published, err := d.deps.Recorder.PublishReversal(ctx, ev.StoreID, order, ev.OccurredAt)
		if err != nil {
			return outcome, err
		}
		if published {
			outcome.Status = models.OutcomeReversalForwarded
		} else {
			outcome.Status = models.OutcomeOrderLogged
		}
		return outcome, nil

	default:
		outcome.Status = models.OutcomeOrderLogged
		return outcome, nil
	}
}

func (d *WebhookDispatcher) reject(ctx context.Context, storeID, reason string) DispatchResult {
	d.logger.Warn("Webhook rejected",
		zap.String("store_id", storeID),
		zap.String("reason", reason),
		zap.String("state", string(models.StateRejected)),
		zap.String("request_id", logger.GetRequestID(ctx)),
	)
	d.count(models.StateRejected, "")
	err := apperrors.Wrap(apperrors.ErrAuthentication, errors.New(reason))
	return DispatchResult{State: models.StateRejected, HTTPStatus: apperrors.Code(err), Reason: reason, Err: err}
}

func (d *WebhookDispatcher) fail(ctx context.Context, res DeliveryResult, err error) DeliveryResult {
	res.State = models.StateFailed
	res.Err = err
	res.Error = publicMessage(err)
	res.Retryable = apperrors.IsTransient(err)

	fields := []zap.Field{
		zap.String("scope", res.Scope),
		zap.String("event_kind", string(res.Kind)),
		zap.String("event_id", res.EventID),
		zap.String("state", string(models.StateFailed)),
		zap.String("request_id", logger.GetRequestID(ctx)),
		zap.Bool("retryable", res.Retryable),
		zap.Error(err),
	}
	if apperrors.Code(err) >= http.StatusInternalServerError {
		d.logger.Error("Webhook delivery failed", fields...)
	} else {
		d.logger.Warn("Webhook delivery failed", fields...)
	}
	d.count(models.StateFailed, "")
	return res
}

func (d *WebhookDispatcher) transition(ctx context.Context, ev *models.AttributionEvent, state models.DispatchState, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("store_id", ev.StoreID),
		zap.String("event_kind", string(ev.Kind)),
		zap.String("event_id", ev.EventID),
		zap.String("state", string(state)),
		zap.String("request_id", logger.GetRequestID(ctx)),
	}, extra...)
	if state.Terminal() {
		d.logger.Info("Webhook delivery "+string(state), fields...)
		return
	}
	d.logger.Debug("Webhook delivery "+string(state), fields...)
}

// count records one terminal state metric. metricOverride replaces the state's default metric.
func (d *WebhookDispatcher) count(state models.DispatchState, metricOverride string) {
	if !d.deps.Metrics.IsEnabled() {
		return
	}
	metric := metricOverride
	if metric == "" {
		switch state {
		case models.StateCommitted:
			metric = awspkg.MetricWebhookCommitted
		case models.StateSkipped:
			metric = awspkg.MetricWebhookSkipped
		case models.StateRejected:
			metric = awspkg.MetricWebhookRejected
		default:
			metric = awspkg.MetricWebhookFailed
		}
	}
	go func() {
		_ = d.deps.Metrics.RecordCount(context.Background(), metric, map[string]string{"Service": "attribution-service"})
	}()
}

// aggregate folds per-envelope results into one response. Any failure answers with the
// highest failing status so upstream redelivers; committed siblings dedupe on redelivery.
func aggregate(deliveries []DeliveryResult) DispatchResult {
	res := DispatchResult{State: models.StateCommitted, HTTPStatus: http.StatusOK, Deliveries: deliveries}
	skipped := 0
	for _, dl := range deliveries {
		switch dl.State {
		case models.StateFailed:
			if code := apperrors.Code(dl.Err); res.State != models.StateFailed || code > res.HTTPStatus {
				res.HTTPStatus = code
				res.Reason = dl.Error
				res.Err = dl.Err
			}
			res.State = models.StateFailed
		case models.StateSkipped:
			skipped++
		}
	}
	if res.State != models.StateFailed && len(deliveries) > 0 && skipped == len(deliveries) {
		res.State = models.StateSkipped
	}
	return res
}

// splitEnvelopes accepts a single envelope object or an array of them.
func splitEnvelopes(body []byte) ([]models.WebhookEnvelope, []json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	var raws []json.RawMessage
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, nil, err
		}
	} else {
		raws = []json.RawMessage{json.RawMessage(trimmed)}
	}

	envelopes := make([]models.WebhookEnvelope, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &envelopes[i]); err != nil {
			return nil, nil, err
		}
	}
	return envelopes, raws, nil
}

func forwardedEvent(ev *models.AttributionEvent) models.ForwardedEvent {
	fwd := models.ForwardedEvent{
		StoreID:    ev.StoreID,
		Kind:       ev.Kind,
		Scope:      ev.Scope,
		EventID:    ev.EventID,
		OccurredAt: ev.OccurredAt,
	}
	if ev.Product != nil {
		fwd.ProductID = ev.Product.ProductID
	}
	return fwd
}

// publicMessage hides storage and transport details from the response body. Validation
// errors keep their cause since it names the missing field.
func publicMessage(err error) string {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return apperrors.ErrInternalServer.Message
	}
	if appErr.Code == http.StatusUnprocessableEntity {
		return err.Error()
	}
	return appErr.Message
}
