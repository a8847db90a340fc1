package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

// SweepReport summarizes one pass over expired orders.
type SweepReport struct {
	Checked   int `json:"checked"`
	Suspended int `json:"suspended"`
	Failed    int `json:"failed"`
}

// ExpirySweeper suspends active orders whose expiry has passed.
type ExpirySweeper struct {
	provision *ProvisionService
	interval  time.Duration
	log       *slog.Logger
}

func NewExpirySweeper(provision *ProvisionService, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ExpirySweeper{
		provision: provision,
		interval:  interval,
		log:       slog.Default().With("component", "expiry_sweeper"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context) {
	w.log.Info("expiry sweeper started", "interval", w.interval)
	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep handles every currently expired order. One order failing never
// stops the others.
func (w *ExpirySweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	ctx, span := w.provision.tracer.Start(ctx, "provision.expiry_sweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.checked", report.Checked),
			attribute.Int("sweep.suspended", report.Suspended),
			attribute.Int("sweep.failed", report.Failed),
		)
		span.End()
	}()

	now := w.provision.now().UTC()
	orders, err := w.provision.orderRepo.ListExpired(ctx, now)
	if err != nil {
		w.log.Error("list expired orders failed", "error", err)
		return report
	}

	for _, o := range orders {
		report.Checked++
		suspended, err := w.provision.suspendExpired(ctx, o.ID, now)
		switch {
		case err != nil:
			report.Failed++
			w.log.Warn("expire order failed", "order_id", o.ID, "error", err)
		case suspended:
			report.Suspended++
		}
	}

	if report.Checked > 0 {
		w.log.Info("expiry sweep finished",
			"checked", report.Checked, "suspended", report.Suspended, "failed", report.Failed)
	}
	return report
}

// suspendExpired suspends one order if it is still expired once locked.
// A panel that cannot be reached still gets the order suspended locally;
// a panel that refuses moves it to error.
func (s *ProvisionService) suspendExpired(ctx context.Context, orderID int64, now time.Time) (bool, error) {
	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !order.Expired(now) {
		return false, nil
	}

	creds, ok := s.settings.Get().Integration()
	if !ok || !order.HasServer() {
		if err := s.orderRepo.UpdateStatus(ctx, orderID, models.OrderSuspended); err != nil {
			return false, err
		}
		s.logRepo.LogAction(ctx, orderID, "expired", models.OrderSuspended, "Suspended locally after expiry")
		return true, nil
	}

	var resp *client.Response
	serverID, err := s.remoteServerID(ctx, creds, order)
	if err == nil {
		resp, err = s.panel.SuspendServer(ctx, creds, serverID)
		if err == nil && !resp.OK() {
			err = rejected("suspend", resp)
		}
	}

	switch {
	case err == nil:
		s.finish(ctx, orderID, nil, resp.Raw(), models.OrderSuspended)
		s.logRepo.LogAction(ctx, orderID, "expired", models.OrderSuspended, "Remote server suspended after expiry")
		return true, nil
	case errors.Is(err, ErrRemoteUnavailable), errors.Is(err, client.ErrServerNotFound):
		s.finish(ctx, orderID, nil, encodePayload(failurePayload(err)), models.OrderSuspended)
		s.logRepo.LogAction(ctx, orderID, "expired", models.OrderSuspended,
			"Suspended locally, remote suspend not possible: "+err.Error())
		return true, nil
	default:
		s.fail(ctx, orderID, "expire_failed", err)
		return false, err
	}
}
