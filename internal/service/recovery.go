package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

// RecoveryReport counts what RecoverInterrupted did with unfinished orders.
type RecoveryReport struct {
	Activated int `json:"activated"`
	Failed    int `json:"failed"`
	Untouched int `json:"untouched"`
}

// RecoverInterrupted reconciles orders left pending or processing by a
// previous process. Orders that never reached create-server are failed.
// Orders that did are looked up on the panel by external id. Local-only
// orders and orders whose panel cannot be asked are left as they are.
func (s *ProvisionService) RecoverInterrupted(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	pending, err := s.orderRepo.ListByStatus(ctx, models.OrderPending)
	if err != nil {
		return report, fmt.Errorf("list pending orders: %w", err)
	}
	processing, err := s.orderRepo.ListByStatus(ctx, models.OrderProcessing)
	if err != nil {
		return report, fmt.Errorf("list processing orders: %w", err)
	}

	for _, o := range append(pending, processing...) {
		switch s.recoverOrder(ctx, o.ID) {
		case models.OrderActive:
			report.Activated++
		case models.OrderError:
			report.Failed++
		default:
			report.Untouched++
		}
	}

	if len(pending)+len(processing) > 0 {
		s.log.Info("interrupted orders reconciled",
			"activated", report.Activated, "failed", report.Failed, "untouched", report.Untouched)
	}
	return report, nil
}

func (s *ProvisionService) recoverOrder(ctx context.Context, orderID int64) models.OrderStatus {
	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		s.log.Warn("load interrupted order failed", "order_id", orderID, "error", err)
		return ""
	}

	switch {
	case order.Status == models.OrderPending:
		s.fail(ctx, orderID, "interrupted", errors.New("interrupted before provisioning started"))
		return models.OrderError
	case order.Status != models.OrderProcessing, order.ProvisionStep == models.StepLocalOnly:
		return order.Status
	case order.ProvisionStep != models.StepCreateServer && order.ProvisionStep != models.StepDone:
		s.fail(ctx, orderID, "interrupted", fmt.Errorf("interrupted at step %s", order.ProvisionStep))
		return models.OrderError
	}

	creds, ok := s.settings.Get().Integration()
	if !ok {
		return order.Status
	}
	resp, err := s.panel.GetServerByExternalID(ctx, creds, order.ExternalID())
	if err != nil {
		s.log.Warn("interrupted order lookup failed", "order_id", orderID, "error", err)
		return order.Status
	}

	switch {
	case resp.OK():
		ref := order.ExternalID()
		if id, ok := resp.ResourceID(); ok {
			ref = strconv.FormatInt(id, 10)
		}
		s.finish(ctx, orderID, &ref, resp.Raw(), models.OrderActive)
		s.logRepo.LogActionWithMetadata(ctx, orderID, "recovered", models.OrderActive,
			"Server found on the remote panel after restart", map[string]any{"server_id": ref})
		return models.OrderActive
	case resp.Status == http.StatusNotFound:
		s.fail(ctx, orderID, "interrupted", errors.New("server was not created before restart"))
		return models.OrderError
	default:
		return order.Status
	}
}
