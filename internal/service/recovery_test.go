package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func (h *harness) interrupted(t *testing.T, status models.OrderStatus, step models.ProvisionStep) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{UserID: 1, PlanID: 1, ServerName: "srv", Price: decimal.NewFromInt(5), BillingCycle: models.BillingMonthly}
	require.NoError(t, h.orders.Create(ctx, o))
	if status == models.OrderProcessing {
		require.NoError(t, h.orders.UpdateStatus(ctx, o.ID, models.OrderProcessing))
	}
	require.NoError(t, h.orders.SetStep(ctx, o.ID, step))
	return o
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	pending := h.interrupted(t, models.OrderPending, models.StepCreated)
	early := h.interrupted(t, models.OrderProcessing, models.StepAllocation)
	local := h.interrupted(t, models.OrderProcessing, models.StepLocalOnly)
	created := h.interrupted(t, models.OrderProcessing, models.StepCreateServer)

	h.panel.externalCode = http.StatusOK
	h.panel.externalBody = map[string]any{"object": "server", "attributes": map[string]any{"id": 640}}

	report, err := h.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Activated: 1, Failed: 2, Untouched: 1}, report)

	check := func(id int64, want models.OrderStatus) *models.Order {
		got, err := h.orders.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "order %d", id)
		return got
	}
	check(pending.ID, models.OrderError)
	check(early.ID, models.OrderError)
	check(local.ID, models.OrderProcessing)
	got := check(created.ID, models.OrderActive)
	require.NotNil(t, got.ServerID)
	assert.Equal(t, "640", *got.ServerID)
	assert.Equal(t, 1, h.panel.called("GET /servers/external/"+models.ExternalIDFor(created.ID)))
}

func TestRecoverMissingServerFails(t *testing.T) {
	h := newHarness(t, true)
	o := h.interrupted(t, models.OrderProcessing, models.StepCreateServer)

	report, err := h.svc.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, err := h.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderError, got.Status)
}

func TestRecoverLeavesOrdersWhenPanelUnreachable(t *testing.T) {
	h := newHarness(t, true)
	o := h.interrupted(t, models.OrderProcessing, models.StepCreateServer)
	h.srv.Close()

	report, err := h.svc.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Untouched)

	got, err := h.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, got.Status)
}
