package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func expired(o *models.Order) {
	past := time.Now().UTC().Add(-time.Hour)
	o.ExpiresAt = &past
}

func TestSweepSuspendsExpiredOrders(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	u := h.user(t, "olga")

	due := h.activeOrder(t, u.ID, "501", expired)
	notDue := h.activeOrder(t, u.ID, "502", nil)
	local := h.activeOrder(t, u.ID, "", expired)

	sweeper := NewExpirySweeper(h.svc, time.Minute)
	report := sweeper.Sweep(ctx)
	assert.Equal(t, SweepReport{Checked: 2, Suspended: 2}, report)
	assert.Equal(t, 1, h.panel.called("POST /servers/501/suspend"))
	assert.Zero(t, h.panel.called("POST /servers/502/suspend"))

	for id, want := range map[int64]models.OrderStatus{
		due.ID:    models.OrderSuspended,
		notDue.ID: models.OrderActive,
		local.ID:  models.OrderSuspended,
	} {
		got, err := h.orders.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "order %d", id)
	}

	// second pass finds nothing
	report = sweeper.Sweep(ctx)
	assert.Equal(t, SweepReport{}, report)
	assert.Equal(t, 1, h.panel.called("POST /servers/501/suspend"))
}

func TestSweepRecordsRejection(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	u := h.user(t, "pete")
	h.panel.suspendCode = http.StatusConflict

	refused := h.activeOrder(t, u.ID, "501", expired)
	fine := h.activeOrder(t, u.ID, "", expired)

	report := NewExpirySweeper(h.svc, time.Minute).Sweep(ctx)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Suspended)

	got, err := h.orders.GetByID(ctx, refused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderError, got.Status)
	require.NotNil(t, got.RemoteResult)
	assert.Contains(t, *got.RemoteResult, "suspend refused")

	got, err = h.orders.GetByID(ctx, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSuspended, got.Status)
}

func TestSweepSuspendsLocallyWhenPanelUnreachable(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	o := h.activeOrder(t, h.user(t, "quinn").ID, "501", expired)
	h.srv.Close()

	report := NewExpirySweeper(h.svc, time.Minute).Sweep(ctx)
	assert.Equal(t, SweepReport{Checked: 1, Suspended: 1}, report)

	got, err := h.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSuspended, got.Status)
	require.NotNil(t, got.RemoteResult)
	assert.Contains(t, *got.RemoteResult, "unavailable")
	require.NotNil(t, got.ServerID)
	assert.Equal(t, "501", *got.ServerID)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	h := newHarness(t, false)
	h.activeOrder(t, h.user(t, "rita").ID, "", expired)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewExpirySweeper(h.svc, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		list, err := h.orders.ListByStatus(context.Background(), models.OrderSuspended)
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
