package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func TestPlanLifecycle(t *testing.T) {
	h := newHarness(t, false)
	svc := NewPlanService(h.plans)
	ctx := context.Background()

	created, err := svc.Create(ctx, &models.PlanRequest{
		Name:        " Starter ",
		NestID:      1,
		EggID:       3,
		RAM:         2048,
		Price:       decimal.RequireFromString("7.50"),
		Environment: json.RawMessage(`{"VERSION":"latest","MAX_PLAYERS":20,"UNUSED":null}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Starter", created.Name)
	assert.Equal(t, models.BillingMonthly, created.BillingCycle)
	assert.Equal(t, models.EnvMap{"VERSION": "latest", "MAX_PLAYERS": "20"}, created.Environment)

	updated, err := svc.Update(ctx, created.ID, &models.PlanRequest{
		Name:         "Starter",
		BillingCycle: models.BillingYearly,
		Price:        decimal.NewFromInt(70),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BillingYearly, got.BillingCycle)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(70)))

	require.NoError(t, svc.Delete(ctx, created.ID))
	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPlanValidation(t *testing.T) {
	h := newHarness(t, false)
	svc := NewPlanService(h.plans)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.PlanRequest
	}{
		{"missing name", models.PlanRequest{Price: decimal.NewFromInt(1)}},
		{"negative price", models.PlanRequest{Name: "x", Price: decimal.NewFromInt(-1)}},
		{"bad cycle", models.PlanRequest{Name: "x", BillingCycle: "weekly"}},
		{"env not object", models.PlanRequest{Name: "x", Environment: json.RawMessage(`[1,2]`)}},
		{"negative ram", models.PlanRequest{Name: "x", RAM: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := svc.Create(ctx, &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := svc.Update(ctx, 12345, &models.PlanRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
