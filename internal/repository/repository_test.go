package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/config"
	"github.com/wenwu/saas-platform/panel-service/internal/db"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	d, err := db.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "panel.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d.DB
}

func createOrder(t *testing.T, repo *OrderRepository, mutate func(*models.Order)) *models.Order {
	t.Helper()
	o := &models.Order{
		UserID:       1,
		PlanID:       1,
		ServerName:   "srv",
		Price:        decimal.RequireFromString("5.00"),
		BillingCycle: models.BillingMonthly,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestOrderCreateAndGet(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	exp := time.Now().Add(30 * 24 * time.Hour)
	o := createOrder(t, repo, func(o *models.Order) { o.ExpiresAt = &exp })

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Equal(t, models.StepCreated, got.ProvisionStep)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("5")))
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, exp, *got.ExpiresAt, time.Second)
	assert.Nil(t, got.ServerID)

	_, err = repo.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))
	o := createOrder(t, repo, nil)

	// pending cannot jump straight to active
	assert.ErrorIs(t, repo.UpdateStatus(ctx, o.ID, models.OrderActive), ErrIllegalTransition)

	require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderProcessing), "identity transition is a no-op")

	serverID := "42"
	require.NoError(t, repo.MarkResult(ctx, o.ID, &serverID, `{"ok":true}`, models.OrderActive))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderActive, got.Status)
	require.NotNil(t, got.ServerID)
	assert.Equal(t, "42", *got.ServerID)

	require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderSuspended))
	require.NoError(t, repo.MarkResult(ctx, o.ID, nil, `{"errors":[]}`, models.OrderError))

	got, err = repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderError, got.Status)
	require.NotNil(t, got.ServerID, "server id survives a failed remote call")
	assert.Equal(t, "42", *got.ServerID)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, o.ID, models.OrderPending), ErrIllegalTransition)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, 12345, models.OrderError), ErrNotFound)
}

func TestOrderListExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	activate := func(o *models.Order) {
		require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderProcessing))
		require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderActive))
	}

	expired := createOrder(t, repo, func(o *models.Order) { o.ExpiresAt = &past })
	activate(expired)
	notYet := createOrder(t, repo, func(o *models.Order) { o.ExpiresAt = &future })
	activate(notYet)
	createOrder(t, repo, func(o *models.Order) { o.ExpiresAt = &past }) // pending

	got, err := repo.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)
}

func TestOrderStepExpiryDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(newTestDB(t))
	o := createOrder(t, repo, nil)

	require.NoError(t, repo.SetStep(ctx, o.ID, models.StepAllocation))
	exp := time.Now().Add(48 * time.Hour)
	require.NoError(t, repo.SetExpiry(ctx, o.ID, exp))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepAllocation, got.ProvisionStep)
	assert.WithinDuration(t, exp, *got.ExpiresAt, time.Second)

	require.NoError(t, repo.Delete(ctx, o.ID))
	assert.ErrorIs(t, repo.Delete(ctx, o.ID), ErrNotFound)
}

func TestPlanCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewPlanRepository(newTestDB(t))

	p := &models.Plan{
		Name:         "Basic",
		NestID:       1,
		EggID:        5,
		RAM:          1024,
		Disk:         5000,
		CPU:          100,
		BillingCycle: models.BillingMonthly,
		Price:        decimal.RequireFromString("5.0"),
		Environment:  models.EnvMap{"VERSION": "latest"},
	}
	require.NoError(t, repo.Create(ctx, p))
	require.NotZero(t, p.ID)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "latest", got.Environment["VERSION"])
	assert.True(t, got.Price.Equal(decimal.NewFromInt(5)))

	got.Name = "Basic+"
	got.Environment = nil
	require.NoError(t, repo.Update(ctx, got))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Basic+", list[0].Name)
	assert.Nil(t, list[0].Environment)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, &models.User{Username: "alice", PasswordHash: "x"}))
	err := repo.Create(ctx, &models.User{Username: "alice", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrDuplicate)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "username", dup.Column)

	require.NoError(t, repo.Create(ctx, &models.User{Username: "bob", Email: NormalizeEmail("bob@example.com"), PasswordHash: "x"}))
	err = repo.Create(ctx, &models.User{Username: "bobby", Email: NormalizeEmail("BOB@example.com"), PasswordHash: "x"})
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Column)
}

func TestSQLiteUniqueColumn(t *testing.T) {
	assert.Equal(t, "email", sqliteUniqueColumn("constraint failed: UNIQUE constraint failed: users.email (2067)"))
	assert.Equal(t, "username", sqliteUniqueColumn("UNIQUE constraint failed: users.username"))
	assert.Equal(t, "a", sqliteUniqueColumn("UNIQUE constraint failed: t.a, t.b"))
	assert.Empty(t, sqliteUniqueColumn("something else"))
}

func TestUserRemoteAccountSetOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))
	u := &models.User{Username: "bob", PasswordHash: "x"}
	require.NoError(t, repo.Create(ctx, u))

	pw := "generated"
	ok, err := repo.SetRemoteAccount(ctx, u.ID, 10, &pw)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetRemoteAccount(ctx, u.ID, 11, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RemoteUserID)
	assert.Equal(t, int64(10), *got.RemoteUserID)
	assert.Equal(t, "generated", *got.RemotePassword)
}

func TestUserAdjustBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))
	u := &models.User{Username: "carol", PasswordHash: "x"}
	require.NoError(t, repo.Create(ctx, u))

	bal, err := repo.AdjustBalance(ctx, u.ID, decimal.RequireFromString("10.25"))
	require.NoError(t, err)
	assert.Equal(t, "10.25", bal.String())

	bal, err = repo.AdjustBalance(ctx, u.ID, decimal.RequireFromString("-20"))
	require.NoError(t, err)
	assert.Equal(t, "-9.75", bal.String())

	_, err = repo.AdjustBalance(ctx, 999, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserArchiveAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	admin := &models.User{Username: "root", PasswordHash: "x", IsAdmin: true}
	require.NoError(t, repo.Create(ctx, admin))
	victim := &models.User{Username: "dave", PasswordHash: "x", Email: NormalizeEmail(" Dave@Example.com ")}
	require.NoError(t, repo.Create(ctx, victim))

	assert.ErrorIs(t, repo.ArchiveAndDelete(ctx, admin.ID, &admin.ID), ErrProtected)

	require.NoError(t, repo.ArchiveAndDelete(ctx, victim.ID, &admin.ID))
	_, err := repo.GetByID(ctx, victim.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	archived, err := repo.ListDeleted(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "dave", archived[0].Username)
	assert.Equal(t, "dave@example.com", *archived[0].Email)
	assert.Equal(t, admin.ID, *archived[0].DeletedBy)

	users, total, err := repo.List(ctx, 1, 15)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, users, 1)

	n, err := repo.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewLogRepository(newTestDB(t))

	repo.LogAction(ctx, 7, "checkout_started", models.OrderPending, "started")
	repo.LogActionWithMetadata(ctx, 7, "no_allocation", models.OrderError, "full", map[string]any{"nodes": 2})

	logs, err := repo.ListByOrder(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"checkout_started", "no_allocation"}, actions)
}
