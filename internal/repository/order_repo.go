package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

const orderColumns = `o.id, o.user_id, o.plan_id, o.server_name, o.price, o.billing_cycle,
	o.status, o.server_id, o.remote_response, o.provision_step, o.created_at, o.expires_at`

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a pending order and fills in its id.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	if o.Status == "" {
		o.Status = models.OrderPending
	}
	if o.ProvisionStep == "" {
		o.ProvisionStep = models.StepCreated
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO orders (user_id, plan_id, server_name, price, billing_cycle, status,
			provision_step, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.GetContext(ctx, &o.ID, query,
		o.UserID, o.PlanID, o.ServerName, o.Price, o.BillingCycle, o.Status,
		o.ProvisionStep, o.CreatedAt.UTC(), utcPtr(o.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	query := r.db.Rebind(`SELECT ` + orderColumns + ` FROM orders o WHERE o.id = ?`)

	var o models.Order
	err := r.db.GetContext(ctx, &o, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first, with plan names.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]*models.OrderView, error) {
	query := r.db.Rebind(`
		SELECT ` + orderColumns + `, p.name AS plan_name, u.username AS username
		FROM orders o
		LEFT JOIN plans p ON p.id = o.plan_id
		LEFT JOIN users u ON u.id = o.user_id
		WHERE o.user_id = ?
		ORDER BY o.created_at DESC, o.id DESC`)

	var out []*models.OrderView
	if err := r.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("list orders for user %d: %w", userID, err)
	}
	return out, nil
}

// ListAll returns every order for the admin services page.
func (r *OrderRepository) ListAll(ctx context.Context) ([]*models.OrderView, error) {
	query := `
		SELECT ` + orderColumns + `, p.name AS plan_name, u.username AS username
		FROM orders o
		LEFT JOIN plans p ON p.id = o.plan_id
		LEFT JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC, o.id DESC`

	var out []*models.OrderView
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// ListExpired returns active orders whose expiry is at or before now.
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Order, error) {
	query := r.db.Rebind(`
		SELECT ` + orderColumns + ` FROM orders o
		WHERE o.status = ? AND o.expires_at IS NOT NULL AND o.expires_at <= ?
		ORDER BY o.expires_at, o.id`)

	var out []*models.Order
	if err := r.db.SelectContext(ctx, &out, query, models.OrderActive, now.UTC()); err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	return out, nil
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	query := r.db.Rebind(`SELECT ` + orderColumns + ` FROM orders o WHERE o.status = ? ORDER BY o.id`)

	var out []*models.Order
	if err := r.db.SelectContext(ctx, &out, query, status); err != nil {
		return nil, fmt.Errorf("list %s orders: %w", status, err)
	}
	return out, nil
}

// UpdateStatus moves an order to next. The update only applies when the
// current status may legally transition to next.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, next models.OrderStatus) error {
	return r.transition(ctx, id, next, "", nil)
}

// MarkResult records the outcome of a remote call together with the new
// status. A nil serverID keeps the stored one.
func (r *OrderRepository) MarkResult(ctx context.Context, id int64, serverID *string, response string, next models.OrderStatus) error {
	return r.transition(ctx, id, next,
		"server_id = COALESCE(?, server_id), remote_response = ?",
		[]any{serverID, response},
	)
}

func (r *OrderRepository) transition(ctx context.Context, id int64, next models.OrderStatus, set string, setArgs []any) error {
	if !next.Valid() {
		return fmt.Errorf("update order %d: %w: unknown status %q", id, ErrIllegalTransition, next)
	}

	assignments := "status = ?"
	args := []any{next}
	if set != "" {
		assignments += ", " + set
		args = append(args, setArgs...)
	}
	args = append(args, id, models.SourcesOf(next))

	query, inArgs, err := sqlx.In(`UPDATE orders SET `+assignments+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return fmt.Errorf("build order update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), inArgs...)
	if err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("update order %d: %w: %s -> %s", id, ErrIllegalTransition, current.Status, next)
}

func (r *OrderRepository) SetStep(ctx context.Context, id int64, step models.ProvisionStep) error {
	return r.exec(ctx, id, `UPDATE orders SET provision_step = ? WHERE id = ?`, step, id)
}

func (r *OrderRepository) SetExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	return r.exec(ctx, id, `UPDATE orders SET expires_at = ? WHERE id = ?`, expiresAt.UTC(), id)
}

// SetRemoteResponse records a diagnostic without touching status.
func (r *OrderRepository) SetRemoteResponse(ctx context.Context, id int64, response string) error {
	return r.exec(ctx, id, `UPDATE orders SET remote_response = ? WHERE id = ?`, response, id)
}

func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, id, `DELETE FROM orders WHERE id = ?`, id)
}

func (r *OrderRepository) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("order %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
