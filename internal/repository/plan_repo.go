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

const planColumns = `id, name, nest_id, egg_id, ram, disk, cpu, databases, backups,
	billing_cycle, price, environment, startup, docker_image, created_at`

type PlanRepository struct {
	db *sqlx.DB
}

func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Create(ctx context.Context, p *models.Plan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO plans (name, nest_id, egg_id, ram, disk, cpu, databases, backups,
			billing_cycle, price, environment, startup, docker_image, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.GetContext(ctx, &p.ID, query,
		p.Name, p.NestID, p.EggID, p.RAM, p.Disk, p.CPU, p.Databases, p.Backups,
		p.BillingCycle, p.Price, p.Environment, p.Startup, p.DockerImage, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) Update(ctx context.Context, p *models.Plan) error {
	query := r.db.Rebind(`
		UPDATE plans
		SET name = ?, nest_id = ?, egg_id = ?, ram = ?, disk = ?, cpu = ?, databases = ?, backups = ?,
			billing_cycle = ?, price = ?, environment = ?, startup = ?, docker_image = ?
		WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query,
		p.Name, p.NestID, p.EggID, p.RAM, p.Disk, p.CPU, p.Databases, p.Backups,
		p.BillingCycle, p.Price, p.Environment, p.Startup, p.DockerImage, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update plan %d: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update plan %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a plan. Orders keep their plan id and price snapshot.
func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM plans WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete plan %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete plan %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	var p models.Plan
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get plan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %d: %w", id, err)
	}
	return &p, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]*models.Plan, error) {
	var out []*models.Plan
	if err := r.db.SelectContext(ctx, &out, `SELECT `+planColumns+` FROM plans ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return out, nil
}
