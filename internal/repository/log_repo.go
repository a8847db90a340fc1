package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

type LogRepository struct {
	db *sqlx.DB
}

func NewLogRepository(db *sqlx.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Create creates a new order log entry
func (r *LogRepository) Create(ctx context.Context, entry *models.OrderLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO order_logs (id, order_id, action, status, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OrderID, entry.Action, entry.Status, entry.Message, entry.Metadata, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order log: %w", err)
	}
	return nil
}

// ListByOrder retrieves logs for an order, newest first
func (r *LogRepository) ListByOrder(ctx context.Context, orderID int64, limit int) ([]*models.OrderLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.Rebind(`
		SELECT id, order_id, action, status, message, metadata, created_at
		FROM order_logs
		WHERE order_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	var out []*models.OrderLog
	if err := r.db.SelectContext(ctx, &out, query, orderID, limit); err != nil {
		return nil, fmt.Errorf("query order logs: %w", err)
	}
	return out, nil
}

// LogAction is a helper to log an action. Failures are reported to the
// process log and otherwise ignored.
func (r *LogRepository) LogAction(ctx context.Context, orderID int64, action string, status models.OrderStatus, message string) {
	r.LogActionWithMetadata(ctx, orderID, action, status, message, nil)
}

// LogActionWithMetadata is a helper to log an action with metadata
func (r *LogRepository) LogActionWithMetadata(ctx context.Context, orderID int64, action string, status models.OrderStatus, message string, metadata map[string]any) {
	entry := &models.OrderLog{
		OrderID:  orderID,
		Action:   action,
		Status:   string(status),
		Message:  message,
		Metadata: metadata,
	}
	if err := r.Create(ctx, entry); err != nil {
		slog.Warn("order log write failed", "order_id", orderID, "action", action, "error", err)
	}
}
