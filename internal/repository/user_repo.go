package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/wenwu/saas-platform/panel-service/internal/db"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

const userColumns = `id, username, email, password_hash, is_admin, balance,
	remote_user_id, remote_password, created_at`

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(conn *sqlx.DB) *UserRepository {
	return &UserRepository{db: conn}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO users (username, email, password_hash, is_admin, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.GetContext(ctx, &u.ID, query,
		u.Username, u.Email, u.PasswordHash, u.IsAdmin, u.Balance, u.CreatedAt.UTC(),
	)
	if err != nil {
		if col, ok := duplicateColumn(err); ok {
			return fmt.Errorf("create user: %w", &DuplicateError{Column: col})
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, r.db, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepository) getOne(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, q, &u, r.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// List returns one page of users ordered by id, plus the total count.
func (r *UserRepository) List(ctx context.Context, page, pageSize int) ([]*models.User, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT ? OFFSET ?`)
	var out []*models.User
	if err := r.db.SelectContext(ctx, &out, query, pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM users WHERE is_admin = ?`), true); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (r *UserRepository) SetAdmin(ctx context.Context, id int64, admin bool) error {
	return r.exec(ctx, id, `UPDATE users SET is_admin = ? WHERE id = ?`, admin, id)
}

func (r *UserRepository) UpdateUsername(ctx context.Context, id int64, username string) error {
	err := r.exec(ctx, id, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil && isDuplicateKeyError(err) {
		return fmt.Errorf("update username: %w", ErrDuplicate)
	}
	return err
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, id, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

// SetRemoteAccount stores the remote panel account mapping. An existing
// mapping is never overwritten; ok reports whether this call stored it.
func (r *UserRepository) SetRemoteAccount(ctx context.Context, id, remoteUserID int64, password *string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET remote_user_id = ?, remote_password = ? WHERE id = ? AND remote_user_id IS NULL`),
		remoteUserID, password, id,
	)
	if err != nil {
		return false, fmt.Errorf("set remote account for user %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AdjustBalance adds delta (which may be negative) to a user's balance and
// returns the new value.
func (r *UserRepository) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		u, err := r.getOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		balance = u.Balance.Add(delta)
		_, err = tx.ExecContext(ctx, r.db.Rebind(`UPDATE users SET balance = ? WHERE id = ?`), balance, id)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
	return balance, err
}

// ArchiveAndDelete copies the user into deleted_users and removes the live
// row in one transaction. Administrators are refused with ErrProtected.
func (r *UserRepository) ArchiveAndDelete(ctx context.Context, id int64, deletedBy *int64) error {
	return db.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		u, err := r.getOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if u.IsAdmin {
			return fmt.Errorf("archive user %d: %w", id, ErrProtected)
		}

		_, err = tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO deleted_users (user_id, username, email, is_admin, balance, remote_user_id,
				created_at, deleted_by, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			u.ID, u.Username, u.Email, u.IsAdmin, u.Balance, u.RemoteUserID,
			u.CreatedAt.UTC(), deletedBy, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("archive user %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}
		return nil
	})
}

func (r *UserRepository) ListDeleted(ctx context.Context) ([]*models.DeletedUser, error) {
	var out []*models.DeletedUser
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, user_id, username, email, is_admin, balance, remote_user_id,
			created_at, deleted_by, deleted_at
		FROM deleted_users
		ORDER BY deleted_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list deleted users: %w", err)
	}
	return out, nil
}

func (r *UserRepository) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// NormalizeEmail lowercases and trims an address; blank becomes nil.
func NormalizeEmail(email string) *string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	return &email
}
