package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a panel account.
type User struct {
	ID             int64           `db:"id" json:"id"`
	Username       string          `db:"username" json:"username"`
	Email          *string         `db:"email" json:"email,omitempty"`
	PasswordHash   string          `db:"password_hash" json:"-"`
	IsAdmin        bool            `db:"is_admin" json:"is_admin"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	RemoteUserID   *int64          `db:"remote_user_id" json:"remote_user_id,omitempty"`
	RemotePassword *string         `db:"remote_password" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

func (u *User) EmailOrEmpty() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// DeletedUser is an archived copy of a removed account.
type DeletedUser struct {
	ID           int64           `db:"id" json:"id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	Username     string          `db:"username" json:"username"`
	Email        *string         `db:"email" json:"email,omitempty"`
	IsAdmin      bool            `db:"is_admin" json:"is_admin"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	RemoteUserID *int64          `db:"remote_user_id" json:"remote_user_id,omitempty"`
	CreatedAt    *time.Time      `db:"created_at" json:"created_at,omitempty"`
	DeletedBy    *int64          `db:"deleted_by" json:"deleted_by,omitempty"`
	DeletedAt    time.Time       `db:"deleted_at" json:"deleted_at"`
}
