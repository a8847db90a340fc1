package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate key")
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrProtected is returned when an archive would remove an administrator.
	ErrProtected = errors.New("record is protected")
)

// DuplicateError names the column whose unique constraint was violated.
// It matches ErrDuplicate under errors.Is.
type DuplicateError struct {
	Column string
}

func (e *DuplicateError) Error() string {
	if e.Column == "" {
		return ErrDuplicate.Error()
	}
	return ErrDuplicate.Error() + ": " + e.Column
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

func isDuplicateKeyError(err error) bool {
	_, ok := duplicateColumn(err)
	return ok
}

// duplicateColumn reports whether err is a unique violation and, when the
// driver says so, which column caused it.
func duplicateColumn(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		// Key (email)=(a@b.c) already exists.
		if _, rest, ok := strings.Cut(pgErr.Detail, "Key ("); ok {
			if col, _, ok := strings.Cut(rest, ")"); ok {
				return col, true
			}
		}
		name := strings.TrimSuffix(pgErr.ConstraintName, "_key")
		if pgErr.TableName != "" {
			name = strings.TrimPrefix(name, pgErr.TableName+"_")
		}
		return name, true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return sqliteUniqueColumn(liteErr.Error()), true
		}
	}
	return "", false
}

// sqliteUniqueColumn pulls "email" out of
// "... UNIQUE constraint failed: users.email (2067)".
func sqliteUniqueColumn(msg string) string {
	i := strings.LastIndex(msg, "failed: ")
	if i < 0 {
		return ""
	}
	first, _, _ := strings.Cut(msg[i+len("failed: "):], ",")
	_, col, ok := strings.Cut(strings.TrimSpace(first), ".")
	if !ok {
		return ""
	}
	if j := strings.IndexAny(col, " )"); j >= 0 {
		col = col[:j]
	}
	return col
}
