package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fintrack-api/internal/models"
)

const userColumns = `id, username, email, password_hash, full_name, role, active, failed_attempts, temp_bans_count, locked_until, permanently_locked, last_login, created_at, updated_at`

// UserRepository is the durable credential store.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a user by login name.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateLockout reads the lockout fields under a row lock, lets mutate change
// them and writes them back in the same transaction. mutate reports whether
// anything changed; an error from mutate aborts the transaction.
func (r *UserRepository) UpdateLockout(ctx context.Context, id string, mutate func(*models.LockoutState) (bool, error)) (state models.LockoutState, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return state, fmt.Errorf("begin update lockout: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const selectQuery = `SELECT failed_attempts, temp_bans_count, locked_until, permanently_locked FROM users WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &state, selectQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, err
		}
		return state, fmt.Errorf("lock user row: %w", err)
	}

	changed, err := mutate(&state)
	if err != nil {
		return state, err
	}

	if changed {
		const updateQuery = `UPDATE users SET failed_attempts = $2, temp_bans_count = $3, locked_until = $4, permanently_locked = $5, updated_at = NOW() WHERE id = $1`
		if _, err = tx.ExecContext(ctx, updateQuery, id, state.FailedAttempts, state.TempBansCount, state.LockedUntil, state.PermanentlyLocked); err != nil {
			return state, fmt.Errorf("write lockout: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return state, fmt.Errorf("commit update lockout: %w", err)
	}
	return state, nil
}
