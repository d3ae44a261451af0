package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"faceauth/internal/lockout/models"
)

// PostgresStore persists lockout state in lockout_states. Every mutation is a
// single statement, so concurrent failures on one key serialize on its row.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*models.State, error) {
	query := `
		SELECT identity_key, fails, locked_until, updated_at
		FROM lockout_states
		WHERE identity_key = $1
	`
	state, err := scanState(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lockout state: %w", err)
	}
	return state, nil
}

// RecordFailure increments fails and arms the lock in one upsert.
func (s *PostgresStore) RecordFailure(ctx context.Context, key string, threshold int, lockUntil, now time.Time) (*models.State, error) {
	query := `
		INSERT INTO lockout_states (identity_key, fails, locked_until, updated_at)
		VALUES ($1, 1, CASE WHEN 1 >= $2 THEN $3::timestamptz ELSE NULL END, $4)
		ON CONFLICT (identity_key) DO UPDATE SET
			fails = lockout_states.fails + 1,
			locked_until = CASE
				WHEN lockout_states.fails + 1 >= $2 THEN $3::timestamptz
				ELSE lockout_states.locked_until
			END,
			updated_at = $4
		RETURNING identity_key, fails, locked_until, updated_at
	`
	state, err := scanState(s.db.QueryRowContext(ctx, query, key, threshold, lockUntil, now))
	if err != nil {
		return nil, fmt.Errorf("record lockout failure: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Reset(ctx context.Context, key string, now time.Time) error {
	query := `
		INSERT INTO lockout_states (identity_key, fails, locked_until, updated_at)
		VALUES ($1, 0, NULL, $2)
		ON CONFLICT (identity_key) DO UPDATE SET
			fails = 0,
			locked_until = NULL,
			updated_at = $2
	`
	if _, err := s.db.ExecContext(ctx, query, key, now); err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}
	return nil
}

type stateRow interface {
	Scan(dest ...any) error
}

func scanState(row stateRow) (*models.State, error) {
	var state models.State
	var lockedUntil sql.NullTime
	if err := row.Scan(&state.Key, &state.Fails, &lockedUntil, &state.UpdatedAt); err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		state.LockedUntil = lockedUntil.Time
	}
	return &state, nil
}
