package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"faceauth/internal/identity/models"
	"faceauth/pkg/platform/sentinel"
)

// PostgresStore persists enrolled templates in the users table. Embeddings are
// DOUBLE PRECISION[] columns mapped through pq.Float64Array.
type PostgresStore struct {
	db *sql.DB
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const templateColumns = `username, embedding, role, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, username string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM users WHERE username = $1`
	t, err := scanTemplate(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return t, nil
}

// Upsert inserts or replaces the embedding in one statement. Under
// reset_to_default the existing role is overwritten with defaultRole.
func (s *PostgresStore) Upsert(ctx context.Context, username string, embedding []float64, defaultRole models.Role, policy models.ReenrollPolicy, now time.Time) (*models.Template, error) {
	query := `
		INSERT INTO users (username, embedding, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (username) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			role = CASE WHEN $5 THEN EXCLUDED.role ELSE users.role END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + templateColumns
	reset := policy == models.ReenrollResetToDefault
	t, err := scanTemplate(s.db.QueryRowContext(ctx, query,
		username, pq.Float64Array(embedding), string(defaultRole), now, reset))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, username string, role models.Role, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE username = $1`,
		username, string(role), now)
	if err != nil {
		return false, fmt.Errorf("update user role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user role rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

type templateRow interface {
	Scan(dest ...any) error
}

func scanTemplate(row templateRow) (*models.Template, error) {
	var (
		t         models.Template
		embedding pq.Float64Array
		role      string
	)
	if err := row.Scan(&t.Username, &embedding, &role, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Embedding = []float64(embedding)
	t.Role = models.Role(role)
	return &t, nil
}
