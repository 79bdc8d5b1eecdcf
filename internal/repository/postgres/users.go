package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/repository"
)

// UserLookupRepository reads the slice of the host CRM's user table the
// security core needs. The CRM owns the schema; this repository only selects.
type UserLookupRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserLookupRepository constructs a read-only user lookup.
func NewUserLookupRepository(exec pgExecutor) *UserLookupRepository {
	repo := &UserLookupRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// GetByID resolves a user by primary key.
func (r *UserLookupRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("user id is required")
	}

	sqlStmt, args, err := r.builder.
		Select("id", "email", "role", "is_active").
		From("crm.users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	if err := r.exec.QueryRow(ctx, sqlStmt, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.IsActive,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}

	return &user, nil
}

var _ port.UserLookup = (*UserLookupRepository)(nil)
