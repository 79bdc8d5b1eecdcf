package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/crm-session-security/internal/core/domain"
	"github.com/arklim/crm-session-security/internal/core/port"
	"github.com/arklim/crm-session-security/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const alertColumns = "id, alert_type, severity, user_id, email, ip, message, details, recommended_action, resolved, resolved_by, resolved_at, resolution_notes, created_at"

// AlertRepository implements port.AlertRepository backed by PostgreSQL.
type AlertRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAlertRepository constructs a repository backed by any executor that
// satisfies pgExecutor (a pool in production, a mock in tests).
func NewAlertRepository(exec pgExecutor) *AlertRepository {
	repo := &AlertRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Create persists a new alert record.
func (r *AlertRepository) Create(ctx context.Context, alert domain.SecurityAlert) error {
	var details []byte
	if len(alert.Details) > 0 {
		encoded, err := json.Marshal(alert.Details)
		if err != nil {
			return fmt.Errorf("encode alert details: %w", err)
		}
		details = encoded
	}

	sqlStmt, args, err := r.builder.Insert("security.alerts").
		Columns(
			"id",
			"alert_type",
			"severity",
			"user_id",
			"email",
			"ip",
			"message",
			"details",
			"recommended_action",
			"resolved",
			"created_at",
		).
		Values(
			alert.ID,
			string(alert.AlertType),
			string(alert.Severity),
			alert.UserID,
			alert.Email,
			alert.IP,
			alert.Message,
			details,
			alert.RecommendedAction,
			alert.Resolved,
			alert.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert alert sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	return nil
}

// GetByID fetches a single alert.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.SecurityAlert, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("alert id is required")
	}

	sqlStmt, args, err := r.builder.
		Select(strings.Split(alertColumns, ", ")...).
		From("security.alerts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select alert sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, sqlStmt, args...)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select alert: %w", err)
	}

	return alert, nil
}

// Resolve marks the alert resolved. Returns repository.ErrNotFound when the
// alert does not exist; resolving an already-resolved alert is a no-op that
// preserves the original resolution.
func (r *AlertRepository) Resolve(ctx context.Context, id, adminID, notes string, at time.Time) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("alert id is required")
	}

	update := r.builder.Update("security.alerts").
		Set("resolved", true).
		Set("resolved_by", adminID).
		Set("resolved_at", at).
		Where(squirrel.Eq{"id": id, "resolved": false})
	if notes != "" {
		update = update.Set("resolution_notes", notes)
	}

	sqlStmt, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build update alert sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-resolved.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}

	return nil
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter port.AlertFilter) ([]domain.SecurityAlert, error) {
	query := r.builder.
		Select(strings.Split(alertColumns, ", ")...).
		From("security.alerts").
		OrderBy("created_at DESC")

	query = applyAlertFilter(query, filter)

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sqlStmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list alerts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sqlStmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.SecurityAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	return alerts, nil
}

// Count returns the number of alerts matching the filter.
func (r *AlertRepository) Count(ctx context.Context, filter port.AlertFilter) (int, error) {
	query := r.builder.Select("COUNT(*)").From("security.alerts")
	query = applyAlertFilter(query, filter)

	sqlStmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count alerts sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, sqlStmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}

	return count, nil
}

func applyAlertFilter(query squirrel.SelectBuilder, filter port.AlertFilter) squirrel.SelectBuilder {
	if filter.AlertType != nil {
		query = query.Where(squirrel.Eq{"alert_type": string(*filter.AlertType)})
	}
	if filter.Severity != nil {
		query = query.Where(squirrel.Eq{"severity": string(*filter.Severity)})
	}
	if filter.Resolved != nil {
		query = query.Where(squirrel.Eq{"resolved": *filter.Resolved})
	}
	if filter.UserID != "" {
		query = query.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	return query
}

func scanAlert(row pgx.Row) (*domain.SecurityAlert, error) {
	var (
		alert     domain.SecurityAlert
		alertType string
		severity  string
		details   []byte
	)

	if err := row.Scan(
		&alert.ID,
		&alertType,
		&severity,
		&alert.UserID,
		&alert.Email,
		&alert.IP,
		&alert.Message,
		&details,
		&alert.RecommendedAction,
		&alert.Resolved,
		&alert.ResolvedBy,
		&alert.ResolvedAt,
		&alert.ResolutionNotes,
		&alert.CreatedAt,
	); err != nil {
		return nil, err
	}

	alert.AlertType = domain.AlertType(alertType)
	alert.Severity = domain.AlertSeverity(severity)

	if len(details) > 0 {
		if err := json.Unmarshal(details, &alert.Details); err != nil {
			return nil, fmt.Errorf("decode alert details: %w", err)
		}
	}

	return &alert, nil
}

var _ port.AlertRepository = (*AlertRepository)(nil)
