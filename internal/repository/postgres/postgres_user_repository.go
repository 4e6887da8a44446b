package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/adminauth/internal/infrastructure/observability"
	"github.com/honeynil/adminauth/internal/models"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int32) (user *models.User, err error) {
	ctx, done := track(ctx, "GetUserByID")
	defer func() { done(err) }()

	query := `SELECT id, username, password_hash, display_name, role, created_at FROM users WHERE id = $1`
	user, err = scanUser(r.db.QueryRowContext(ctx, query, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user by id", "user_id", id, "error", err)
		err = fmt.Errorf("failed to get user by id: %w", err)
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (user *models.User, err error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrInvalidInput)
	}

	ctx, done := track(ctx, "GetUserByUsername")
	defer func() { done(err) }()

	query := `SELECT id, username, password_hash, display_name, role, created_at FROM users WHERE username = $1`
	user, err = scanUser(r.db.QueryRowContext(ctx, query, username))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user by username", "username", username, "error", err)
		err = fmt.Errorf("failed to get user by username: %w", err)
		return nil, err
	}
	return user, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// track starts a span and returns a callback recording call metrics and the
// span status for method.
func track(ctx context.Context, method string) (context.Context, func(error)) {
	ctx, span := otel.Tracer("repository").Start(ctx, method)
	start := time.Now()

	return ctx, func(err error) {
		status := "success"
		if err != nil && !errors.Is(err, pkgerrors.ErrUserNotFound) {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
