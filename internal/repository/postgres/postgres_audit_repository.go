package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/adminauth/internal/models"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
)

const maxAuditPage = 500

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Create(ctx context.Context, event *models.AuditEvent) (err error) {
	if event == nil {
		return pkgerrors.ErrNilAuditEvent
	}
	if !event.Type.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrUnknownEventType, event.Type)
	}

	ctx, done := track(ctx, "CreateAuditEvent")
	defer func() { done(err) }()

	query := `
	INSERT INTO auth_audit (event_type, user_id, username, remote_ip, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		string(event.Type),
		sql.NullInt32{Int32: event.UserID, Valid: event.UserID != 0},
		event.Username,
		event.RemoteIP,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		slog.Error("failed to create audit event", "event_type", event.Type, "username", event.Username, "error", err)
		err = fmt.Errorf("failed to create audit event: %w", err)
		return err
	}
	return nil
}

func (r *PostgresAuditRepository) ListRecent(ctx context.Context, limit int) (events []models.AuditEvent, err error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}

	ctx, done := track(ctx, "ListRecentAuditEvents")
	defer func() { done(err) }()

	query := `
	SELECT id, event_type, user_id, username, remote_ip, created_at
	FROM auth_audit
	ORDER BY created_at DESC, id DESC
	LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		err = fmt.Errorf("failed to list audit events: %w", err)
		return nil, err
	}
	defer rows.Close()

	events = []models.AuditEvent{}
	for rows.Next() {
		var (
			e      models.AuditEvent
			typ    string
			userID sql.NullInt32
		)
		if err = rows.Scan(&e.ID, &typ, &userID, &e.Username, &e.RemoteIP, &e.CreatedAt); err != nil {
			err = fmt.Errorf("failed to scan audit event: %w", err)
			return nil, err
		}
		e.Type = models.AuditEventType(typ)
		e.UserID = userID.Int32
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to iterate audit events: %w", err)
		return nil, err
	}
	return events, nil
}
