package repository

import (
	"context"

	"github.com/honeynil/adminauth/internal/models"
)

//go:generate mockgen -destination=mocks/mock_audit_repository.go -package=mocks . AuditRepository

type AuditRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]models.AuditEvent, error)
}
