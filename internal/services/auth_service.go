package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	stderrors "errors"

	"github.com/honeynil/adminauth/internal/infrastructure/kafka"
	"github.com/honeynil/adminauth/internal/infrastructure/observability"
	"github.com/honeynil/adminauth/internal/infrastructure/redis"
	"github.com/honeynil/adminauth/internal/models"
	"github.com/honeynil/adminauth/internal/repository"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Login(ctx context.Context, username, password, remoteIP string) (*models.User, error)
	UserByID(ctx context.Context, id int32) (*models.User, error)
	RecordEvent(ctx context.Context, eventType models.AuditEventType, p models.Principal, remoteIP string)
	RecentAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

type ThrottleConfig struct {
	MaxAttempts int
	Lockout     time.Duration
}

type authService struct {
	userRepo   repository.UserRepository
	auditRepo  repository.AuditRepository
	redis      redis.RedisClient
	producer   kafka.KafkaProducer
	auditTopic string
	throttle   ThrottleConfig
	compare    func(hash, password []byte) error
}

// dummyHash is compared against for unknown usernames so both failure paths
// cost one bcrypt run.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("adminauth-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("generate dummy password hash: %v", err))
	}
	return hash
})

func NewAuthService(
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	auditTopic string,
	throttle ThrottleConfig,
) *authService {
	return &authService{
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		redis:      redisClient,
		producer:   producer,
		auditTopic: auditTopic,
		throttle:   throttle,
		compare:    bcrypt.CompareHashAndPassword,
	}
}

func attemptsKey(username string) string {
	return fmt.Sprintf("login:attempts:%s", strings.ToLower(username))
}

// Login checks credentials. Failed attempts are counted per username in
// Redis; once MaxAttempts is reached further attempts fail with
// ErrTooManyAttempts until the lockout window expires.
func (s *authService) Login(ctx context.Context, username, password, remoteIP string) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		span.SetStatus(codes.Error, "empty username or password")
		observability.LoginAttempts.WithLabelValues("invalid_input").Inc()
		return nil, pkgerrors.ErrInvalidInput
	}
	span.SetAttributes(attribute.String("username", username))

	key := attemptsKey(username)
	if val, err := s.redis.Get(ctx, key); err == nil {
		if n, _ := strconv.Atoi(val); n >= s.throttle.MaxAttempts {
			span.SetStatus(codes.Error, "too many attempts")
			observability.LoginAttempts.WithLabelValues("throttled").Inc()
			slog.Warn("login throttled", "username", username, "attempts", n, "remote_ip", remoteIP)
			return nil, pkgerrors.ErrTooManyAttempts
		}
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		span.RecordError(err)
		slog.Error("failed to read login attempts, continuing without throttle", "username", username, "error", err)
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "user lookup failed")
			observability.LoginAttempts.WithLabelValues("error").Inc()
			slog.Error("failed to look up user", "username", username, "error", err)
			return nil, fmt.Errorf("%w: failed to look up user", pkgerrors.ErrInternal)
		}
		_ = s.compare(dummyHash(), []byte(password))
		s.loginFailed(ctx, username, remoteIP)
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.loginFailed(ctx, username, remoteIP)
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := s.redis.Del(ctx, key); err != nil {
		slog.Error("failed to reset login attempts", "username", username, "error", err)
	}

	observability.LoginAttempts.WithLabelValues("success").Inc()
	s.RecordEvent(ctx, models.EventLogin, user.Principal(), remoteIP)
	slog.Info("user logged in", "username", username, "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *authService) loginFailed(ctx context.Context, username, remoteIP string) {
	observability.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
	n, err := s.redis.Incr(ctx, attemptsKey(username), s.throttle.Lockout)
	if err != nil {
		slog.Error("failed to count login attempt", "username", username, "error", err)
	}
	slog.Warn("invalid login", "username", username, "attempts", n, "remote_ip", remoteIP)
	s.RecordEvent(ctx, models.EventLoginFailed, models.Principal{Username: username}, remoteIP)
}

func (s *authService) UserByID(ctx context.Context, id int32) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "UserByID")
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "user lookup failed")
		}
		return nil, err
	}
	return user, nil
}

// RecordEvent publishes an audit event. Publishing is best effort and never
// fails the calling operation.
func (s *authService) RecordEvent(ctx context.Context, eventType models.AuditEventType, p models.Principal, remoteIP string) {
	event := models.AuditEvent{
		Type:      eventType,
		UserID:    p.UserID,
		Username:  p.Username,
		RemoteIP:  remoteIP,
		CreatedAt: time.Now().UTC(),
	}
	event.Clamp()
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal audit event", "event_type", eventType, "error", err)
		return
	}
	if err := s.producer.Send(ctx, s.auditTopic, event.Username, eventBytes); err != nil {
		slog.Error("failed to publish audit event", "event_type", eventType, "username", event.Username, "error", err)
	}
}

func (s *authService) RecentAuditEvents(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "RecentAuditEvents")
	defer span.End()

	events, err := s.auditRepo.ListRecent(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit list failed")
		slog.Error("failed to list audit events", "error", err)
		return nil, err
	}
	return events, nil
}
