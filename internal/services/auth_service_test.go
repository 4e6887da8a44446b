package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	kafkamocks "github.com/honeynil/adminauth/internal/infrastructure/kafka/mocks"
	"github.com/honeynil/adminauth/internal/infrastructure/redis"
	redismocks "github.com/honeynil/adminauth/internal/infrastructure/redis/mocks"
	"github.com/honeynil/adminauth/internal/models"
	repositorymocks "github.com/honeynil/adminauth/internal/repository/mocks"
	pkgerrors "github.com/honeynil/adminauth/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const auditTopic = "auth-audit"

type serviceDeps struct {
	userRepo  *repositorymocks.MockUserRepository
	auditRepo *repositorymocks.MockAuditRepository
	redis     *redismocks.MockRedisClient
	producer  *kafkamocks.MockKafkaProducer
}

func newTestService(t *testing.T) (*authService, serviceDeps) {
	ctrl := gomock.NewController(t)
	deps := serviceDeps{
		userRepo:  repositorymocks.NewMockUserRepository(ctrl),
		auditRepo: repositorymocks.NewMockAuditRepository(ctrl),
		redis:     redismocks.NewMockRedisClient(ctrl),
		producer:  kafkamocks.NewMockKafkaProducer(ctrl),
	}
	svc := NewAuthService(deps.userRepo, deps.auditRepo, deps.redis, deps.producer, auditTopic, ThrottleConfig{
		MaxAttempts: 3,
		Lockout:     15 * time.Minute,
	})
	return svc, deps
}

func hashedUser(t *testing.T, password string) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           1,
		Username:     "alice",
		PasswordHash: string(hash),
		DisplayName:  "Alice Admin",
		Role:         models.RoleAdmin,
	}
}

// auditOf matches a published audit event by type.
func auditOf(eventType models.AuditEventType) gomock.Matcher {
	return auditMatcher{eventType}
}

type auditMatcher struct {
	eventType models.AuditEventType
}

func (m auditMatcher) Matches(x interface{}) bool {
	raw, ok := x.([]byte)
	if !ok {
		return false
	}
	var event models.AuditEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return false
	}
	return event.Type == m.eventType
}

func (m auditMatcher) String() string {
	return "audit event " + string(m.eventType)
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login", func(t *testing.T) {
		svc, deps := newTestService(t)
		user := hashedUser(t, "secret")

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:alice").Return("", redis.ErrKeyNotFound)
		deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "alice").Return(user, nil)
		deps.redis.EXPECT().Del(gomock.Any(), "login:attempts:alice").Return(nil)
		deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "alice", auditOf(models.EventLogin)).Return(nil)

		got, err := svc.Login(ctx, " alice ", "secret", "10.0.0.1")
		assert.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("empty credentials", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Login(ctx, "  ", "secret", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		_, err = svc.Login(ctx, "alice", "", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, deps := newTestService(t)
		user := hashedUser(t, "secret")

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:alice").Return("1", nil)
		deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "alice").Return(user, nil)
		deps.redis.EXPECT().Incr(gomock.Any(), "login:attempts:alice", 15*time.Minute).Return(int64(2), nil)
		deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "alice", auditOf(models.EventLoginFailed)).Return(nil)

		got, err := svc.Login(ctx, "alice", "wrong", "10.0.0.1")
		assert.Nil(t, got)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, deps := newTestService(t)

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:mallory").Return("", redis.ErrKeyNotFound)
		deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "Mallory").Return(nil, pkgerrors.ErrUserNotFound)
		deps.redis.EXPECT().Incr(gomock.Any(), "login:attempts:mallory", 15*time.Minute).Return(int64(1), nil)
		deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "Mallory", auditOf(models.EventLoginFailed)).Return(nil)

		_, err := svc.Login(ctx, "Mallory", "whatever", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("throttled", func(t *testing.T) {
		svc, deps := newTestService(t)

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:alice").Return("3", nil)

		_, err := svc.Login(ctx, "alice", "secret", "")
		assert.ErrorIs(t, err, pkgerrors.ErrTooManyAttempts)
	})

	t.Run("redis down fails open", func(t *testing.T) {
		svc, deps := newTestService(t)
		user := hashedUser(t, "secret")

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:alice").Return("", errors.New("connection refused"))
		deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "alice").Return(user, nil)
		deps.redis.EXPECT().Del(gomock.Any(), "login:attempts:alice").Return(errors.New("connection refused"))
		deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "alice", gomock.Any()).Return(errors.New("broker down"))

		got, err := svc.Login(ctx, "alice", "secret", "")
		assert.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("repository error", func(t *testing.T) {
		svc, deps := newTestService(t)

		deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:alice").Return("", redis.ErrKeyNotFound)
		deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "alice").Return(nil, errors.New("database error"))

		_, err := svc.Login(ctx, "alice", "secret", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInternal)
	})
}

func TestAuthService_UserByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		svc, deps := newTestService(t)
		user := &models.User{ID: 1, Username: "alice"}
		deps.userRepo.EXPECT().GetByID(gomock.Any(), int32(1)).Return(user, nil)

		got, err := svc.UserByID(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("not found", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.userRepo.EXPECT().GetByID(gomock.Any(), int32(2)).Return(nil, pkgerrors.ErrUserNotFound)

		_, err := svc.UserByID(ctx, 2)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})
}

func TestAuthService_RecordEvent(t *testing.T) {
	svc, deps := newTestService(t)
	p := models.Principal{UserID: 1, Username: "alice", Role: models.RoleAdmin}

	var published []byte
	deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "alice", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, value []byte) error {
			published = value
			return nil
		})

	svc.RecordEvent(context.Background(), models.EventLogout, p, "10.0.0.1")

	var event models.AuditEvent
	require.NoError(t, json.Unmarshal(published, &event))
	assert.Equal(t, models.EventLogout, event.Type)
	assert.Equal(t, int32(1), event.UserID)
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "10.0.0.1", event.RemoteIP)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestAuthService_RecentAuditEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, deps := newTestService(t)
		events := []models.AuditEvent{{ID: 2, Type: models.EventLogin, Username: "alice"}}
		deps.auditRepo.EXPECT().ListRecent(gomock.Any(), 10).Return(events, nil)

		got, err := svc.RecentAuditEvents(ctx, 10)
		assert.NoError(t, err)
		assert.Equal(t, events, got)
	})

	t.Run("error", func(t *testing.T) {
		svc, deps := newTestService(t)
		deps.auditRepo.EXPECT().ListRecent(gomock.Any(), 10).Return(nil, errors.New("database error"))

		got, err := svc.RecentAuditEvents(ctx, 10)
		assert.Nil(t, got)
		assert.Error(t, err)
	})
}

func TestAuthService_LoginFailedLongUsername(t *testing.T) {
	svc, deps := newTestService(t)
	username := strings.Repeat("x", 60)
	clamped := username[:models.MaxAuditUsernameLen]

	var published []byte
	deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:"+username).Return("", redis.ErrKeyNotFound)
	deps.userRepo.EXPECT().GetByUsername(gomock.Any(), username).Return(nil, pkgerrors.ErrUserNotFound)
	deps.redis.EXPECT().Incr(gomock.Any(), "login:attempts:"+username, 15*time.Minute).Return(int64(1), nil)
	deps.producer.EXPECT().Send(gomock.Any(), auditTopic, clamped, auditOf(models.EventLoginFailed)).
		DoAndReturn(func(_ context.Context, _, _ string, value []byte) error {
			published = value
			return nil
		})

	_, err := svc.Login(context.Background(), username, "whatever", strings.Repeat("9", 100))
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)

	var event models.AuditEvent
	require.NoError(t, json.Unmarshal(published, &event))
	assert.Equal(t, clamped, event.Username)
	assert.Len(t, event.RemoteIP, models.MaxAuditRemoteIPLen)
}

func TestAuthService_UnknownUserStillHashes(t *testing.T) {
	svc, deps := newTestService(t)

	var hashes [][]byte
	svc.compare = func(hash, password []byte) error {
		hashes = append(hashes, hash)
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	deps.redis.EXPECT().Get(gomock.Any(), "login:attempts:ghost").Return("", redis.ErrKeyNotFound)
	deps.userRepo.EXPECT().GetByUsername(gomock.Any(), "ghost").Return(nil, pkgerrors.ErrUserNotFound)
	deps.redis.EXPECT().Incr(gomock.Any(), "login:attempts:ghost", 15*time.Minute).Return(int64(1), nil)
	deps.producer.EXPECT().Send(gomock.Any(), auditTopic, "ghost", auditOf(models.EventLoginFailed)).Return(nil)

	_, err := svc.Login(context.Background(), "ghost", "guess", "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)

	require.Len(t, hashes, 1)
	assert.Equal(t, dummyHash(), hashes[0])
	cost, err := bcrypt.Cost(hashes[0])
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
