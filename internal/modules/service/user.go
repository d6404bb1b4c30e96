package service

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/repo"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const userCachePrefix = "collab:user:"

// DisplayInfo is what other collaborators see of a user.
type DisplayInfo struct {
	Username  string `json:"username"`
	FullName  string `json:"fullName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type UserService interface {
	GetDisplayInfo(ctx context.Context, userID string) (*DisplayInfo, error)
	EnsureSystemUser(ctx context.Context, username string) (*model.User, error)
}

type userService struct {
	r   repo.UserRepo
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewUserService returns a UserService. A nil rdb disables caching.
func NewUserService(r repo.UserRepo, rdb *redis.Client, ttl time.Duration, log *zap.Logger) UserService {
	return &userService{r: r, rdb: rdb, ttl: ttl, log: log}
}

func (s *userService) GetDisplayInfo(ctx context.Context, userID string) (*DisplayInfo, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrInvalidID
	}

	key := userCachePrefix + id.String()
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var info DisplayInfo
			if err := sonic.Unmarshal(raw, &info); err == nil {
				return &info, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.Warn("user cache read failed", zap.String("user", userID), zap.Error(err))
		}
	}

	u, err := s.r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	info := &DisplayInfo{Username: u.Username, FullName: u.FullName, AvatarURL: u.AvatarURL}

	if s.rdb != nil {
		if b, err := sonic.Marshal(info); err == nil {
			if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
				s.log.Warn("user cache write failed", zap.String("user", userID), zap.Error(err))
			}
		}
	}
	return info, nil
}

// EnsureSystemUser returns the account debounced saves are attributed to,
// creating it on first use.
func (s *userService) EnsureSystemUser(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, errors.New("system username is empty")
	}
	return s.r.GetOrCreateByUsername(ctx, username, "System")
}
