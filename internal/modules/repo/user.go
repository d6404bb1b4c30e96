package repo

import (
	"context"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepo interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetOrCreateByUsername(ctx context.Context, username, fullName string) (*model.User, error)
}

type userRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetOrCreateByUsername(ctx context.Context, username, fullName string) (*model.User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	created := model.User{Username: username, FullName: fullName}
	if err := r.db.WithContext(ctx).Create(&created).Error; err != nil {
		// Another instance may have created it concurrently
		if existing, getErr := r.GetByUsername(ctx, username); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return &created, nil
}
