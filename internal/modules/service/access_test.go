package service

import (
	"context"
	"errors"
	"testing"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockProjectRepo is a mock implementation of ProjectRepo
type MockProjectRepo struct {
	mock.Mock
}

func (m *MockProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *MockProjectRepo) GetMember(ctx context.Context, projectID uuid.UUID, userID uuid.UUID) (*model.ProjectMember, error) {
	args := m.Called(ctx, projectID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProjectMember), args.Error(1)
}

func (m *MockProjectRepo) UpsertMember(ctx context.Context, pm *model.ProjectMember) error {
	args := m.Called(ctx, pm)
	return args.Error(0)
}

func TestAccessService_CanAccess(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	ownerID := uuid.New()
	userID := uuid.New()

	private := &model.Project{ID: projectID, OwnerID: ownerID}
	public := &model.Project{ID: projectID, OwnerID: ownerID, IsPublic: true}

	tests := []struct {
		name    string
		userID  string
		action  model.Access
		setup   func(*MockProjectRepo)
		want    bool
		wantErr error
	}{
		{
			name:   "owner may write",
			userID: ownerID.String(),
			action: model.AccessWrite,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(private, nil)
			},
			want: true,
		},
		{
			name:   "editor may write",
			userID: userID.String(),
			action: model.AccessWrite,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(private, nil)
				r.On("GetMember", ctx, projectID, userID).Return(&model.ProjectMember{Role: model.RoleEditor}, nil)
			},
			want: true,
		},
		{
			name:   "viewer may read",
			userID: userID.String(),
			action: model.AccessRead,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(private, nil)
				r.On("GetMember", ctx, projectID, userID).Return(&model.ProjectMember{Role: model.RoleViewer}, nil)
			},
			want: true,
		},
		{
			name:   "viewer may not write",
			userID: userID.String(),
			action: model.AccessWrite,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(private, nil)
				r.On("GetMember", ctx, projectID, userID).Return(&model.ProjectMember{Role: model.RoleViewer}, nil)
			},
			want: false,
		},
		{
			name:   "stranger may read public project",
			userID: userID.String(),
			action: model.AccessRead,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(public, nil)
				r.On("GetMember", ctx, projectID, userID).Return(nil, gorm.ErrRecordNotFound)
			},
			want: true,
		},
		{
			name:   "stranger may not write public project",
			userID: userID.String(),
			action: model.AccessWrite,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(public, nil)
				r.On("GetMember", ctx, projectID, userID).Return(nil, gorm.ErrRecordNotFound)
			},
			want: false,
		},
		{
			name:   "stranger may not read private project",
			userID: userID.String(),
			action: model.AccessRead,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(private, nil)
				r.On("GetMember", ctx, projectID, userID).Return(nil, gorm.ErrRecordNotFound)
			},
			want: false,
		},
		{
			name:   "missing project",
			userID: userID.String(),
			action: model.AccessRead,
			setup: func(r *MockProjectRepo) {
				r.On("GetByID", ctx, projectID).Return(nil, gorm.ErrRecordNotFound)
			},
			wantErr: ErrProjectNotFound,
		},
		{
			name:   "malformed user id",
			userID: "not-a-uuid",
			action: model.AccessRead,
			setup:  func(r *MockProjectRepo) {},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockProjectRepo{}
			tt.setup(mockRepo)

			svc := NewAccessService(mockRepo)
			got, err := svc.CanAccess(ctx, tt.userID, projectID.String(), tt.action)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAccessService_CanAccess_RepoError(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	userID := uuid.New()

	mockRepo := &MockProjectRepo{}
	mockRepo.On("GetByID", ctx, projectID).Return(&model.Project{ID: projectID, OwnerID: uuid.New()}, nil)
	mockRepo.On("GetMember", ctx, projectID, userID).Return(nil, errors.New("connection reset"))

	ok, err := NewAccessService(mockRepo).CanAccess(ctx, userID.String(), projectID.String(), model.AccessRead)
	assert.Error(t, err)
	assert.False(t, ok)
}
