package service

import (
	"context"
	"errors"
	"testing"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockFileRepo is a mock implementation of FileRepo
type MockFileRepo struct {
	mock.Mock
}

func (m *MockFileRepo) Create(ctx context.Context, f *model.ProjectFile) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFileRepo) GetByPath(ctx context.Context, projectID uuid.UUID, path string) (*model.ProjectFile, error) {
	args := m.Called(ctx, projectID, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProjectFile), args.Error(1)
}

func (m *MockFileRepo) ExistsByPath(ctx context.Context, projectID uuid.UUID, path string) (bool, error) {
	args := m.Called(ctx, projectID, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileRepo) UpdateContent(ctx context.Context, projectID uuid.UUID, path string, content string, size int64, authorID *uuid.UUID) (int64, error) {
	args := m.Called(ctx, projectID, path, content, size, authorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileRepo) Rename(ctx context.Context, projectID uuid.UUID, path string, newPath string, actorID *uuid.UUID) (int64, error) {
	args := m.Called(ctx, projectID, path, newPath, actorID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileRepo) DeleteByPath(ctx context.Context, projectID uuid.UUID, path string) (int64, error) {
	args := m.Called(ctx, projectID, path)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileRepo) ListPaths(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestFileService_UpdateFile(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	authorID := uuid.New()

	tests := []struct {
		name     string
		path     string
		authorID string
		setup    func(*MockFileRepo)
		wantErr  error
	}{
		{
			name:     "writes normalized path",
			path:     "/src/main.go",
			authorID: authorID.String(),
			setup: func(r *MockFileRepo) {
				r.On("UpdateContent", ctx, projectID, "src/main.go", "package main", int64(12), &authorID).Return(int64(1), nil)
			},
		},
		{
			name: "no author",
			path: "main.go",
			setup: func(r *MockFileRepo) {
				r.On("UpdateContent", ctx, projectID, "main.go", "package main", int64(12), (*uuid.UUID)(nil)).Return(int64(1), nil)
			},
		},
		{
			name: "missing file",
			path: "gone.go",
			setup: func(r *MockFileRepo) {
				r.On("UpdateContent", ctx, projectID, "gone.go", "package main", int64(12), (*uuid.UUID)(nil)).Return(int64(0), nil)
			},
			wantErr: ErrFileNotFound,
		},
		{
			name:    "traversal rejected",
			path:    "../secret",
			setup:   func(r *MockFileRepo) {},
			wantErr: ErrInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockFileRepo{}
			tt.setup(mockRepo)

			svc := NewFileService(mockRepo)
			err := svc.UpdateFile(ctx, projectID.String(), tt.path, "package main", tt.authorID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestFileService_CreateFile(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	actorID := uuid.New()

	t.Run("creates with detected mime type", func(t *testing.T) {
		mockRepo := &MockFileRepo{}
		mockRepo.On("ExistsByPath", ctx, projectID, "cmd/main.go").Return(false, nil)
		mockRepo.On("Create", ctx, mock.MatchedBy(func(f *model.ProjectFile) bool {
			return f.ProjectID == projectID &&
				f.Path == "cmd/main.go" &&
				f.Size == int64(len("package main\n")) &&
				f.MimeType == "text/x-go; charset=utf-8" &&
				f.LastModifiedBy != nil && *f.LastModifiedBy == actorID
		})).Return(nil)

		f, err := NewFileService(mockRepo).CreateFile(ctx, projectID.String(), "cmd/main.go", "package main\n", actorID.String())
		require.NoError(t, err)
		assert.Equal(t, "cmd/main.go", f.Path)
		mockRepo.AssertExpectations(t)
	})

	t.Run("existing path", func(t *testing.T) {
		mockRepo := &MockFileRepo{}
		mockRepo.On("ExistsByPath", ctx, projectID, "main.go").Return(true, nil)

		f, err := NewFileService(mockRepo).CreateFile(ctx, projectID.String(), "main.go", "", actorID.String())
		assert.ErrorIs(t, err, ErrFileExists)
		assert.Nil(t, f)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("duplicate key from a racing create", func(t *testing.T) {
		mockRepo := &MockFileRepo{}
		mockRepo.On("ExistsByPath", ctx, projectID, "main.go").Return(false, nil)
		mockRepo.On("Create", ctx, mock.Anything).Return(gorm.ErrDuplicatedKey)

		_, err := NewFileService(mockRepo).CreateFile(ctx, projectID.String(), "main.go", "", actorID.String())
		assert.ErrorIs(t, err, ErrFileExists)
	})

	t.Run("malformed project id", func(t *testing.T) {
		_, err := NewFileService(&MockFileRepo{}).CreateFile(ctx, "nope", "main.go", "", actorID.String())
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})
}

func TestFileService_DeleteFile(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	mockRepo := &MockFileRepo{}
	mockRepo.On("DeleteByPath", ctx, projectID, "a.go").Return(int64(1), nil)
	mockRepo.On("DeleteByPath", ctx, projectID, "b.go").Return(int64(0), nil)
	mockRepo.On("DeleteByPath", ctx, projectID, "c.go").Return(int64(0), errors.New("db down"))

	svc := NewFileService(mockRepo)
	assert.NoError(t, svc.DeleteFile(ctx, projectID.String(), "a.go", ""))
	assert.ErrorIs(t, svc.DeleteFile(ctx, projectID.String(), "b.go", ""), ErrFileNotFound)
	assert.EqualError(t, svc.DeleteFile(ctx, projectID.String(), "c.go", ""), "db down")
}

func TestFileService_RenameFile(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	actorID := uuid.New()

	tests := []struct {
		name    string
		from    string
		to      string
		setup   func(*MockFileRepo)
		wantErr error
	}{
		{
			name: "renames",
			from: "old.go",
			to:   "pkg/new.go",
			setup: func(r *MockFileRepo) {
				r.On("ExistsByPath", ctx, projectID, "pkg/new.go").Return(false, nil)
				r.On("Rename", ctx, projectID, "old.go", "pkg/new.go", &actorID).Return(int64(1), nil)
				r.On("GetByPath", ctx, projectID, "pkg/new.go").Return(&model.ProjectFile{ProjectID: projectID, Path: "pkg/new.go"}, nil)
			},
		},
		{
			name: "target exists",
			from: "old.go",
			to:   "taken.go",
			setup: func(r *MockFileRepo) {
				r.On("ExistsByPath", ctx, projectID, "taken.go").Return(true, nil)
			},
			wantErr: ErrFileExists,
		},
		{
			name: "source missing",
			from: "ghost.go",
			to:   "new.go",
			setup: func(r *MockFileRepo) {
				r.On("ExistsByPath", ctx, projectID, "new.go").Return(false, nil)
				r.On("Rename", ctx, projectID, "ghost.go", "new.go", &actorID).Return(int64(0), nil)
			},
			wantErr: ErrFileNotFound,
		},
		{
			name:    "same path after normalization",
			from:    "a.go",
			to:      "/a.go",
			setup:   func(r *MockFileRepo) {},
			wantErr: ErrInvalidPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockFileRepo{}
			tt.setup(mockRepo)

			f, err := NewFileService(mockRepo).RenameFile(ctx, projectID.String(), tt.from, tt.to, actorID.String())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, f)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, f.Path)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestFileService_ListPaths(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	mockRepo := &MockFileRepo{}
	mockRepo.On("ListPaths", ctx, projectID).Return([]string{"a.go", "b/c.go"}, nil).Once()
	mockRepo.On("ListPaths", ctx, projectID).Return(nil, errors.New("db down")).Once()
	svc := NewFileService(mockRepo)

	paths, err := svc.ListPaths(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b/c.go"}, paths)

	_, err = svc.ListPaths(ctx, projectID)
	assert.Error(t, err)
	mockRepo.AssertExpectations(t)
}
