package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecanvas-io/collab/internal/modules/model"
)

var (
	ErrForbidden       = errors.New("access denied")
	ErrNotJoined       = errors.New("connection has not joined a project")
	ErrProjectMismatch = errors.New("grant does not cover the session's project")
	ErrInvalidFileOp   = errors.New("invalid file operation")
)

// AccessChecker answers whether a user may read or write a project.
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, projectID string, action model.Access) (bool, error)
}

// Grant is proof that an access check already succeeded for one user, project
// and access level. The zero Grant grants nothing; the only way to obtain a
// usable one is Authorize.
type Grant struct {
	userID    string
	projectID string
	access    model.Access
}

// Authorize runs the access check once and mints a Grant for the result.
func Authorize(ctx context.Context, checker AccessChecker, userID, projectID string, action model.Access) (Grant, error) {
	if userID == "" || projectID == "" {
		return Grant{}, ErrForbidden
	}
	ok, err := checker.CanAccess(ctx, userID, projectID, action)
	if err != nil {
		return Grant{}, fmt.Errorf("check %s access: %w", action, err)
	}
	if !ok {
		return Grant{}, ErrForbidden
	}
	return Grant{userID: userID, projectID: projectID, access: action}, nil
}

func (g Grant) UserID() string    { return g.userID }
func (g Grant) ProjectID() string { return g.projectID }

func (g Grant) valid() bool { return g.userID != "" && g.projectID != "" }

// CanWrite reports whether the grant allows content and file mutations.
func (g Grant) CanWrite() bool { return g.valid() && g.access == model.AccessWrite }

func (g Grant) requireWrite() error {
	if !g.CanWrite() {
		return ErrForbidden
	}
	return nil
}
