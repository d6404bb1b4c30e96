package bootstrap

import (
	"context"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/modules/service"
	"go.uber.org/zap"
)

// EnsureSystemUser creates or loads the user debounced saves are attributed
// to and returns its id.
func EnsureSystemUser(ctx context.Context, users service.UserService, cfg *config.Config, log *zap.Logger) (string, error) {
	u, err := users.EnsureSystemUser(ctx, cfg.Collab.SystemUsername)
	if err != nil {
		return "", err
	}
	log.Sugar().Infow("system user ready", "user", u.ID, "username", u.Username)
	return u.ID.String(), nil
}
