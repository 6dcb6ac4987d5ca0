package doctor

import (
	"context"
	"fmt"

	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/storage"
)

// Setup creates the state database and its tables. It is idempotent and
// returns the path it prepared.
func Setup(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.State.Path == "" {
		return "", fmt.Errorf("state.path is required")
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return "", fmt.Errorf("prepare state: %w", err)
	}
	if err := db.Close(); err != nil {
		return "", fmt.Errorf("close state: %w", err)
	}
	return cfg.State.Path, nil
}
