package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"catena/internal/config"
	"catena/internal/db"
	"catena/internal/domain"
	"catena/internal/migrate"
	"catena/internal/repo"
)

// Setup opens the workspace database, applies migrations, and loads
// catena.yml, writing the default config when none exists yet. The workspace
// row is seeded from the config.
func Setup(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		id := "default-workspace"
		if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(id)), 0o644); err != nil {
			return nil, nil, fmt.Errorf("write default config: %w", err)
		}
		cfg = config.Default(id)
	}
	database, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	r := repo.Repo{DB: database}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	defer tx.Rollback()
	if err := r.EnsureWorkspace(ctx, tx, cfg.Workspace.ID, cfg.Workspace.Title, now); err != nil {
		database.Close()
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, cfg, nil
}

// ResolveCollection accepts either a collection id or its short identifier.
func ResolveCollection(ctx context.Context, r repo.Repo, ref string) (domain.Collection, error) {
	if ref == "" {
		return domain.Collection{}, fmt.Errorf("collection not specified; use --collection")
	}
	c, err := r.GetCollection(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Collection{}, err
	}
	c, err = r.GetCollectionByIdentifier(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Collection{}, fmt.Errorf("collection %s not found", ref)
	}
	return c, err
}
