package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"catena/internal/config"
	"catena/internal/domain"
	"catena/internal/events"
	"catena/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func newID() string {
	return uuid.New().String()
}

const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// shortCode derives an externally visible identifier such as c7k2m9qp1
// from uuid entropy.
func shortCode(prefix string) string {
	id := uuid.New()
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
	}
	return prefix + string(buf)
}

// CollectionCreateOptions are parameters for creating a collection.
type CollectionCreateOptions struct {
	WorkspaceID string
	Title       string
	Description string
	UserID      string
}

// CreateCollection creates a collection with an empty seeded draft and grants
// the creating user the admin role.
func (e Engine) CreateCollection(ctx context.Context, opts CollectionCreateOptions) (domain.Collection, error) {
	if e.Config == nil {
		return domain.Collection{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Collection{}, errors.New("title is required")
	}
	if opts.WorkspaceID == "" {
		opts.WorkspaceID = e.Config.Workspace.ID
	}
	if opts.WorkspaceID == "" {
		return domain.Collection{}, errors.New("workspace is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Collection{
		ID:          newID(),
		WorkspaceID: opts.WorkspaceID,
		Title:       opts.Title,
		Description: opts.Description,
		Identifier:  shortCode("c"),
		ImageURL:    fmt.Sprintf("https://api.dicebear.com/6.x/shapes/svg?seed=%s", shortCode("")),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Collection{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureWorkspace(ctx, tx, c.WorkspaceID, "", now); err != nil {
		return domain.Collection{}, fmt.Errorf("ensure workspace: %w", err)
	}
	if opts.UserID != "" {
		if err := e.Repo.EnsureUser(ctx, tx, opts.UserID, now); err != nil {
			return domain.Collection{}, fmt.Errorf("ensure user: %w", err)
		}
	}
	if err := e.Repo.InsertCollectionTx(ctx, tx, c); err != nil {
		return domain.Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	if opts.UserID != "" {
		if err := e.Repo.UpsertCollectionAccess(ctx, tx, domain.CollectionAccess{
			CollectionID: c.ID,
			UserID:       opts.UserID,
			Role:         "admin",
			CreatedAt:    now,
		}); err != nil {
			return domain.Collection{}, fmt.Errorf("grant access: %w", err)
		}
	}
	if _, err := e.ensureDraftTx(ctx, tx, c.ID); err != nil {
		return domain.Collection{}, err
	}
	if err := e.Events.Append(ctx, tx, "collection.created", c.ID, "collection", c.ID, opts.UserID, events.EventPayload{"title": c.Title}); err != nil {
		return domain.Collection{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Collection{}, err
	}
	return c, nil
}

// CollectionUpdateOptions encapsulates allowed collection updates.
type CollectionUpdateOptions struct {
	CollectionID string
	Title        *string
	Description  *string
	UserID       string
}

func (e Engine) UpdateCollection(ctx context.Context, opts CollectionUpdateOptions) (domain.Collection, error) {
	c, err := e.Repo.GetCollection(ctx, opts.CollectionID)
	if err != nil {
		return c, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCollectionTx(ctx, tx, opts.CollectionID, opts.Title, opts.Description, now); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "collection.updated", c.ID, "collection", c.ID, opts.UserID, events.EventPayload{}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return e.Repo.GetCollection(ctx, opts.CollectionID)
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func actionOf(a *domain.Action) domain.Action {
	if a == nil {
		return ""
	}
	return *a
}
