package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"catena/internal/config"
	"catena/internal/repo"
)

// ForbiddenError signals that a user lacks the role a call requires.
type ForbiddenError struct {
	CollectionID string
	Role         string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s or higher required on collection %s", e.Role, e.CollectionID)
}

// Service answers role questions against the collection_access table. Roles
// are ranked; holding a higher role satisfies a lower requirement.
type Service struct {
	DB     *sql.DB
	Config *config.Config
}

func New(db *sql.DB, cfg *config.Config) Service {
	return Service{DB: db, Config: cfg}
}

// Role returns the user's role on a collection, or "" when none is granted.
func (s Service) Role(ctx context.Context, collectionID, userID string) (string, error) {
	r := repo.Repo{DB: s.DB}
	role, err := r.GetCollectionRole(ctx, collectionID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	return role, err
}

// MinRole checks that the user holds at least the given role on the
// collection. Missing access and unknown roles both come back forbidden.
func (s Service) MinRole(ctx context.Context, collectionID, userID, role string) error {
	required := s.rank(role)
	if required == 0 {
		return fmt.Errorf("unknown role %q", role)
	}
	held, err := s.Role(ctx, collectionID, userID)
	if err != nil {
		return err
	}
	if s.rank(held) < required {
		return ForbiddenError{CollectionID: collectionID, Role: role}
	}
	return nil
}

func (s Service) rank(role string) int {
	if s.Config != nil {
		if r := s.Config.RoleRank(role); r > 0 {
			return r
		}
	}
	switch role {
	case "viewer":
		return 1
	case "editor":
		return 2
	case "admin":
		return 3
	case "owner":
		return 4
	}
	return 0
}
