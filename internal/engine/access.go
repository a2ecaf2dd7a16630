package engine

import (
	"context"
	"time"

	"catena/internal/domain"
	"catena/internal/events"
)

// GrantAccess gives a user a role on a collection, replacing any existing
// grant.
func (e Engine) GrantAccess(ctx context.Context, collectionID, userID, role string) (domain.CollectionAccess, error) {
	if _, err := e.Repo.GetCollection(ctx, collectionID); err != nil {
		return domain.CollectionAccess{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	grant := domain.CollectionAccess{
		CollectionID: collectionID,
		UserID:       userID,
		Role:         role,
		CreatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CollectionAccess{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
		return domain.CollectionAccess{}, err
	}
	if err := e.Repo.UpsertCollectionAccess(ctx, tx, grant); err != nil {
		return domain.CollectionAccess{}, err
	}
	if err := e.Events.Append(ctx, tx, "access.granted", collectionID, "access", userID, "", events.EventPayload{"role": role}); err != nil {
		return domain.CollectionAccess{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CollectionAccess{}, err
	}
	return grant, nil
}

// RevokeAccess removes a user's role on a collection.
func (e Engine) RevokeAccess(ctx context.Context, collectionID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeCollectionAccess(ctx, tx, collectionID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "access.revoked", collectionID, "access", userID, "", events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}
