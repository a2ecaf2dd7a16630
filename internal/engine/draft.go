package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catena/internal/domain"
	"catena/internal/events"
	"catena/internal/repo"
)

// MultipleDraftsError signals a corrupted collection: more than one unpublished
// version exists. The partial unique index on versions makes this unreachable
// through this package, but imported databases are checked anyway.
type MultipleDraftsError struct {
	CollectionID string
	Count        int
}

func (e MultipleDraftsError) Error() string {
	return fmt.Sprintf("collection %s has %d unpublished versions, expected at most one", e.CollectionID, e.Count)
}

// EnsureDraft returns the collection's draft version, creating one when none
// exists. A fresh draft on a collection with published history is seeded by
// cloning every resource and relation of the latest published version.
// Calling it when a draft already exists returns that draft unchanged.
func (e Engine) EnsureDraft(ctx context.Context, collectionID string) (domain.Version, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Version{}, err
	}
	defer tx.Rollback()
	v, err := e.ensureDraftTx(ctx, tx, collectionID)
	if err != nil {
		return domain.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Version{}, err
	}
	return v, nil
}

func (e Engine) ensureDraftTx(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Version, error) {
	n, err := e.Repo.CountDraftsTx(ctx, tx, collectionID)
	if err != nil {
		return domain.Version{}, err
	}
	if n > 1 {
		return domain.Version{}, MultipleDraftsError{CollectionID: collectionID, Count: n}
	}
	if n == 1 {
		return e.Repo.DraftVersionTx(ctx, tx, collectionID)
	}

	now := e.now().UTC().Format(time.RFC3339)
	draft := domain.Version{
		ID:           newID(),
		CollectionID: collectionID,
		Name:         "Draft",
		Identifier:   shortCode("v"),
		Published:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertVersionTx(ctx, tx, draft); err != nil {
		return domain.Version{}, fmt.Errorf("insert draft: %w", err)
	}

	source, err := e.Repo.LatestPublishedVersionTx(ctx, tx, collectionID)
	if errors.Is(err, repo.ErrNotFound) {
		// First draft of a new collection starts empty.
		if err := e.Events.Append(ctx, tx, "draft.created", collectionID, "version", draft.ID, "", events.EventPayload{}); err != nil {
			return domain.Version{}, err
		}
		if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
			return domain.Version{}, err
		}
		return draft, nil
	}
	if err != nil {
		return domain.Version{}, err
	}
	if err := e.cloneVersionTx(ctx, tx, source.ID, draft.ID, now); err != nil {
		return domain.Version{}, err
	}
	if err := e.Events.Append(ctx, tx, "draft.created", collectionID, "version", draft.ID, "", events.EventPayload{"cloned_from": source.ID}); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return domain.Version{}, err
	}
	return draft, nil
}

// cloneVersionTx copies every resource of sourceVersionID into draftID with a
// fresh id and a clone action, then copies each resource's relations with
// their source rewritten to the new resource id. Internal relation targets
// are left pointing at the published rows; canonical ids keep them resolvable
// across generations.
func (e Engine) cloneVersionTx(ctx context.Context, tx *sql.Tx, sourceVersionID, draftID, now string) error {
	resources, err := e.Repo.ListResourcesByVersionTx(ctx, tx, sourceVersionID)
	if err != nil {
		return err
	}
	clone := domain.ActionClone
	for _, res := range resources {
		origID := res.ID
		cloned := res
		cloned.ID = newID()
		cloned.VersionID = draftID
		cloned.OriginalResourceID = &origID
		cloned.Action = &clone
		cloned.CreatedAt = now
		cloned.UpdatedAt = now
		if err := e.Repo.InsertResourceTx(ctx, tx, cloned); err != nil {
			return fmt.Errorf("clone resource %s: %w", origID, err)
		}

		internals, err := e.Repo.ListInternalRelationsBySourceTx(ctx, tx, sourceVersionID, origID)
		if err != nil {
			return err
		}
		for _, rel := range internals {
			origRelID := rel.ID
			cr := rel
			cr.ID = newID()
			cr.VersionID = draftID
			cr.SourceID = cloned.ID
			cr.OriginalRelationID = &origRelID
			cr.Action = &clone
			cr.CreatedAt = now
			cr.UpdatedAt = now
			if err := e.Repo.InsertInternalRelationTx(ctx, tx, cr); err != nil {
				return fmt.Errorf("clone relation %s: %w", origRelID, err)
			}
		}

		externals, err := e.Repo.ListExternalRelationsBySourceTx(ctx, tx, sourceVersionID, origID)
		if err != nil {
			return err
		}
		for _, rel := range externals {
			origRelID := rel.ID
			cr := rel
			cr.ID = newID()
			cr.VersionID = draftID
			cr.SourceID = cloned.ID
			cr.OriginalRelationID = &origRelID
			cr.Action = &clone
			cr.CreatedAt = now
			cr.UpdatedAt = now
			if err := e.Repo.InsertExternalRelationTx(ctx, tx, cr); err != nil {
				return fmt.Errorf("clone relation %s: %w", origRelID, err)
			}
		}
	}
	return nil
}
