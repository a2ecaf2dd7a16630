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

// ResourceCreateOptions are parameters for staging a new resource in a
// collection's draft.
type ResourceCreateOptions struct {
	CollectionID   string
	Title          string
	Description    string
	Identifier     string
	IdentifierType string
	ResourceType   string
	VersionLabel   string
	UserID         string
}

// CreateResource stages a brand-new resource in the draft with a create
// action. The resource becomes its own canonical root.
func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	if opts.Title == "" {
		return domain.Resource{}, errors.New("title is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()

	draft, err := e.draftTx(ctx, tx, opts.CollectionID)
	if err != nil {
		return domain.Resource{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	create := domain.ActionCreate
	res := domain.Resource{
		ID:             newID(),
		VersionID:      draft.ID,
		Action:         &create,
		Title:          opts.Title,
		Description:    opts.Description,
		Identifier:     opts.Identifier,
		IdentifierType: opts.IdentifierType,
		ResourceType:   opts.ResourceType,
		VersionLabel:   optionalString(opts.VersionLabel),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res.CanonicalID = res.ID
	if err := e.Repo.InsertResourceTx(ctx, tx, res); err != nil {
		return domain.Resource{}, fmt.Errorf("insert resource: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "resource.created", opts.CollectionID, "resource", res.ID, opts.UserID, events.EventPayload{"title": res.Title}); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// ResourceUpdateOptions carries the editable fields of a draft resource. Nil
// pointers leave the field untouched.
type ResourceUpdateOptions struct {
	CollectionID   string
	ResourceID     string
	Title          *string
	Description    *string
	Identifier     *string
	IdentifierType *string
	ResourceType   *string
	VersionLabel   *string
	UserID         string
}

// UpdateResource applies field edits to a draft resource and recomputes its
// action. A clone whose fields now differ from its published original becomes
// an update; an update whose fields match the original again reverts to
// clone. Create rows keep their create action.
func (e Engine) UpdateResource(ctx context.Context, opts ResourceUpdateOptions) (domain.Resource, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()

	res, err := e.draftResourceTx(ctx, tx, opts.CollectionID, opts.ResourceID)
	if err != nil {
		return domain.Resource{}, err
	}
	switch actionOf(res.Action) {
	case domain.ActionDelete:
		return domain.Resource{}, errors.New("resource is deleted, restore it before editing")
	case domain.ActionOldVersion:
		return domain.Resource{}, errors.New("resource is superseded and can no longer be edited")
	}

	if opts.Title != nil {
		res.Title = *opts.Title
	}
	if opts.Description != nil {
		res.Description = *opts.Description
	}
	if opts.Identifier != nil {
		res.Identifier = *opts.Identifier
	}
	if opts.IdentifierType != nil {
		res.IdentifierType = *opts.IdentifierType
	}
	if opts.ResourceType != nil {
		res.ResourceType = *opts.ResourceType
	}
	if opts.VersionLabel != nil {
		res.VersionLabel = optionalString(*opts.VersionLabel)
	}

	if actionOf(res.Action) != domain.ActionCreate {
		action, err := e.resourceActionTx(ctx, tx, res)
		if err != nil {
			return domain.Resource{}, err
		}
		res.Action = &action
	}

	now := e.now().UTC().Format(time.RFC3339)
	res.UpdatedAt = now
	if err := e.Repo.UpdateResourceTx(ctx, tx, res); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Events.Append(ctx, tx, "resource.updated", opts.CollectionID, "resource", res.ID, opts.UserID, events.EventPayload{"action": string(actionOf(res.Action))}); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// DeleteResource removes a draft resource. Rows staged as create never
// reached a published version and are deleted physically, together with the
// relations they source. Cloned rows are kept and tagged delete so the draft
// still shows what publishing will remove.
func (e Engine) DeleteResource(ctx context.Context, collectionID, resourceID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := e.draftResourceTx(ctx, tx, collectionID, resourceID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if actionOf(res.Action) == domain.ActionCreate {
		if err := e.deleteResourceRelationsTx(ctx, tx, res.VersionID, res.ID); err != nil {
			return err
		}
		if err := e.Repo.DeleteResourceTx(ctx, tx, res.ID); err != nil {
			return err
		}
	} else {
		del := domain.ActionDelete
		if err := e.Repo.SetResourceActionTx(ctx, tx, res.ID, &del, now); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "resource.deleted", collectionID, "resource", res.ID, userID, events.EventPayload{"title": res.Title}); err != nil {
		return err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RestoreResource undoes a pending delete. The restored action is recomputed
// by comparing the row against its published original, so an edited-then-
// deleted resource comes back as update, an untouched one as clone.
func (e Engine) RestoreResource(ctx context.Context, collectionID, resourceID, userID string) (domain.Resource, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()

	res, err := e.draftResourceTx(ctx, tx, collectionID, resourceID)
	if err != nil {
		return domain.Resource{}, err
	}
	if actionOf(res.Action) != domain.ActionDelete {
		return domain.Resource{}, errors.New("resource is not deleted")
	}
	action, err := e.resourceActionTx(ctx, tx, res)
	if err != nil {
		return domain.Resource{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetResourceActionTx(ctx, tx, res.ID, &action, now); err != nil {
		return domain.Resource{}, err
	}
	res.Action = &action
	res.UpdatedAt = now
	if err := e.Events.Append(ctx, tx, "resource.restored", collectionID, "resource", res.ID, userID, events.EventPayload{"action": string(action)}); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}

// ResourceVersionOptions are parameters for superseding a resource with a new
// edition of itself inside the same draft.
type ResourceVersionOptions struct {
	CollectionID   string
	ResourceID     string
	Identifier     string
	IdentifierType string
	VersionLabel   string
	CloneRelations bool
	UserID         string
}

// NewResourceVersion spawns a successor for a draft resource. The successor
// is a create row starting a fresh canonical identity, linked back to the
// predecessor's lineage through lineage_id. The predecessor is tagged
// oldVersion: frozen, excluded from relation candidates, but retained at
// publish as part of the historical record.
func (e Engine) NewResourceVersion(ctx context.Context, opts ResourceVersionOptions) (domain.Resource, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resource{}, err
	}
	defer tx.Rollback()

	prev, err := e.draftResourceTx(ctx, tx, opts.CollectionID, opts.ResourceID)
	if err != nil {
		return domain.Resource{}, err
	}
	switch actionOf(prev.Action) {
	case domain.ActionCreate:
		return domain.Resource{}, errors.New("resource is new in this draft, edit it instead of versioning it")
	case domain.ActionDelete:
		return domain.Resource{}, errors.New("resource is deleted, restore it before versioning")
	case domain.ActionOldVersion:
		return domain.Resource{}, errors.New("resource is already superseded")
	}

	now := e.now().UTC().Format(time.RFC3339)
	create := domain.ActionCreate
	next := domain.Resource{
		ID:             newID(),
		VersionID:      prev.VersionID,
		LineageID:      &prev.CanonicalID,
		Action:         &create,
		Title:          prev.Title,
		Description:    prev.Description,
		Identifier:     opts.Identifier,
		IdentifierType: opts.IdentifierType,
		ResourceType:   prev.ResourceType,
		VersionLabel:   optionalString(opts.VersionLabel),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	next.CanonicalID = next.ID
	if err := e.Repo.InsertResourceTx(ctx, tx, next); err != nil {
		return domain.Resource{}, fmt.Errorf("insert resource version: %w", err)
	}

	if opts.CloneRelations {
		if err := e.copyResourceRelationsTx(ctx, tx, prev, next.ID, now); err != nil {
			return domain.Resource{}, err
		}
	}

	old := domain.ActionOldVersion
	if err := e.Repo.SetResourceActionTx(ctx, tx, prev.ID, &old, now); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Events.Append(ctx, tx, "resource.version.created", opts.CollectionID, "resource", next.ID, opts.UserID, events.EventPayload{"supersedes": prev.ID}); err != nil {
		return domain.Resource{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resource{}, err
	}
	return next, nil
}

// SourceResources lists the draft resources eligible as relation sources:
// everything except deleted and superseded rows.
func (e Engine) SourceResources(ctx context.Context, collectionID string) ([]domain.Resource, error) {
	draft, err := e.Repo.DraftVersion(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	all, err := e.Repo.ListResourcesByVersion(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Resource, 0, len(all))
	for _, res := range all {
		switch actionOf(res.Action) {
		case domain.ActionDelete, domain.ActionOldVersion:
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// resourceActionTx compares a draft resource against its published original
// and returns clone when every tracked field still matches, update otherwise.
// Rows without an original are new in this draft and stay create.
func (e Engine) resourceActionTx(ctx context.Context, tx *sql.Tx, res domain.Resource) (domain.Action, error) {
	if res.OriginalResourceID == nil {
		return domain.ActionCreate, nil
	}
	orig, err := e.Repo.GetResourceTx(ctx, tx, *res.OriginalResourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActionUpdate, nil
	}
	if err != nil {
		return "", err
	}
	if res.Title == orig.Title &&
		res.Description == orig.Description &&
		res.Identifier == orig.Identifier &&
		res.IdentifierType == orig.IdentifierType &&
		res.ResourceType == orig.ResourceType &&
		derefString(res.VersionLabel) == derefString(orig.VersionLabel) {
		return domain.ActionClone, nil
	}
	return domain.ActionUpdate, nil
}

// draftTx resolves the collection's draft, surfacing a friendly error when
// none exists.
func (e Engine) draftTx(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Version, error) {
	draft, err := e.Repo.DraftVersionTx(ctx, tx, collectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Version{}, fmt.Errorf("collection %s has no draft version", collectionID)
	}
	return draft, err
}

// draftResourceTx loads a resource and checks it belongs to the collection's
// current draft.
func (e Engine) draftResourceTx(ctx context.Context, tx *sql.Tx, collectionID, resourceID string) (domain.Resource, error) {
	draft, err := e.draftTx(ctx, tx, collectionID)
	if err != nil {
		return domain.Resource{}, err
	}
	res, err := e.Repo.GetResourceTx(ctx, tx, resourceID)
	if err != nil {
		return domain.Resource{}, err
	}
	if res.VersionID != draft.ID {
		return domain.Resource{}, errors.New("resource does not belong to the current draft")
	}
	return res, nil
}

// deleteResourceRelationsTx physically removes the relations sourced from a
// resource that is itself being physically removed.
func (e Engine) deleteResourceRelationsTx(ctx context.Context, tx *sql.Tx, versionID, resourceID string) error {
	internals, err := e.Repo.ListInternalRelationsBySourceTx(ctx, tx, versionID, resourceID)
	if err != nil {
		return err
	}
	for _, rel := range internals {
		if err := e.Repo.DeleteInternalRelationTx(ctx, tx, rel.ID); err != nil {
			return err
		}
	}
	externals, err := e.Repo.ListExternalRelationsBySourceTx(ctx, tx, versionID, resourceID)
	if err != nil {
		return err
	}
	for _, rel := range externals {
		if err := e.Repo.DeleteExternalRelationTx(ctx, tx, rel.ID); err != nil {
			return err
		}
	}
	return nil
}

// copyResourceRelationsTx re-creates the predecessor's live relations on the
// successor resource as fresh create rows.
func (e Engine) copyResourceRelationsTx(ctx context.Context, tx *sql.Tx, prev domain.Resource, nextID, now string) error {
	create := domain.ActionCreate
	internals, err := e.Repo.ListInternalRelationsBySourceTx(ctx, tx, prev.VersionID, prev.ID)
	if err != nil {
		return err
	}
	for _, rel := range internals {
		if actionOf(rel.Action) == domain.ActionDelete {
			continue
		}
		cr := rel
		cr.ID = newID()
		cr.SourceID = nextID
		cr.OriginalRelationID = nil
		cr.Action = &create
		cr.CreatedAt = now
		cr.UpdatedAt = now
		if err := e.Repo.InsertInternalRelationTx(ctx, tx, cr); err != nil {
			return err
		}
	}
	externals, err := e.Repo.ListExternalRelationsBySourceTx(ctx, tx, prev.VersionID, prev.ID)
	if err != nil {
		return err
	}
	for _, rel := range externals {
		if actionOf(rel.Action) == domain.ActionDelete {
			continue
		}
		cr := rel
		cr.ID = newID()
		cr.SourceID = nextID
		cr.OriginalRelationID = nil
		cr.Action = &create
		cr.CreatedAt = now
		cr.UpdatedAt = now
		if err := e.Repo.InsertExternalRelationTx(ctx, tx, cr); err != nil {
			return err
		}
	}
	return nil
}
