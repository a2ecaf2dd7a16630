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

// InternalRelationCreateOptions are parameters for staging a relation between
// two resources of the same collection.
type InternalRelationCreateOptions struct {
	CollectionID string
	SourceID     string
	TargetID     string
	Type         string
	ResourceType string
	UserID       string
}

// CreateInternalRelation stages a typed relation between a live draft
// resource and another resource of the collection.
func (e Engine) CreateInternalRelation(ctx context.Context, opts InternalRelationCreateOptions) (domain.InternalRelation, error) {
	if opts.Type == "" {
		return domain.InternalRelation{}, errors.New("relation type is required")
	}
	if opts.SourceID == opts.TargetID {
		return domain.InternalRelation{}, errors.New("a resource cannot relate to itself")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	defer tx.Rollback()

	source, err := e.draftResourceTx(ctx, tx, opts.CollectionID, opts.SourceID)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	switch actionOf(source.Action) {
	case domain.ActionDelete, domain.ActionOldVersion:
		return domain.InternalRelation{}, errors.New("source resource cannot carry new relations")
	}
	if source.OriginalResourceID != nil && *source.OriginalResourceID == opts.TargetID {
		return domain.InternalRelation{}, errors.New("target is a previous generation of the source resource")
	}
	if err := e.checkTargetTx(ctx, tx, opts.CollectionID, opts.TargetID); err != nil {
		return domain.InternalRelation{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	create := domain.ActionCreate
	rel := domain.InternalRelation{
		ID:           newID(),
		VersionID:    source.VersionID,
		SourceID:     opts.SourceID,
		TargetID:     opts.TargetID,
		Type:         opts.Type,
		Mirror:       false,
		ResourceType: optionalString(opts.ResourceType),
		Action:       &create,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertInternalRelationTx(ctx, tx, rel); err != nil {
		return domain.InternalRelation{}, fmt.Errorf("insert relation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "relation.created", opts.CollectionID, "internal_relation", rel.ID, opts.UserID, events.EventPayload{"type": rel.Type}); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InternalRelation{}, err
	}
	return rel, nil
}

// ExternalRelationCreateOptions are parameters for staging a relation from a
// draft resource to something outside the collection.
type ExternalRelationCreateOptions struct {
	CollectionID string
	SourceID     string
	Target       string
	TargetType   string
	Type         string
	ResourceType string
	UserID       string
}

func (e Engine) CreateExternalRelation(ctx context.Context, opts ExternalRelationCreateOptions) (domain.ExternalRelation, error) {
	if opts.Type == "" {
		return domain.ExternalRelation{}, errors.New("relation type is required")
	}
	if opts.Target == "" {
		return domain.ExternalRelation{}, errors.New("target is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	defer tx.Rollback()

	source, err := e.draftResourceTx(ctx, tx, opts.CollectionID, opts.SourceID)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	switch actionOf(source.Action) {
	case domain.ActionDelete, domain.ActionOldVersion:
		return domain.ExternalRelation{}, errors.New("source resource cannot carry new relations")
	}

	now := e.now().UTC().Format(time.RFC3339)
	create := domain.ActionCreate
	rel := domain.ExternalRelation{
		ID:           newID(),
		VersionID:    source.VersionID,
		SourceID:     opts.SourceID,
		Target:       opts.Target,
		TargetType:   optionalString(opts.TargetType),
		Type:         opts.Type,
		ResourceType: optionalString(opts.ResourceType),
		Action:       &create,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertExternalRelationTx(ctx, tx, rel); err != nil {
		return domain.ExternalRelation{}, fmt.Errorf("insert relation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "relation.created", opts.CollectionID, "external_relation", rel.ID, opts.UserID, events.EventPayload{"type": rel.Type}); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExternalRelation{}, err
	}
	return rel, nil
}

// InternalRelationUpdateOptions carries editable internal relation fields.
type InternalRelationUpdateOptions struct {
	CollectionID string
	RelationID   string
	TargetID     *string
	Type         *string
	ResourceType *string
	UserID       string
}

// UpdateInternalRelation edits a draft relation and recomputes its action
// against the published original, the same clone/update dance resources do.
// Any manual edit clears the mirror flag.
func (e Engine) UpdateInternalRelation(ctx context.Context, opts InternalRelationUpdateOptions) (domain.InternalRelation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	defer tx.Rollback()

	rel, err := e.draftInternalRelationTx(ctx, tx, opts.CollectionID, opts.RelationID)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	if actionOf(rel.Action) == domain.ActionDelete {
		return domain.InternalRelation{}, errors.New("relation is deleted, restore it before editing")
	}
	if opts.TargetID != nil {
		if rel.SourceID == *opts.TargetID {
			return domain.InternalRelation{}, errors.New("a resource cannot relate to itself")
		}
		if err := e.checkTargetTx(ctx, tx, opts.CollectionID, *opts.TargetID); err != nil {
			return domain.InternalRelation{}, err
		}
		rel.TargetID = *opts.TargetID
	}
	if opts.Type != nil {
		rel.Type = *opts.Type
	}
	if opts.ResourceType != nil {
		rel.ResourceType = optionalString(*opts.ResourceType)
	}
	rel.Mirror = false

	if actionOf(rel.Action) != domain.ActionCreate {
		action, err := e.internalRelationActionTx(ctx, tx, rel)
		if err != nil {
			return domain.InternalRelation{}, err
		}
		rel.Action = &action
	}

	now := e.now().UTC().Format(time.RFC3339)
	rel.UpdatedAt = now
	if err := e.Repo.UpdateInternalRelationTx(ctx, tx, rel); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := e.Events.Append(ctx, tx, "relation.updated", opts.CollectionID, "internal_relation", rel.ID, opts.UserID, events.EventPayload{"action": string(actionOf(rel.Action))}); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InternalRelation{}, err
	}
	return rel, nil
}

// ExternalRelationUpdateOptions carries editable external relation fields.
type ExternalRelationUpdateOptions struct {
	CollectionID string
	RelationID   string
	Target       *string
	TargetType   *string
	Type         *string
	ResourceType *string
	UserID       string
}

func (e Engine) UpdateExternalRelation(ctx context.Context, opts ExternalRelationUpdateOptions) (domain.ExternalRelation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	defer tx.Rollback()

	rel, err := e.draftExternalRelationTx(ctx, tx, opts.CollectionID, opts.RelationID)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	if actionOf(rel.Action) == domain.ActionDelete {
		return domain.ExternalRelation{}, errors.New("relation is deleted, restore it before editing")
	}
	if opts.Target != nil {
		rel.Target = *opts.Target
	}
	if opts.TargetType != nil {
		rel.TargetType = optionalString(*opts.TargetType)
	}
	if opts.Type != nil {
		rel.Type = *opts.Type
	}
	if opts.ResourceType != nil {
		rel.ResourceType = optionalString(*opts.ResourceType)
	}

	if actionOf(rel.Action) != domain.ActionCreate {
		action, err := e.externalRelationActionTx(ctx, tx, rel)
		if err != nil {
			return domain.ExternalRelation{}, err
		}
		rel.Action = &action
	}

	now := e.now().UTC().Format(time.RFC3339)
	rel.UpdatedAt = now
	if err := e.Repo.UpdateExternalRelationTx(ctx, tx, rel); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := e.Events.Append(ctx, tx, "relation.updated", opts.CollectionID, "external_relation", rel.ID, opts.UserID, events.EventPayload{"action": string(actionOf(rel.Action))}); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExternalRelation{}, err
	}
	return rel, nil
}

// DeleteInternalRelation removes a draft relation: physically when it was
// created in this draft, soft-tagged delete when it survives from a
// published version.
func (e Engine) DeleteInternalRelation(ctx context.Context, collectionID, relationID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rel, err := e.draftInternalRelationTx(ctx, tx, collectionID, relationID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if rel.OriginalRelationID == nil {
		if err := e.Repo.DeleteInternalRelationTx(ctx, tx, rel.ID); err != nil {
			return err
		}
	} else {
		del := domain.ActionDelete
		rel.Action = &del
		rel.UpdatedAt = now
		if err := e.Repo.UpdateInternalRelationTx(ctx, tx, rel); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "relation.deleted", collectionID, "internal_relation", rel.ID, userID, events.EventPayload{"type": rel.Type}); err != nil {
		return err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) DeleteExternalRelation(ctx context.Context, collectionID, relationID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rel, err := e.draftExternalRelationTx(ctx, tx, collectionID, relationID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if rel.OriginalRelationID == nil {
		if err := e.Repo.DeleteExternalRelationTx(ctx, tx, rel.ID); err != nil {
			return err
		}
	} else {
		del := domain.ActionDelete
		rel.Action = &del
		rel.UpdatedAt = now
		if err := e.Repo.UpdateExternalRelationTx(ctx, tx, rel); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "relation.deleted", collectionID, "external_relation", rel.ID, userID, events.EventPayload{"type": rel.Type}); err != nil {
		return err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RestoreInternalRelation undoes a pending delete, recomputing clone or
// update from the published original.
func (e Engine) RestoreInternalRelation(ctx context.Context, collectionID, relationID, userID string) (domain.InternalRelation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	defer tx.Rollback()

	rel, err := e.draftInternalRelationTx(ctx, tx, collectionID, relationID)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	if actionOf(rel.Action) != domain.ActionDelete {
		return domain.InternalRelation{}, errors.New("relation is not deleted")
	}
	action, err := e.internalRelationActionTx(ctx, tx, rel)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rel.Action = &action
	rel.UpdatedAt = now
	if err := e.Repo.UpdateInternalRelationTx(ctx, tx, rel); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := e.Events.Append(ctx, tx, "relation.restored", collectionID, "internal_relation", rel.ID, userID, events.EventPayload{"action": string(action)}); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return domain.InternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InternalRelation{}, err
	}
	return rel, nil
}

func (e Engine) RestoreExternalRelation(ctx context.Context, collectionID, relationID, userID string) (domain.ExternalRelation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	defer tx.Rollback()

	rel, err := e.draftExternalRelationTx(ctx, tx, collectionID, relationID)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	if actionOf(rel.Action) != domain.ActionDelete {
		return domain.ExternalRelation{}, errors.New("relation is not deleted")
	}
	action, err := e.externalRelationActionTx(ctx, tx, rel)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rel.Action = &action
	rel.UpdatedAt = now
	if err := e.Repo.UpdateExternalRelationTx(ctx, tx, rel); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := e.Events.Append(ctx, tx, "relation.restored", collectionID, "external_relation", rel.ID, userID, events.EventPayload{"action": string(action)}); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, collectionID, now); err != nil {
		return domain.ExternalRelation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExternalRelation{}, err
	}
	return rel, nil
}

// internalRelationActionTx recomputes a cloned relation's action by field
// comparison with its published original.
func (e Engine) internalRelationActionTx(ctx context.Context, tx *sql.Tx, rel domain.InternalRelation) (domain.Action, error) {
	if rel.OriginalRelationID == nil {
		return domain.ActionCreate, nil
	}
	orig, err := e.Repo.GetInternalRelationTx(ctx, tx, *rel.OriginalRelationID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActionUpdate, nil
	}
	if err != nil {
		return "", err
	}
	if rel.TargetID == orig.TargetID &&
		rel.Type == orig.Type &&
		derefString(rel.ResourceType) == derefString(orig.ResourceType) {
		return domain.ActionClone, nil
	}
	return domain.ActionUpdate, nil
}

func (e Engine) externalRelationActionTx(ctx context.Context, tx *sql.Tx, rel domain.ExternalRelation) (domain.Action, error) {
	if rel.OriginalRelationID == nil {
		return domain.ActionCreate, nil
	}
	orig, err := e.Repo.GetExternalRelationTx(ctx, tx, *rel.OriginalRelationID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActionUpdate, nil
	}
	if err != nil {
		return "", err
	}
	if rel.Target == orig.Target &&
		derefString(rel.TargetType) == derefString(orig.TargetType) &&
		rel.Type == orig.Type &&
		derefString(rel.ResourceType) == derefString(orig.ResourceType) {
		return domain.ActionClone, nil
	}
	return domain.ActionUpdate, nil
}

// checkTargetTx verifies that a relation target is a resource belonging to a
// version of the given collection. Targets may live in a published version;
// canonical ids keep them addressable.
func (e Engine) checkTargetTx(ctx context.Context, tx *sql.Tx, collectionID, targetID string) error {
	target, err := e.Repo.GetResourceTx(ctx, tx, targetID)
	if errors.Is(err, repo.ErrNotFound) {
		return errors.New("target resource does not exist")
	}
	if err != nil {
		return err
	}
	v, err := e.Repo.GetVersionTx(ctx, tx, target.VersionID)
	if err != nil {
		return err
	}
	if v.CollectionID != collectionID {
		return errors.New("target resource belongs to another collection")
	}
	if actionOf(target.Action) == domain.ActionDelete {
		return errors.New("target resource is deleted")
	}
	if actionOf(target.Action) == domain.ActionOldVersion {
		return errors.New("target resource is superseded")
	}
	return nil
}

// draftInternalRelationTx loads a relation and checks draft membership.
func (e Engine) draftInternalRelationTx(ctx context.Context, tx *sql.Tx, collectionID, relationID string) (domain.InternalRelation, error) {
	draft, err := e.draftTx(ctx, tx, collectionID)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	rel, err := e.Repo.GetInternalRelationTx(ctx, tx, relationID)
	if err != nil {
		return domain.InternalRelation{}, err
	}
	if rel.VersionID != draft.ID {
		return domain.InternalRelation{}, errors.New("relation does not belong to the current draft")
	}
	return rel, nil
}

func (e Engine) draftExternalRelationTx(ctx context.Context, tx *sql.Tx, collectionID, relationID string) (domain.ExternalRelation, error) {
	draft, err := e.draftTx(ctx, tx, collectionID)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	rel, err := e.Repo.GetExternalRelationTx(ctx, tx, relationID)
	if err != nil {
		return domain.ExternalRelation{}, err
	}
	if rel.VersionID != draft.ID {
		return domain.ExternalRelation{}, errors.New("relation does not belong to the current draft")
	}
	return rel, nil
}
