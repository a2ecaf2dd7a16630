package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catena/internal/domain"
	"catena/internal/events"
	"catena/internal/repo"
)

// ValidationFailedError rejects a publish whose draft has defects. The full
// result rides along so callers can render every error.
type ValidationFailedError struct {
	Result domain.ValidationResult
}

func (e ValidationFailedError) Error() string {
	return fmt.Sprintf("draft validation failed with %d errors", len(e.Result.Errors))
}

// PublishOptions are parameters for publishing a collection's draft.
type PublishOptions struct {
	CollectionID string
	Changelog    string
	Creators     []domain.Creator
	UserID       string
}

// Publish freezes the collection's draft into an immutable published version
// and seeds the next draft, all in one transaction. Rows tagged delete are
// removed, every surviving row has its staging metadata cleared, the version
// gets a calendar name and a creators snapshot, and the new draft is cloned
// from the result. Any failure rolls the whole transition back.
func (e Engine) Publish(ctx context.Context, opts PublishOptions) (domain.Version, error) {
	result, err := e.ValidateDraft(ctx, opts.CollectionID)
	if err != nil {
		return domain.Version{}, err
	}
	if !result.Valid {
		return domain.Version{}, ValidationFailedError{Result: result}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Version{}, err
	}
	defer tx.Rollback()

	draft, err := e.Repo.DraftVersionTx(ctx, tx, opts.CollectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Version{}, fmt.Errorf("collection %s has no draft to publish", opts.CollectionID)
	}
	if err != nil {
		return domain.Version{}, err
	}

	// Reconcile staged rows: deletes disappear, everything else becomes
	// permanent published content.
	if err := e.Repo.DeleteInternalRelationsByActionTx(ctx, tx, draft.ID, domain.ActionDelete); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.DeleteExternalRelationsByActionTx(ctx, tx, draft.ID, domain.ActionDelete); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.DeleteResourcesByActionTx(ctx, tx, draft.ID, domain.ActionDelete); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.ClearInternalRelationStagingTx(ctx, tx, draft.ID); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.ClearExternalRelationStagingTx(ctx, tx, draft.ID); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.ClearResourceStagingTx(ctx, tx, draft.ID); err != nil {
		return domain.Version{}, err
	}

	previousName := ""
	if prev, err := e.Repo.LatestPublishedVersionTx(ctx, tx, opts.CollectionID); err == nil {
		previousName = prev.Name
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Version{}, err
	}

	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	name := nextCalverName(nowT, previousName)

	var creatorsJSON *string
	if len(opts.Creators) > 0 {
		for i := range opts.Creators {
			opts.Creators[i].CreatorIndex = i
		}
		data, err := json.Marshal(opts.Creators)
		if err != nil {
			return domain.Version{}, fmt.Errorf("marshal creators: %w", err)
		}
		s := string(data)
		creatorsJSON = &s
	}

	if err := e.Repo.MarkVersionPublishedTx(ctx, tx, draft.ID, name, now, creatorsJSON, now); err != nil {
		return domain.Version{}, err
	}
	if opts.Changelog != "" {
		if err := e.Repo.SetVersionChangelogTx(ctx, tx, draft.ID, opts.Changelog, now); err != nil {
			return domain.Version{}, err
		}
	}

	next, err := e.ensureDraftTx(ctx, tx, opts.CollectionID)
	if err != nil {
		return domain.Version{}, err
	}
	if err := e.Events.Append(ctx, tx, "version.published", opts.CollectionID, "version", draft.ID, opts.UserID, events.EventPayload{
		"name":       name,
		"next_draft": next.ID,
	}); err != nil {
		return domain.Version{}, err
	}
	if err := e.Repo.TouchCollectionTx(ctx, tx, opts.CollectionID, now); err != nil {
		return domain.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Version{}, err
	}
	return e.Repo.GetVersion(ctx, draft.ID)
}
