package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catena/internal/domain"
	"catena/internal/repo"
)

var versionLabelTypes = map[string]bool{
	"IsNewVersionOf":      true,
	"IsPreviousVersionOf": true,
	"IsVersionOf":         true,
}

// ValidateDraft runs every structural and business-rule check over the
// collection's draft and returns the accumulated defects. The draft is never
// mutated; Valid=false is a result, not an error.
func (e Engine) ValidateDraft(ctx context.Context, collectionID string) (domain.ValidationResult, error) {
	draft, err := e.Repo.DraftVersion(ctx, collectionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ValidationResult{}, fmt.Errorf("collection %s has no draft version", collectionID)
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}
	resources, err := e.Repo.ListResourcesByVersion(ctx, draft.ID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	internals, err := e.Repo.ListInternalRelationsByVersion(ctx, draft.ID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	externals, err := e.Repo.ListExternalRelationsByVersion(ctx, draft.ID)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return e.validate(ctx, resources, internals, externals)
}

// validate is the pure core: given a draft's rows it returns every defect.
// Rows tagged delete are scheduled for removal at publish and are skipped.
func (e Engine) validate(ctx context.Context, resources []domain.Resource, internals []domain.InternalRelation, externals []domain.ExternalRelation) (domain.ValidationResult, error) {
	var errs []domain.ValidationError

	byID := make(map[string]domain.Resource, len(resources))
	live := make([]domain.Resource, 0, len(resources))
	for _, res := range resources {
		byID[res.ID] = res
		if actionOf(res.Action) == domain.ActionDelete {
			continue
		}
		live = append(live, res)
	}

	addErr := func(res domain.Resource, msg string) {
		errs = append(errs, domain.ValidationError{ResourceID: res.ID, Title: res.Title, Message: msg})
	}

	// Required fields.
	for _, res := range live {
		if strings.TrimSpace(res.Title) == "" {
			addErr(res, "Title is required")
		}
		if strings.TrimSpace(res.Identifier) == "" {
			addErr(res, "Identifier is required")
		}
		if strings.TrimSpace(res.IdentifierType) == "" {
			addErr(res, "Identifier type is required")
		}
		if strings.TrimSpace(res.ResourceType) == "" {
			addErr(res, "Resource type is required")
		}
	}

	// Identifier uniqueness on (identifierType, identifier, versionLabel),
	// case and whitespace insensitive. The first occurrence is fine, each
	// later one is an error.
	seen := map[string]bool{}
	for _, res := range live {
		key := res.IdentifierType + "\x00" +
			strings.ToLower(strings.TrimSpace(res.Identifier)) + "\x00" +
			strings.ToLower(strings.TrimSpace(derefString(res.VersionLabel)))
		if seen[key] {
			addErr(res, "Identifier is not unique in this draft")
			continue
		}
		seen[key] = true
	}

	// resolveResource follows internal relation targets, which may live in a
	// previously published version.
	resolveResource := func(id string) (domain.Resource, bool, error) {
		if res, ok := byID[id]; ok {
			return res, true, nil
		}
		res, err := e.Repo.GetResource(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Resource{}, false, nil
		}
		if err != nil {
			return domain.Resource{}, false, err
		}
		return res, true, nil
	}

	attribute := func(rel domain.InternalRelation) domain.Resource {
		if res, ok := byID[rel.SourceID]; ok {
			return res
		}
		return domain.Resource{ID: rel.SourceID}
	}

	liveInternals := make([]domain.InternalRelation, 0, len(internals))
	for _, rel := range internals {
		if actionOf(rel.Action) == domain.ActionDelete {
			continue
		}
		liveInternals = append(liveInternals, rel)
	}

	// Self-relations.
	for _, rel := range liveInternals {
		if rel.SourceID == rel.TargetID {
			addErr(attribute(rel), "Relation has the same source and target")
		}
	}

	// Duplicate internal triples, forward and reversed.
	seenTriples := map[string]bool{}
	for _, rel := range liveInternals {
		forward := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Type
		reversed := rel.TargetID + "\x00" + rel.SourceID + "\x00" + rel.Type
		if seenTriples[forward] || seenTriples[reversed] {
			addErr(attribute(rel), fmt.Sprintf("Duplicate %s relation between these resources", rel.Type))
		}
		seenTriples[forward] = true
	}

	// Duplicate external triples.
	seenExternal := map[string]bool{}
	for _, rel := range externals {
		if actionOf(rel.Action) == domain.ActionDelete {
			continue
		}
		key := rel.SourceID + "\x00" + rel.Target + "\x00" + rel.Type
		if seenExternal[key] {
			src := byID[rel.SourceID]
			if src.ID == "" {
				src = domain.Resource{ID: rel.SourceID}
			}
			addErr(src, fmt.Sprintf("Duplicate %s relation to %s", rel.Type, rel.Target))
		}
		seenExternal[key] = true
	}

	// Version-label requirement for versioning relation types.
	for _, rel := range liveInternals {
		if !e.requiresVersionLabel(rel.Type) {
			continue
		}
		src := attribute(rel)
		if strings.TrimSpace(derefString(src.VersionLabel)) == "" {
			addErr(src, fmt.Sprintf("A %s relation requires a version label on the source resource", rel.Type))
		}
		target, ok, err := resolveResource(rel.TargetID)
		if err != nil {
			return domain.ValidationResult{}, err
		}
		if ok && strings.TrimSpace(derefString(target.VersionLabel)) == "" {
			addErr(src, fmt.Sprintf("A %s relation requires a version label on the target resource", rel.Type))
		}
	}
	for _, rel := range externals {
		if actionOf(rel.Action) == domain.ActionDelete || !e.requiresVersionLabel(rel.Type) {
			continue
		}
		src, ok := byID[rel.SourceID]
		if !ok {
			src = domain.Resource{ID: rel.SourceID}
		}
		if strings.TrimSpace(derefString(src.VersionLabel)) == "" {
			addErr(src, fmt.Sprintf("A %s relation requires a version label on the source resource", rel.Type))
		}
	}

	// Mirror conflicts: a hand-authored inverse of an existing relation.
	for _, rel := range liveInternals {
		mirror := e.mirrorOf(rel.Type)
		if mirror == "" {
			continue
		}
		for _, other := range liveInternals {
			if other.ID == rel.ID {
				continue
			}
			if other.SourceID == rel.TargetID && other.TargetID == rel.SourceID && other.Type == mirror {
				addErr(attribute(rel), fmt.Sprintf("A %s relation already implies the inverse %s relation", rel.Type, mirror))
				break
			}
		}
	}

	return domain.ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

func (e Engine) requiresVersionLabel(relType string) bool {
	if e.Config != nil && e.Config.RequiresVersionLabel(relType) {
		return true
	}
	return versionLabelTypes[relType]
}

func (e Engine) mirrorOf(relType string) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.MirrorOf(relType)
}
