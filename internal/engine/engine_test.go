package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"catena/internal/config"
	"catena/internal/db"
	"catena/internal/domain"
	"catena/internal/engine"
	"catena/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createCollection(t *testing.T) domain.Collection {
	t.Helper()
	c, err := env.Engine.CreateCollection(env.Ctx, engine.CollectionCreateOptions{
		Title:  "Survey data",
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return c
}

func (env testEnv) addResource(t *testing.T, collectionID, title, identifier string) domain.Resource {
	t.Helper()
	r, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		CollectionID:   collectionID,
		Title:          title,
		Identifier:     identifier,
		IdentifierType: "DOI",
		ResourceType:   "Dataset",
		UserID:         "tester",
	})
	if err != nil {
		t.Fatalf("create resource %s: %v", title, err)
	}
	return r
}

func actionString(a *domain.Action) string {
	if a == nil {
		return ""
	}
	return string(*a)
}

func TestCreateCollectionSeedsEmptyDraft(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)

	draft, err := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("draft version: %v", err)
	}
	if draft.Published {
		t.Fatalf("draft must not be published")
	}
	if draft.Name != "Draft" {
		t.Fatalf("unexpected draft name %q", draft.Name)
	}
	resources, err := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	if len(resources) != 0 {
		t.Fatalf("expected empty draft, got %d resources", len(resources))
	}

	// EnsureDraft must be idempotent and return the existing draft.
	again, err := env.Engine.EnsureDraft(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("ensure draft: %v", err)
	}
	if again.ID != draft.ID {
		t.Fatalf("EnsureDraft created a second draft: %s vs %s", again.ID, draft.ID)
	}
}

func TestPublishClonesContentIntoNextDraft(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	a := env.addResource(t, c.ID, "A", "10.1/a")
	b := env.addResource(t, c.ID, "B", "10.1/b")
	if _, err := env.Engine.CreateInternalRelation(env.Ctx, engine.InternalRelationCreateOptions{
		CollectionID: c.ID,
		SourceID:     a.ID,
		TargetID:     b.ID,
		Type:         "Cites",
		UserID:       "tester",
	}); err != nil {
		t.Fatalf("create relation: %v", err)
	}

	published, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{
		CollectionID: c.ID,
		Changelog:    "first release",
		Creators:     []domain.Creator{{CreatorName: "Ada"}},
		UserID:       "tester",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.Published {
		t.Fatalf("version should be published")
	}
	// 2024-01-01 falls in ISO week 1.
	if published.Name != "2024.1.1" {
		t.Fatalf("unexpected version name %q", published.Name)
	}
	if published.PublishedOn == nil {
		t.Fatalf("published_on not set")
	}

	// Published rows carry no staging action anymore.
	pubResources, err := env.Engine.Repo.ListResourcesByVersion(env.Ctx, published.ID)
	if err != nil {
		t.Fatalf("list published resources: %v", err)
	}
	if len(pubResources) != 2 {
		t.Fatalf("expected 2 published resources, got %d", len(pubResources))
	}
	for _, r := range pubResources {
		if r.Action != nil {
			t.Fatalf("published resource %s still tagged %s", r.Title, *r.Action)
		}
		if r.OriginalResourceID != nil {
			t.Fatalf("published resource %s still references an original", r.Title)
		}
	}

	// A fresh draft exists with one clone per published resource.
	draft, err := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("next draft: %v", err)
	}
	if draft.ID == published.ID {
		t.Fatalf("draft was not reseeded")
	}
	clones, err := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	if err != nil {
		t.Fatalf("list clones: %v", err)
	}
	if len(clones) != 2 {
		t.Fatalf("expected 2 clones, got %d", len(clones))
	}
	cloneOfA := ""
	for _, r := range clones {
		if actionString(r.Action) != "clone" {
			t.Fatalf("clone %s tagged %q", r.Title, actionString(r.Action))
		}
		if r.OriginalResourceID == nil {
			t.Fatalf("clone %s has no original reference", r.Title)
		}
		if r.Title == "A" {
			cloneOfA = r.ID
		}
	}

	// The cloned relation hangs off the clone of A and still points at the
	// published B row.
	rels, err := env.Engine.Repo.ListInternalRelationsByVersion(env.Ctx, draft.ID)
	if err != nil {
		t.Fatalf("list cloned relations: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected 1 cloned relation, got %d", len(rels))
	}
	if rels[0].SourceID != cloneOfA {
		t.Fatalf("relation source not rewritten to clone")
	}
	if actionString(rels[0].Action) != "clone" {
		t.Fatalf("cloned relation tagged %q", actionString(rels[0].Action))
	}
}

func TestSecondPublishInSameWeekBumpsMinor(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/a")
	if _, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	second, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if second.Name != "2024.1.2" {
		t.Fatalf("expected minor bump, got %q", second.Name)
	}

	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC) }
	third, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"})
	if err != nil {
		t.Fatalf("third publish: %v", err)
	}
	if third.Name != "2024.2.1" {
		t.Fatalf("expected minor reset in new week, got %q", third.Name)
	}
}

func TestCloneBecomesUpdateAndRevertsToClone(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/a")
	if _, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	draft, err := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	clones, err := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	if err != nil || len(clones) != 1 {
		t.Fatalf("expected 1 clone: %v", err)
	}
	clone := clones[0]

	newTitle := "A revised"
	edited, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID,
		ResourceID:   clone.ID,
		Title:        &newTitle,
		UserID:       "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if actionString(edited.Action) != "update" {
		t.Fatalf("expected update action, got %q", actionString(edited.Action))
	}

	// Reverting the field restores the clone action.
	oldTitle := "A"
	reverted, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID,
		ResourceID:   clone.ID,
		Title:        &oldTitle,
		UserID:       "tester",
	})
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if actionString(reverted.Action) != "clone" {
		t.Fatalf("expected clone action after revert, got %q", actionString(reverted.Action))
	}
}

func TestDeleteAndRestore(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/a")
	if _, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	draft, _ := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	clones, _ := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	clone := clones[0]

	if err := env.Engine.DeleteResource(env.Ctx, c.ID, clone.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := env.Engine.Repo.GetResource(env.Ctx, clone.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if actionString(got.Action) != "delete" {
		t.Fatalf("expected soft delete, got %q", actionString(got.Action))
	}
	// Editing a delete-tagged row is refused.
	title := "nope"
	if _, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID, ResourceID: clone.ID, Title: &title, UserID: "tester",
	}); err == nil {
		t.Fatalf("expected edit of deleted resource to fail")
	}

	restored, err := env.Engine.RestoreResource(env.Ctx, c.ID, clone.ID, "tester")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if actionString(restored.Action) != "clone" {
		t.Fatalf("expected clone after restore, got %q", actionString(restored.Action))
	}

	// A create-row delete is physical.
	fresh := env.addResource(t, c.ID, "B", "10.1/b")
	if err := env.Engine.DeleteResource(env.Ctx, c.ID, fresh.ID, "tester"); err != nil {
		t.Fatalf("delete create row: %v", err)
	}
	remaining, _ := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	for _, r := range remaining {
		if r.ID == fresh.ID {
			t.Fatalf("create row should be removed, not tagged")
		}
	}
}

func TestSelfRelationRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	a := env.addResource(t, c.ID, "A", "10.1/a")
	_, err := env.Engine.CreateInternalRelation(env.Ctx, engine.InternalRelationCreateOptions{
		CollectionID: c.ID, SourceID: a.ID, TargetID: a.ID, Type: "Cites", UserID: "tester",
	})
	if err == nil || err.Error() != "a resource cannot relate to itself" {
		t.Fatalf("expected self-relation error, got %v", err)
	}
}

func TestValidationFindsDuplicateIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/same")
	env.addResource(t, c.ID, "B", "  10.1/SAME ")

	result, err := env.Engine.ValidateDraft(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected duplicate identifier defect")
	}
	found := false
	for _, ve := range result.Errors {
		if ve.Message == "Identifier is not unique in this draft" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing duplicate identifier error: %+v", result.Errors)
	}
}

func TestPublishRefusesInvalidDraftAndLeavesItIntact(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	// Missing identifier makes the draft invalid.
	if _, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		CollectionID: c.ID,
		Title:        "no identifier",
		ResourceType: "Dataset",
		UserID:       "tester",
	}); err != nil {
		t.Fatalf("create resource: %v", err)
	}
	draftBefore, _ := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)

	_, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"})
	var ve engine.ValidationFailedError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(ve.Result.Errors) == 0 {
		t.Fatalf("expected validation errors in the failure")
	}

	draftAfter, err := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("draft gone after failed publish: %v", err)
	}
	if draftAfter.ID != draftBefore.ID || draftAfter.Published {
		t.Fatalf("failed publish must not touch the draft")
	}
}

func TestVersionLabelRequiredForVersioningRelations(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	a := env.addResource(t, c.ID, "A", "10.1/a")
	b := env.addResource(t, c.ID, "B", "10.1/b")
	if _, err := env.Engine.CreateInternalRelation(env.Ctx, engine.InternalRelationCreateOptions{
		CollectionID: c.ID, SourceID: a.ID, TargetID: b.ID, Type: "IsNewVersionOf", UserID: "tester",
	}); err != nil {
		t.Fatalf("create relation: %v", err)
	}

	result, err := env.Engine.ValidateDraft(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	labelErrors := 0
	for _, ve := range result.Errors {
		if ve.Message == "A IsNewVersionOf relation requires a version label on the source resource" ||
			ve.Message == "A IsNewVersionOf relation requires a version label on the target resource" {
			labelErrors++
		}
	}
	if labelErrors != 2 {
		t.Fatalf("expected label errors for both ends, got %d (%+v)", labelErrors, result.Errors)
	}

	label := "v2"
	if _, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID, ResourceID: a.ID, VersionLabel: &label, UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	labelB := "v1"
	if _, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID, ResourceID: b.ID, VersionLabel: &labelB, UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	result, err = env.Engine.ValidateDraft(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid draft after labels set: %+v", result.Errors)
	}
}

func TestMirrorConflictDetected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	a := env.addResource(t, c.ID, "A", "10.1/a")
	b := env.addResource(t, c.ID, "B", "10.1/b")
	if _, err := env.Engine.CreateInternalRelation(env.Ctx, engine.InternalRelationCreateOptions{
		CollectionID: c.ID, SourceID: a.ID, TargetID: b.ID, Type: "Cites", UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateInternalRelation(env.Ctx, engine.InternalRelationCreateOptions{
		CollectionID: c.ID, SourceID: b.ID, TargetID: a.ID, Type: "IsCitedBy", UserID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	result, err := env.Engine.ValidateDraft(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected mirror conflict")
	}
	found := false
	for _, ve := range result.Errors {
		if ve.Message == "A Cites relation already implies the inverse IsCitedBy relation" ||
			ve.Message == "A IsCitedBy relation already implies the inverse Cites relation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing mirror conflict error: %+v", result.Errors)
	}
}

func TestNewResourceVersionSupersedesPredecessor(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/a")
	if _, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	draft, _ := env.Engine.Repo.DraftVersion(env.Ctx, c.ID)
	clones, _ := env.Engine.Repo.ListResourcesByVersion(env.Ctx, draft.ID)
	predecessor := clones[0]

	successor, err := env.Engine.NewResourceVersion(env.Ctx, engine.ResourceVersionOptions{
		CollectionID:   c.ID,
		ResourceID:     predecessor.ID,
		Identifier:     "10.1/a.v2",
		IdentifierType: "DOI",
		VersionLabel:   "v2",
		UserID:         "tester",
	})
	if err != nil {
		t.Fatalf("new version: %v", err)
	}
	if actionString(successor.Action) != "create" {
		t.Fatalf("successor tagged %q", actionString(successor.Action))
	}
	if successor.LineageID == nil || *successor.LineageID != predecessor.CanonicalID {
		t.Fatalf("successor lineage not linked to predecessor")
	}
	if successor.Title != predecessor.Title {
		t.Fatalf("successor should inherit the title")
	}

	old, err := env.Engine.Repo.GetResource(env.Ctx, predecessor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if actionString(old.Action) != "oldVersion" {
		t.Fatalf("predecessor tagged %q", actionString(old.Action))
	}

	// Superseded rows are frozen and excluded from relation sources.
	title := "edit"
	if _, err := env.Engine.UpdateResource(env.Ctx, engine.ResourceUpdateOptions{
		CollectionID: c.ID, ResourceID: predecessor.ID, Title: &title, UserID: "tester",
	}); err == nil {
		t.Fatalf("expected superseded edit to fail")
	}
	sources, err := env.Engine.SourceResources(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range sources {
		if r.ID == predecessor.ID {
			t.Fatalf("superseded resource still offered as relation source")
		}
	}
}

func TestEventsLoggedOnDraftChanges(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCollection(t)
	env.addResource(t, c.ID, "A", "10.1/a")
	if _, err := env.Engine.Publish(env.Ctx, engine.PublishOptions{CollectionID: c.ID, UserID: "tester"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE collection_id=?`, c.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	types := map[string]bool{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types[typ] = true
	}
	for _, want := range []string{"collection.created", "resource.created", "version.published"} {
		if !types[want] {
			t.Fatalf("missing %s event, got %v", want, types)
		}
	}
}
