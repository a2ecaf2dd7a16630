package repo

import (
	"context"
	"database/sql"

	"catena/internal/domain"
)

const internalRelationCols = `id,version_id,source_id,target_id,type,mirror,resource_type,original_relation_id,action,created_at,updated_at`
const externalRelationCols = `id,version_id,source_id,target,target_type,type,resource_type,original_relation_id,action,created_at,updated_at`

func scanInternalRelation(scan func(...any) error) (domain.InternalRelation, error) {
	var rel domain.InternalRelation
	var mirror int
	var resourceType, originalID, action sql.NullString
	err := scan(&rel.ID, &rel.VersionID, &rel.SourceID, &rel.TargetID, &rel.Type, &mirror, &resourceType, &originalID, &action, &rel.CreatedAt, &rel.UpdatedAt)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	if err != nil {
		return rel, err
	}
	rel.Mirror = mirror != 0
	rel.ResourceType = stringPtr(resourceType)
	rel.OriginalRelationID = stringPtr(originalID)
	rel.Action = actionPtr(action)
	return rel, nil
}

func scanExternalRelation(scan func(...any) error) (domain.ExternalRelation, error) {
	var rel domain.ExternalRelation
	var targetType, resourceType, originalID, action sql.NullString
	err := scan(&rel.ID, &rel.VersionID, &rel.SourceID, &rel.Target, &targetType, &rel.Type, &resourceType, &originalID, &action, &rel.CreatedAt, &rel.UpdatedAt)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	if err != nil {
		return rel, err
	}
	rel.TargetType = stringPtr(targetType)
	rel.ResourceType = stringPtr(resourceType)
	rel.OriginalRelationID = stringPtr(originalID)
	rel.Action = actionPtr(action)
	return rel, nil
}

func (r Repo) InsertInternalRelationTx(ctx context.Context, tx *sql.Tx, rel domain.InternalRelation) error {
	mirror := 0
	if rel.Mirror {
		mirror = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO internal_relations(id,version_id,source_id,target_id,type,mirror,resource_type,original_relation_id,action,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rel.ID, rel.VersionID, rel.SourceID, rel.TargetID, rel.Type, mirror, nullableStringPtr(rel.ResourceType),
		nullableStringPtr(rel.OriginalRelationID), nullableAction(rel.Action), rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (r Repo) InsertExternalRelationTx(ctx context.Context, tx *sql.Tx, rel domain.ExternalRelation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO external_relations(id,version_id,source_id,target,target_type,type,resource_type,original_relation_id,action,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rel.ID, rel.VersionID, rel.SourceID, rel.Target, nullableStringPtr(rel.TargetType), rel.Type,
		nullableStringPtr(rel.ResourceType), nullableStringPtr(rel.OriginalRelationID), nullableAction(rel.Action), rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (r Repo) GetInternalRelationTx(ctx context.Context, tx *sql.Tx, id string) (domain.InternalRelation, error) {
	return scanInternalRelation(tx.QueryRowContext(ctx, `SELECT `+internalRelationCols+` FROM internal_relations WHERE id=?`, id).Scan)
}

func (r Repo) GetExternalRelationTx(ctx context.Context, tx *sql.Tx, id string) (domain.ExternalRelation, error) {
	return scanExternalRelation(tx.QueryRowContext(ctx, `SELECT `+externalRelationCols+` FROM external_relations WHERE id=?`, id).Scan)
}

func (r Repo) UpdateInternalRelationTx(ctx context.Context, tx *sql.Tx, rel domain.InternalRelation) error {
	mirror := 0
	if rel.Mirror {
		mirror = 1
	}
	result, err := tx.ExecContext(ctx, `UPDATE internal_relations SET target_id=?, type=?, mirror=?, resource_type=?, action=?, updated_at=? WHERE id=?`,
		rel.TargetID, rel.Type, mirror, nullableStringPtr(rel.ResourceType), nullableAction(rel.Action), rel.UpdatedAt, rel.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateExternalRelationTx(ctx context.Context, tx *sql.Tx, rel domain.ExternalRelation) error {
	result, err := tx.ExecContext(ctx, `UPDATE external_relations SET target=?, target_type=?, type=?, resource_type=?, action=?, updated_at=? WHERE id=?`,
		rel.Target, nullableStringPtr(rel.TargetType), rel.Type, nullableStringPtr(rel.ResourceType), nullableAction(rel.Action), rel.UpdatedAt, rel.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteInternalRelationTx(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM internal_relations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteExternalRelationTx(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM external_relations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteInternalRelationsByActionTx(ctx context.Context, tx *sql.Tx, versionID string, action domain.Action) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM internal_relations WHERE version_id=? AND action=?`, versionID, string(action))
	return err
}

func (r Repo) DeleteExternalRelationsByActionTx(ctx context.Context, tx *sql.Tx, versionID string, action domain.Action) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM external_relations WHERE version_id=? AND action=?`, versionID, string(action))
	return err
}

func (r Repo) ClearInternalRelationStagingTx(ctx context.Context, tx *sql.Tx, versionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE internal_relations SET action=NULL, original_relation_id=NULL WHERE version_id=?`, versionID)
	return err
}

func (r Repo) ClearExternalRelationStagingTx(ctx context.Context, tx *sql.Tx, versionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE external_relations SET action=NULL, original_relation_id=NULL WHERE version_id=?`, versionID)
	return err
}

func (r Repo) ListInternalRelationsByVersion(ctx context.Context, versionID string) ([]domain.InternalRelation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+internalRelationCols+` FROM internal_relations WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInternalRelations(rows)
}

func (r Repo) ListInternalRelationsByVersionTx(ctx context.Context, tx *sql.Tx, versionID string) ([]domain.InternalRelation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+internalRelationCols+` FROM internal_relations WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInternalRelations(rows)
}

func (r Repo) ListExternalRelationsByVersion(ctx context.Context, versionID string) ([]domain.ExternalRelation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+externalRelationCols+` FROM external_relations WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExternalRelations(rows)
}

func (r Repo) ListExternalRelationsByVersionTx(ctx context.Context, tx *sql.Tx, versionID string) ([]domain.ExternalRelation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+externalRelationCols+` FROM external_relations WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExternalRelations(rows)
}

// ListInternalRelationsBySourceTx returns relations whose source is the given
// resource, scoped to one version.
func (r Repo) ListInternalRelationsBySourceTx(ctx context.Context, tx *sql.Tx, versionID, sourceID string) ([]domain.InternalRelation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+internalRelationCols+` FROM internal_relations WHERE version_id=? AND source_id=? ORDER BY created_at ASC, id ASC`, versionID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInternalRelations(rows)
}

func (r Repo) ListExternalRelationsBySourceTx(ctx context.Context, tx *sql.Tx, versionID, sourceID string) ([]domain.ExternalRelation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+externalRelationCols+` FROM external_relations WHERE version_id=? AND source_id=? ORDER BY created_at ASC, id ASC`, versionID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExternalRelations(rows)
}

func collectInternalRelations(rows *sql.Rows) ([]domain.InternalRelation, error) {
	var res []domain.InternalRelation
	for rows.Next() {
		rel, err := scanInternalRelation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}

func collectExternalRelations(rows *sql.Rows) ([]domain.ExternalRelation, error) {
	var res []domain.ExternalRelation
	for rows.Next() {
		rel, err := scanExternalRelation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}
