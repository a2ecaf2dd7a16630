package repo

import (
	"context"
	"database/sql"

	"catena/internal/domain"
)

const resourceCols = `id,version_id,canonical_id,lineage_id,original_resource_id,action,title,COALESCE(description,''),identifier,identifier_type,resource_type,version_label,created_at,updated_at`

func scanResource(scan func(...any) error) (domain.Resource, error) {
	var res domain.Resource
	var lineageID, originalID, action, versionLabel sql.NullString
	err := scan(&res.ID, &res.VersionID, &res.CanonicalID, &lineageID, &originalID, &action,
		&res.Title, &res.Description, &res.Identifier, &res.IdentifierType, &res.ResourceType, &versionLabel,
		&res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.LineageID = stringPtr(lineageID)
	res.OriginalResourceID = stringPtr(originalID)
	res.Action = actionPtr(action)
	res.VersionLabel = stringPtr(versionLabel)
	return res, nil
}

func (r Repo) InsertResourceTx(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(id,version_id,canonical_id,lineage_id,original_resource_id,action,title,description,identifier,identifier_type,resource_type,version_label,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.VersionID, res.CanonicalID, nullableStringPtr(res.LineageID), nullableStringPtr(res.OriginalResourceID),
		nullableAction(res.Action), res.Title, nullable(res.Description), res.Identifier, res.IdentifierType,
		res.ResourceType, nullableStringPtr(res.VersionLabel), res.CreatedAt, res.UpdatedAt)
	return err
}

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE id=?`, id).Scan)
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(tx.QueryRowContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE id=?`, id).Scan)
}

// UpdateResourceTx rewrites a resource's business fields and action.
func (r Repo) UpdateResourceTx(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	result, err := tx.ExecContext(ctx, `UPDATE resources SET canonical_id=?, lineage_id=?, action=?, title=?, description=?, identifier=?, identifier_type=?, resource_type=?, version_label=?, updated_at=? WHERE id=?`,
		res.CanonicalID, nullableStringPtr(res.LineageID), nullableAction(res.Action), res.Title, nullable(res.Description),
		res.Identifier, res.IdentifierType, res.ResourceType, nullableStringPtr(res.VersionLabel), res.UpdatedAt, res.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetResourceActionTx(ctx context.Context, tx *sql.Tx, id string, action *domain.Action, now string) error {
	result, err := tx.ExecContext(ctx, `UPDATE resources SET action=?, updated_at=? WHERE id=?`, nullableAction(action), now, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetResourceCanonicalTx(ctx context.Context, tx *sql.Tx, id, canonicalID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE resources SET canonical_id=? WHERE id=?`, canonicalID, id)
	return err
}

func (r Repo) DeleteResourceTx(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResourcesByActionTx removes every resource of a version carrying the
// given action. Used by the publish transition for delete rows.
func (r Repo) DeleteResourcesByActionTx(ctx context.Context, tx *sql.Tx, versionID string, action domain.Action) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE version_id=? AND action=?`, versionID, string(action))
	return err
}

// ClearResourceStagingTx clears action and lineage pointers on every
// surviving resource of a version; they become the new published baseline.
func (r Repo) ClearResourceStagingTx(ctx context.Context, tx *sql.Tx, versionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE resources SET action=NULL, original_resource_id=NULL WHERE version_id=?`, versionID)
	return err
}

func (r Repo) ListResourcesByVersion(ctx context.Context, versionID string) ([]domain.Resource, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResources(rows)
}

func (r Repo) ListResourcesByVersionTx(ctx context.Context, tx *sql.Tx, versionID string) ([]domain.Resource, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE version_id=? ORDER BY created_at ASC, id ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectResources(rows)
}

func collectResources(rows *sql.Rows) ([]domain.Resource, error) {
	var res []domain.Resource
	for rows.Next() {
		item, err := scanResource(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
