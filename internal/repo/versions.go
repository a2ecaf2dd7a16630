package repo

import (
	"context"
	"database/sql"

	"catena/internal/domain"
)

const versionCols = `id,collection_id,name,identifier,COALESCE(changelog,''),published,published_on,creators_json,created_at,updated_at`

func scanVersion(scan func(...any) error) (domain.Version, error) {
	var v domain.Version
	var published int
	var publishedOn, creators sql.NullString
	err := scan(&v.ID, &v.CollectionID, &v.Name, &v.Identifier, &v.Changelog, &published, &publishedOn, &creators, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Published = published != 0
	v.PublishedOn = stringPtr(publishedOn)
	v.CreatorsJSON = stringPtr(creators)
	return v, nil
}

func (r Repo) InsertVersionTx(ctx context.Context, tx *sql.Tx, v domain.Version) error {
	published := 0
	if v.Published {
		published = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO versions(id,collection_id,name,identifier,changelog,published,published_on,creators_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.CollectionID, v.Name, v.Identifier, nullable(v.Changelog), published, nullableStringPtr(v.PublishedOn), nullableStringPtr(v.CreatorsJSON), v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	return scanVersion(r.DB.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE id=?`, id).Scan)
}

func (r Repo) GetVersionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Version, error) {
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE id=?`, id).Scan)
}

// LatestVersionTx returns the most recently created version of a collection.
func (r Repo) LatestVersionTx(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Version, error) {
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE collection_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, collectionID).Scan)
}

// DraftVersionTx returns the single unpublished version of a collection.
func (r Repo) DraftVersionTx(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Version, error) {
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE collection_id=? AND published=0 LIMIT 1`, collectionID).Scan)
}

func (r Repo) DraftVersion(ctx context.Context, collectionID string) (domain.Version, error) {
	return scanVersion(r.DB.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE collection_id=? AND published=0 LIMIT 1`, collectionID).Scan)
}

func (r Repo) CountDraftsTx(ctx context.Context, tx *sql.Tx, collectionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM versions WHERE collection_id=? AND published=0`, collectionID).Scan(&n)
	return n, err
}

// LatestPublishedVersionTx returns the most recently published version.
func (r Repo) LatestPublishedVersionTx(ctx context.Context, tx *sql.Tx, collectionID string) (domain.Version, error) {
	return scanVersion(tx.QueryRowContext(ctx, `SELECT `+versionCols+` FROM versions WHERE collection_id=? AND published=1 ORDER BY published_on DESC, id DESC LIMIT 1`, collectionID).Scan)
}

// MarkVersionPublishedTx flips a draft to published with its assigned name.
func (r Repo) MarkVersionPublishedTx(ctx context.Context, tx *sql.Tx, id, name, publishedOn string, creatorsJSON *string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE versions SET name=?, published=1, published_on=?, creators_json=?, updated_at=? WHERE id=? AND published=0`,
		name, publishedOn, nullableStringPtr(creatorsJSON), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetVersionChangelogTx(ctx context.Context, tx *sql.Tx, id, changelog, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE versions SET changelog=?, updated_at=? WHERE id=?`, changelog, now, id)
	return err
}

func (r Repo) ListVersions(ctx context.Context, collectionID string) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+versionCols+` FROM versions WHERE collection_id=? ORDER BY created_at DESC, id DESC`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
