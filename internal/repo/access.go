package repo

import (
	"context"
	"database/sql"

	"catena/internal/domain"
)

func (r Repo) UpsertCollectionAccess(ctx context.Context, tx *sql.Tx, access domain.CollectionAccess) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO collection_access(collection_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(collection_id,user_id) DO UPDATE SET role=excluded.role`,
		access.CollectionID, access.UserID, access.Role, access.CreatedAt)
	return err
}

func (r Repo) RevokeCollectionAccess(ctx context.Context, tx *sql.Tx, collectionID, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM collection_access WHERE collection_id=? AND user_id=?`, collectionID, userID)
	return err
}

func (r Repo) GetCollectionRole(ctx context.Context, collectionID, userID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM collection_access WHERE collection_id=? AND user_id=?`, collectionID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) ListCollectionAccess(ctx context.Context, collectionID string) ([]domain.CollectionAccess, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT collection_id,user_id,role,created_at FROM collection_access WHERE collection_id=? ORDER BY created_at ASC`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CollectionAccess
	for rows.Next() {
		var a domain.CollectionAccess
		if err := rows.Scan(&a.CollectionID, &a.UserID, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
