package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"catena/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const collectionCols = `id,workspace_id,title,COALESCE(description,''),identifier,COALESCE(image_url,''),created_at,updated_at`

func scanCollection(row *sql.Row) (domain.Collection, error) {
	var c domain.Collection
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.Description, &c.Identifier, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCollectionTx(ctx context.Context, tx *sql.Tx, c domain.Collection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO collections(id,workspace_id,title,description,identifier,image_url,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkspaceID, c.Title, nullable(c.Description), c.Identifier, nullable(c.ImageURL), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCollection(ctx context.Context, id string) (domain.Collection, error) {
	return scanCollection(r.DB.QueryRowContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE id=?`, id))
}

func (r Repo) GetCollectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Collection, error) {
	return scanCollection(tx.QueryRowContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE id=?`, id))
}

func (r Repo) GetCollectionByIdentifier(ctx context.Context, identifier string) (domain.Collection, error) {
	return scanCollection(r.DB.QueryRowContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE identifier=?`, identifier))
}

func (r Repo) ListCollections(ctx context.Context, workspaceID string) ([]domain.Collection, error) {
	clauses := []string{"1=1"}
	var args []any
	if workspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, workspaceID)
	}
	query := `SELECT ` + collectionCols + ` FROM collections WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Collection
	for rows.Next() {
		var c domain.Collection
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.Description, &c.Identifier, &c.ImageURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCollectionTx(ctx context.Context, tx *sql.Tx, id string, title, description *string, now string) error {
	var (
		fields []string
		args   []any
	)
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, `UPDATE collections SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchCollectionTx bumps the collection's updated timestamp. Mandatory
// post-condition of every staging mutation.
func (r Repo) TouchCollectionTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE collections SET updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCollection(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM collections WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) EnsureWorkspace(ctx context.Context, tx *sql.Tx, id, title, now string) error {
	if title == "" {
		title = id
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO workspaces(id,title,created_at) VALUES (?,?,?)`, id, title, now)
	return err
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID, now string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,created_at) VALUES (?,?)`, userID, now)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableAction(a *domain.Action) any {
	if a == nil {
		return nil
	}
	return string(*a)
}

func actionPtr(s sql.NullString) *domain.Action {
	if !s.Valid || s.String == "" {
		return nil
	}
	a := domain.Action(s.String)
	return &a
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
