package repo

import (
	"context"
	"database/sql"

	"atelier/internal/domain"
)

// UpsertArtifactTx stores or replaces the artifact for an item id.
// Immutability after terminal status is enforced by the queue layer.
func (r Repo) UpsertArtifactTx(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts(item_id,code,format,parse_error,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(item_id) DO UPDATE SET code=excluded.code, format=excluded.format, parse_error=excluded.parse_error, updated_at=excluded.updated_at`,
		a.ItemID, a.Code, a.Format, nullable(a.ParseError), a.UpdatedAt)
	return err
}

// HasArtifactTx reports whether an artifact was deposited for the item id.
func (r Repo) HasArtifactTx(ctx context.Context, tx *sql.Tx, itemID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM artifacts WHERE item_id=?`, itemID).Scan(&n)
	return n > 0, err
}

func (r Repo) GetArtifact(ctx context.Context, itemID string) (domain.Artifact, error) {
	var a domain.Artifact
	var parseError sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT item_id,code,format,parse_error,updated_at FROM artifacts WHERE item_id=?`, itemID).
		Scan(&a.ItemID, &a.Code, &a.Format, &parseError, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if parseError.Valid {
		a.ParseError = parseError.String
	}
	return a, nil
}
