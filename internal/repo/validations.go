package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"atelier/internal/domain"
)

// InsertValidationTx records one iteration's aggregate decision for the audit
// trail.
func (r Repo) InsertValidationTx(ctx context.Context, tx *sql.Tx, v domain.ValidationResult) error {
	results, err := json.Marshal(v.Results)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validations(item_id,iteration,results_json,master_score,weighted_score,approved,forced,feedback,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ItemID, v.Iteration, string(results), v.MasterScore, v.WeightedScore, boolInt(v.Approved), boolInt(v.Forced), nullable(v.Feedback), v.CreatedAt)
	return err
}

// ListValidationsByItem returns the validations recorded for one item, oldest
// first.
func (r Repo) ListValidationsByItem(ctx context.Context, itemID string) ([]domain.ValidationResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT item_id,iteration,results_json,master_score,weighted_score,approved,forced,feedback,created_at
FROM validations WHERE item_id=? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationResult
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListValidationsByLineage returns validations for every item in the lineage
// containing the given id, oldest attempt first.
func (r Repo) ListValidationsByLineage(ctx context.Context, itemID string) ([]domain.ValidationResult, error) {
	chain, err := r.Lineage(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var res []domain.ValidationResult
	for _, item := range chain {
		vs, err := r.ListValidationsByItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, vs...)
	}
	return res, nil
}

func scanValidation(row rowScanner) (domain.ValidationResult, error) {
	var v domain.ValidationResult
	var resultsJSON string
	var approved, forced int
	var feedback sql.NullString
	err := row.Scan(&v.ItemID, &v.Iteration, &resultsJSON, &v.MasterScore, &v.WeightedScore, &approved, &forced, &feedback, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Approved = approved != 0
	v.Forced = forced != 0
	if feedback.Valid {
		v.Feedback = feedback.String
	}
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &v.Results); err != nil {
			return v, err
		}
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
