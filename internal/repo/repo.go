package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"atelier/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workItemColumns = `id,domain,kind,spec_json,priority,cost_of_delay,job_size,iteration,parent_id,status,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var w domain.WorkItem
	var specJSON string
	var parentID sql.NullString
	err := row.Scan(&w.ID, &w.Domain, &w.Kind, &specJSON, &w.Priority, &w.CostOfDelay, &w.JobSize,
		&w.Iteration, &parentID, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if parentID.Valid {
		w.ParentID = &parentID.String
	}
	spec, err := domain.UnmarshalSpec(specJSON)
	if err != nil {
		return w, fmt.Errorf("spec for item %s: %w", w.ID, err)
	}
	w.Spec = spec
	return w, nil
}

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	specJSON, err := domain.MarshalSpec(w.Spec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_items(`+workItemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Domain, w.Kind, specJSON, w.Priority, w.CostOfDelay, w.JobSize,
		w.Iteration, nullableStringPtr(w.ParentID), w.Status, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return scanWorkItem(r.DB.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	return scanWorkItem(tx.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
}

// SetStatusTx moves an item to status only if it currently holds fromStatus.
// Returns ErrNotFound when no row matched, which callers translate into an
// invalid-transition error after inspecting the actual row.
func (r Repo) SetStatusTx(ctx context.Context, tx *sql.Tx, id, fromStatus, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET status=?, updated_at=? WHERE id=? AND status=?`,
		status, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// pendingOrder ranks pending items: priority tier first, then the
// cost-of-delay over job-size ratio, then FIFO on creation time.
const pendingOrder = `ORDER BY
	CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 WHEN 'low' THEN 2 ELSE 3 END,
	cost_of_delay / job_size DESC,
	created_at ASC,
	id ASC`

func (r Repo) NextPending(ctx context.Context, dom string) (domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE domain=? AND status='pending' ` + pendingOrder + ` LIMIT 1`
	return scanWorkItem(r.DB.QueryRowContext(ctx, query, dom))
}

func (r Repo) NextPendingTx(ctx context.Context, tx *sql.Tx, dom string) (domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE domain=? AND status='pending' ` + pendingOrder + ` LIMIT 1`
	return scanWorkItem(tx.QueryRowContext(ctx, query, dom))
}

// PendingCount counts pending items across the given domains; with no domains
// it counts every pending item.
func (r Repo) PendingCount(ctx context.Context, domains []string) (int, error) {
	query := `SELECT count(*) FROM work_items WHERE status='pending'`
	var args []any
	if len(domains) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domains)), ",")
		query += ` AND domain IN (` + placeholders + `)`
		for _, d := range domains {
			args = append(args, d)
		}
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

type WorkItemFilters struct {
	Domain          string
	Status          string
	Kind            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Domain != "" {
		clauses = append(clauses, "domain=?")
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workItemColumns + ` FROM work_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// Lineage returns the full chain of attempts containing the given item,
// oldest first. Parent pointers form a forward-only chain, so the walk
// terminates without cycle bookkeeping.
func (r Repo) Lineage(ctx context.Context, id string) ([]domain.WorkItem, error) {
	item, err := r.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	// Walk back to the root.
	root := item
	for root.ParentID != nil {
		parent, err := r.GetWorkItem(ctx, *root.ParentID)
		if err != nil {
			return nil, err
		}
		root = parent
	}
	// Walk forward collecting successors.
	chain := []domain.WorkItem{root}
	cur := root
	for {
		next, err := scanWorkItem(r.DB.QueryRowContext(ctx,
			`SELECT `+workItemColumns+` FROM work_items WHERE parent_id=? LIMIT 1`, cur.ID))
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// HasSuccessor reports whether any item names the given id as its parent.
func (r Repo) HasSuccessorTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM work_items WHERE parent_id=?`, id).Scan(&n)
	return n > 0, err
}

func (r Repo) CountByStatus(ctx context.Context, dom string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM work_items`
	var args []any
	if dom != "" {
		query += ` WHERE domain=?`
		args = append(args, dom)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// Domains lists every domain that has at least one work item.
func (r Repo) Domains(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT domain FROM work_items ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
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
