package problem

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type problemRepoSQLite struct{ db *sql.DB }

func NewRepoSQLite(db *sql.DB) Repository { return &problemRepoSQLite{db: db} }

func (r *problemRepoSQLite) Append(ctx context.Context, rows []*Problem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO problems (record_id, patient_id, namaste_code, icd_code, icd_display, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare problem insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		res, err := stmt.ExecContext(ctx, p.RecordID.String(), p.PatientID, p.NamasteCode,
			p.ICDCode, p.ICDDisplay, p.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert problem %s/%s: %w", p.NamasteCode, p.ICDCode, err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("problem id: %w", err)
		}
	}
	return tx.Commit()
}

func (r *problemRepoSQLite) List(ctx context.Context, limit, offset int) ([]*Problem, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count problems: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.record_id, p.patient_id, p.namaste_code, COALESCE(n.display, ''),
		       p.icd_code, p.icd_display, p.created_at
		FROM problems p
		LEFT JOIN namaste n ON n.code = p.namaste_code
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	var items []*Problem
	for rows.Next() {
		var p Problem
		var recordID string
		var created int64
		if err := rows.Scan(&p.ID, &recordID, &p.PatientID, &p.NamasteCode, &p.NamasteDisplay,
			&p.ICDCode, &p.ICDDisplay, &created); err != nil {
			return nil, 0, fmt.Errorf("scan problem: %w", err)
		}
		if p.RecordID, err = uuid.Parse(recordID); err != nil {
			return nil, 0, fmt.Errorf("problem %d record id: %w", p.ID, err)
		}
		p.CreatedAt = time.Unix(0, created).UTC()
		items = append(items, &p)
	}
	return items, total, rows.Err()
}
