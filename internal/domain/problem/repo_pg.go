package problem

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayusync/ayusync/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type problemRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &problemRepoPG{pool: pool} }

func (r *problemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *problemRepoPG) Append(ctx context.Context, rows []*Problem) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		for _, p := range rows {
			err := r.conn(ctx).QueryRow(ctx, `
				INSERT INTO problems (record_id, patient_id, namaste_code, icd_code, icd_display, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				p.RecordID, p.PatientID, p.NamasteCode, p.ICDCode, p.ICDDisplay, p.CreatedAt).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("insert problem %s/%s: %w", p.NamasteCode, p.ICDCode, err)
			}
		}
		return nil
	})
}

func (r *problemRepoPG) List(ctx context.Context, limit, offset int) ([]*Problem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM problems`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count problems: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.record_id, p.patient_id, p.namaste_code, COALESCE(n.display, ''),
		       p.icd_code, p.icd_display, p.created_at
		FROM problems p
		LEFT JOIN namaste n ON n.code = p.namaste_code
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	var items []*Problem
	for rows.Next() {
		var p Problem
		if err := rows.Scan(&p.ID, &p.RecordID, &p.PatientID, &p.NamasteCode, &p.NamasteDisplay,
			&p.ICDCode, &p.ICDDisplay, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan problem: %w", err)
		}
		items = append(items, &p)
	}
	return items, total, rows.Err()
}
