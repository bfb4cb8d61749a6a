package terminology

import (
	"context"
	"errors"
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

func pgConn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// =========== ICD-11 Cache Repository ===========

type termRepoPG struct{ pool *pgxpool.Pool }

func NewTermRepoPG(pool *pgxpool.Pool) TermRepository { return &termRepoPG{pool: pool} }

func (r *termRepoPG) conn(ctx context.Context) queryable { return pgConn(ctx, r.pool) }

const termColumnsPG = `code, display, module, raw_json, last_synced`

func (r *termRepoPG) UpsertTerm(ctx context.Context, e *TermEntry) error {
	synced := syncTime(e)
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO icd_cache (`+termColumnsPG+`)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (code) DO UPDATE SET
		   display = EXCLUDED.display,
		   module = EXCLUDED.module,
		   raw_json = EXCLUDED.raw_json,
		   last_synced = EXCLUDED.last_synced
		 WHERE icd_cache.last_synced <= EXCLUDED.last_synced`,
		e.Code, e.Display, e.Module, jsonParam(e.RawPayload), synced)
	if err != nil {
		return fmt.Errorf("upsert icd term %s: %w", e.Code, err)
	}
	return nil
}

func (r *termRepoPG) GetTerm(ctx context.Context, code string) (*TermEntry, error) {
	e, err := scanTermPG(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termColumnsPG+` FROM icd_cache WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{System: SystemICD11, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("get icd term: %w", err)
	}
	return e, nil
}

func (r *termRepoPG) SearchTerms(ctx context.Context, query string, limit int) ([]*TermEntry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+termColumnsPG+` FROM icd_cache
		 WHERE code ILIKE $1 ESCAPE '\' OR display ILIKE $1 ESCAPE '\'
		 ORDER BY code LIMIT $2`, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search icd cache: %w", err)
	}
	return collectTermsPG(rows)
}

func (r *termRepoPG) ListRecent(ctx context.Context, limit, offset int) ([]*TermEntry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+termColumnsPG+` FROM icd_cache
		 ORDER BY last_synced DESC, code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list icd cache: %w", err)
	}
	return collectTermsPG(rows)
}

func (r *termRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM icd_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count icd cache: %w", err)
	}
	return n, nil
}

func scanTermPG(row pgx.Row) (*TermEntry, error) {
	var e TermEntry
	var raw []byte
	if err := row.Scan(&e.Code, &e.Display, &e.Module, &raw, &e.LastSynced); err != nil {
		return nil, err
	}
	e.RawPayload = raw
	return &e, nil
}

func collectTermsPG(rows pgx.Rows) ([]*TermEntry, error) {
	defer rows.Close()
	var results []*TermEntry
	for rows.Next() {
		e, err := scanTermPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan icd term: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// =========== Crosswalk Repository ===========

type crosswalkRepoPG struct{ pool *pgxpool.Pool }

func NewCrosswalkRepoPG(pool *pgxpool.Pool) CrosswalkRepository {
	return &crosswalkRepoPG{pool: pool}
}

func (r *crosswalkRepoPG) conn(ctx context.Context) queryable { return pgConn(ctx, r.pool) }

func (r *crosswalkRepoPG) ListByNamasteCode(ctx context.Context, namasteCode string) ([]*CrosswalkEdge, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT namaste_code, icd_code, icd_display, module, confidence, mapping_type
		 FROM concept_map WHERE namaste_code = $1
		 ORDER BY confidence DESC, icd_code`, namasteCode)
	if err != nil {
		return nil, fmt.Errorf("list crosswalk %s: %w", namasteCode, err)
	}
	defer rows.Close()

	results := []*CrosswalkEdge{}
	for rows.Next() {
		var e CrosswalkEdge
		if err := rows.Scan(&e.NamasteCode, &e.ICDCode, &e.ICDDisplay, &e.Module, &e.Confidence, &e.MappingType); err != nil {
			return nil, fmt.Errorf("scan crosswalk edge: %w", err)
		}
		results = append(results, &e)
	}
	return results, rows.Err()
}

func (r *crosswalkRepoPG) UpsertEdge(ctx context.Context, e *CrosswalkEdge) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO concept_map (namaste_code, icd_code, icd_display, module, confidence, mapping_type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namaste_code, icd_code) DO UPDATE SET
		   icd_display = EXCLUDED.icd_display,
		   module = EXCLUDED.module,
		   confidence = EXCLUDED.confidence,
		   mapping_type = EXCLUDED.mapping_type`,
		e.NamasteCode, e.ICDCode, e.ICDDisplay, e.Module, e.Confidence, string(e.MappingType))
	if err != nil {
		return fmt.Errorf("upsert crosswalk %s -> %s: %w", e.NamasteCode, e.ICDCode, err)
	}
	return nil
}

func (r *crosswalkRepoPG) List(ctx context.Context, limit, offset int) ([]*CrosswalkRow, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM concept_map`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count crosswalk: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT cm.namaste_code, cm.icd_code, cm.icd_display, cm.module, cm.confidence, cm.mapping_type,
		        COALESCE(n.display, '')
		 FROM concept_map cm
		 LEFT JOIN namaste n ON n.code = cm.namaste_code
		 ORDER BY cm.confidence DESC, cm.namaste_code, cm.icd_code
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list crosswalk: %w", err)
	}
	defer rows.Close()

	var results []*CrosswalkRow
	for rows.Next() {
		var row CrosswalkRow
		if err := rows.Scan(&row.NamasteCode, &row.ICDCode, &row.ICDDisplay, &row.Module,
			&row.Confidence, &row.MappingType, &row.NamasteDisplay); err != nil {
			return nil, 0, fmt.Errorf("scan crosswalk row: %w", err)
		}
		results = append(results, &row)
	}
	return results, total, rows.Err()
}

// =========== NAMASTE Repository ===========

type namasteRepoPG struct{ pool *pgxpool.Pool }

func NewNamasteRepoPG(pool *pgxpool.Pool) NamasteRepository { return &namasteRepoPG{pool: pool} }

func (r *namasteRepoPG) conn(ctx context.Context) queryable { return pgConn(ctx, r.pool) }

func (r *namasteRepoPG) GetByCode(ctx context.Context, code string) (*NamasteConcept, error) {
	var c NamasteConcept
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT code, display, category, system FROM namaste WHERE code = $1`, code).
		Scan(&c.Code, &c.Display, &c.Category, &c.System)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{System: SystemNamaste, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("get namaste concept: %w", err)
	}
	return &c, nil
}

func (r *namasteRepoPG) Search(ctx context.Context, query string, limit int) ([]*NamasteConcept, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var (
		rows pgx.Rows
		err  error
	)
	if query == "" {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT code, display, category, system FROM namaste ORDER BY code LIMIT $1`, limit)
	} else {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT code, display, category, system FROM namaste
			 WHERE code ILIKE $1 ESCAPE '\' OR display ILIKE $1 ESCAPE '\'
			 ORDER BY code LIMIT $2`, likePattern(query), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search namaste: %w", err)
	}
	defer rows.Close()

	var results []*NamasteConcept
	for rows.Next() {
		var c NamasteConcept
		if err := rows.Scan(&c.Code, &c.Display, &c.Category, &c.System); err != nil {
			return nil, fmt.Errorf("scan namaste concept: %w", err)
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *namasteRepoPG) Upsert(ctx context.Context, c *NamasteConcept) error {
	if c.System == "" {
		c.System = SystemNamaste
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO namaste (code, display, category, system) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (code) DO UPDATE SET
		   display = EXCLUDED.display, category = EXCLUDED.category, system = EXCLUDED.system`,
		c.Code, c.Display, c.Category, c.System)
	if err != nil {
		return fmt.Errorf("upsert namaste %s: %w", c.Code, err)
	}
	return nil
}
