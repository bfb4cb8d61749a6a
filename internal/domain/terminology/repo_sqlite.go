package terminology

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite stores timestamps as Unix nanoseconds so last_synced compares
// numerically in the upsert guard. Searches use the fold function registered
// by platform/sqlite so matching is case-insensitive beyond ASCII.

// =========== ICD-11 Cache Repository ===========

type termRepoSQLite struct{ db *sql.DB }

func NewTermRepoSQLite(db *sql.DB) TermRepository { return &termRepoSQLite{db: db} }

const termColumnsSQLite = `code, display, module, raw_json, last_synced`

func (r *termRepoSQLite) UpsertTerm(ctx context.Context, e *TermEntry) error {
	synced := syncTime(e)
	var raw interface{}
	if len(e.RawPayload) > 0 {
		raw = string(e.RawPayload)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO icd_cache (`+termColumnsSQLite+`)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   display = excluded.display,
		   module = excluded.module,
		   raw_json = excluded.raw_json,
		   last_synced = excluded.last_synced
		 WHERE icd_cache.last_synced <= excluded.last_synced`,
		e.Code, e.Display, e.Module, raw, synced.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert icd term %s: %w", e.Code, err)
	}
	return nil
}

func (r *termRepoSQLite) GetTerm(ctx context.Context, code string) (*TermEntry, error) {
	e, err := scanTermSQLite(r.db.QueryRowContext(ctx,
		`SELECT `+termColumnsSQLite+` FROM icd_cache WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{System: SystemICD11, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("get icd term: %w", err)
	}
	return e, nil
}

func (r *termRepoSQLite) SearchTerms(ctx context.Context, query string, limit int) ([]*TermEntry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	pattern := likePattern(query)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+termColumnsSQLite+` FROM icd_cache
		 WHERE fold(code) LIKE fold(?) ESCAPE '\' OR fold(display) LIKE fold(?) ESCAPE '\'
		 ORDER BY code LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search icd cache: %w", err)
	}
	return collectTermsSQLite(rows)
}

func (r *termRepoSQLite) ListRecent(ctx context.Context, limit, offset int) ([]*TermEntry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+termColumnsSQLite+` FROM icd_cache
		 ORDER BY last_synced DESC, code LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list icd cache: %w", err)
	}
	return collectTermsSQLite(rows)
}

func (r *termRepoSQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM icd_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count icd cache: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTermSQLite(row rowScanner) (*TermEntry, error) {
	var e TermEntry
	var raw sql.NullString
	var synced int64
	if err := row.Scan(&e.Code, &e.Display, &e.Module, &raw, &synced); err != nil {
		return nil, err
	}
	if raw.Valid && raw.String != "" {
		e.RawPayload = []byte(raw.String)
	}
	e.LastSynced = time.Unix(0, synced).UTC()
	return &e, nil
}

func collectTermsSQLite(rows *sql.Rows) ([]*TermEntry, error) {
	defer rows.Close()
	var results []*TermEntry
	for rows.Next() {
		e, err := scanTermSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan icd term: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// =========== Crosswalk Repository ===========

type crosswalkRepoSQLite struct{ db *sql.DB }

func NewCrosswalkRepoSQLite(db *sql.DB) CrosswalkRepository { return &crosswalkRepoSQLite{db: db} }

func (r *crosswalkRepoSQLite) ListByNamasteCode(ctx context.Context, namasteCode string) ([]*CrosswalkEdge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT namaste_code, icd_code, icd_display, module, confidence, mapping_type
		 FROM concept_map WHERE namaste_code = ?
		 ORDER BY confidence DESC, icd_code`, namasteCode)
	if err != nil {
		return nil, fmt.Errorf("list crosswalk %s: %w", namasteCode, err)
	}
	defer rows.Close()

	results := []*CrosswalkEdge{}
	for rows.Next() {
		var e CrosswalkEdge
		var mt string
		if err := rows.Scan(&e.NamasteCode, &e.ICDCode, &e.ICDDisplay, &e.Module, &e.Confidence, &mt); err != nil {
			return nil, fmt.Errorf("scan crosswalk edge: %w", err)
		}
		e.MappingType = MappingType(mt)
		results = append(results, &e)
	}
	return results, rows.Err()
}

func (r *crosswalkRepoSQLite) UpsertEdge(ctx context.Context, e *CrosswalkEdge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO concept_map (namaste_code, icd_code, icd_display, module, confidence, mapping_type)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namaste_code, icd_code) DO UPDATE SET
		   icd_display = excluded.icd_display,
		   module = excluded.module,
		   confidence = excluded.confidence,
		   mapping_type = excluded.mapping_type`,
		e.NamasteCode, e.ICDCode, e.ICDDisplay, e.Module, e.Confidence, string(e.MappingType))
	if err != nil {
		return fmt.Errorf("upsert crosswalk %s -> %s: %w", e.NamasteCode, e.ICDCode, err)
	}
	return nil
}

func (r *crosswalkRepoSQLite) List(ctx context.Context, limit, offset int) ([]*CrosswalkRow, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concept_map`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count crosswalk: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT cm.namaste_code, cm.icd_code, cm.icd_display, cm.module, cm.confidence, cm.mapping_type,
		        COALESCE(n.display, '')
		 FROM concept_map cm
		 LEFT JOIN namaste n ON n.code = cm.namaste_code
		 ORDER BY cm.confidence DESC, cm.namaste_code, cm.icd_code
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list crosswalk: %w", err)
	}
	defer rows.Close()

	var results []*CrosswalkRow
	for rows.Next() {
		var row CrosswalkRow
		var mt string
		if err := rows.Scan(&row.NamasteCode, &row.ICDCode, &row.ICDDisplay, &row.Module,
			&row.Confidence, &mt, &row.NamasteDisplay); err != nil {
			return nil, 0, fmt.Errorf("scan crosswalk row: %w", err)
		}
		row.MappingType = MappingType(mt)
		results = append(results, &row)
	}
	return results, total, rows.Err()
}

// =========== NAMASTE Repository ===========

type namasteRepoSQLite struct{ db *sql.DB }

func NewNamasteRepoSQLite(db *sql.DB) NamasteRepository { return &namasteRepoSQLite{db: db} }

func (r *namasteRepoSQLite) GetByCode(ctx context.Context, code string) (*NamasteConcept, error) {
	var c NamasteConcept
	err := r.db.QueryRowContext(ctx,
		`SELECT code, display, category, system FROM namaste WHERE code = ?`, code).
		Scan(&c.Code, &c.Display, &c.Category, &c.System)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{System: SystemNamaste, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("get namaste concept: %w", err)
	}
	return &c, nil
}

func (r *namasteRepoSQLite) Search(ctx context.Context, query string, limit int) ([]*NamasteConcept, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if query == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT code, display, category, system FROM namaste ORDER BY code LIMIT ?`, limit)
	} else {
		pattern := likePattern(query)
		rows, err = r.db.QueryContext(ctx,
			`SELECT code, display, category, system FROM namaste
			 WHERE fold(code) LIKE fold(?) ESCAPE '\' OR fold(display) LIKE fold(?) ESCAPE '\'
			 ORDER BY code LIMIT ?`, pattern, pattern, limit)
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

func (r *namasteRepoSQLite) Upsert(ctx context.Context, c *NamasteConcept) error {
	if c.System == "" {
		c.System = SystemNamaste
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO namaste (code, display, category, system) VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   display = excluded.display, category = excluded.category, system = excluded.system`,
		c.Code, c.Display, c.Category, c.System)
	if err != nil {
		return fmt.Errorf("upsert namaste %s: %w", c.Code, err)
	}
	return nil
}
