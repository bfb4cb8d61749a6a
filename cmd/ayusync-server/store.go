package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayusync/ayusync/internal/config"
	"github.com/ayusync/ayusync/internal/domain/problem"
	"github.com/ayusync/ayusync/internal/domain/terminology"
	"github.com/ayusync/ayusync/internal/platform/db"
	"github.com/ayusync/ayusync/internal/platform/sqlite"
)

// store bundles the repositories of one backing database.
type store struct {
	driver    string
	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	terms     terminology.TermRepository
	crosswalk terminology.CrosswalkRepository
	namaste   terminology.NamasteRepository
	problems  problem.Repository
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.DatabaseDriver() {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return newPGStore(pool), nil
	case "sqlite":
		sqlDB, err := sqlite.Open(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		return newSQLiteStore(sqlDB), nil
	}
	return nil, fmt.Errorf("unsupported DATABASE_URL %q", cfg.DatabaseURL)
}

func newPGStore(pool *pgxpool.Pool) *store {
	return &store{
		driver:    "postgres",
		pool:      pool,
		terms:     terminology.NewTermRepoPG(pool),
		crosswalk: terminology.NewCrosswalkRepoPG(pool),
		namaste:   terminology.NewNamasteRepoPG(pool),
		problems:  problem.NewRepoPG(pool),
	}
}

func newSQLiteStore(sqlDB *sql.DB) *store {
	return &store{
		driver:    "sqlite",
		sqlDB:     sqlDB,
		terms:     terminology.NewTermRepoSQLite(sqlDB),
		crosswalk: terminology.NewCrosswalkRepoSQLite(sqlDB),
		namaste:   terminology.NewNamasteRepoSQLite(sqlDB),
		problems:  problem.NewRepoSQLite(sqlDB),
	}
}

// migrate applies pending migrations. The SQLite path reports 0 or 1
// depending on whether the schema version moved.
func (s *store) migrate(ctx context.Context, schema string) (int, error) {
	if s.pool != nil {
		return db.NewEmbeddedMigrator(s.pool).Up(ctx, schema)
	}
	before, _, err := sqlite.Version(s.sqlDB)
	if err != nil {
		return 0, err
	}
	if err := sqlite.MigrateUp(s.sqlDB); err != nil {
		return 0, err
	}
	after, _, err := sqlite.Version(s.sqlDB)
	if err != nil {
		return 0, err
	}
	if after != before {
		return 1, nil
	}
	return 0, nil
}

// seedIfEmpty applies the catalog when no NAMASTE concepts exist yet.
func (s *store) seedIfEmpty(ctx context.Context, path string) (terminology.ApplyResult, bool, error) {
	existing, err := s.namaste.Search(ctx, "", 1)
	if err != nil {
		return terminology.ApplyResult{}, false, err
	}
	if len(existing) > 0 {
		return terminology.ApplyResult{}, false, nil
	}
	cat, err := terminology.LoadCatalog(path)
	if err != nil {
		return terminology.ApplyResult{}, false, err
	}
	res, err := cat.Apply(ctx, s.namaste, s.crosswalk)
	return res, err == nil, err
}

func (s *store) pinger() db.Pinger {
	if s.pool != nil {
		return s.pool
	}
	return db.SQLPinger{DB: s.sqlDB}
}

func (s *store) stats() interface{} {
	if s.pool != nil {
		return db.GetPoolStats(s.pool)
	}
	return s.sqlDB.Stats()
}

func (s *store) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		s.sqlDB.Close()
	}
}
