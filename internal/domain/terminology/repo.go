package terminology

import (
	"context"
	"strings"
	"time"
)

// TermRepository is the ICD-11 cache.
type TermRepository interface {
	// UpsertTerm inserts or overwrites by code. A row with a newer
	// LastSynced is never replaced by an older one. A zero LastSynced is
	// stored as the current time; e itself is not modified. TermSink stamps
	// every remote hit with the time it was fetched.
	UpsertTerm(ctx context.Context, e *TermEntry) error
	GetTerm(ctx context.Context, code string) (*TermEntry, error)
	// SearchTerms is a case-insensitive substring match over code and display.
	SearchTerms(ctx context.Context, query string, limit int) ([]*TermEntry, error)
	// ListRecent returns the most recently synced entries first.
	ListRecent(ctx context.Context, limit, offset int) ([]*TermEntry, error)
	Count(ctx context.Context) (int, error)
}

// CrosswalkRepository holds the curated NAMASTE to ICD-11 table.
type CrosswalkRepository interface {
	// ListByNamasteCode returns edges ordered by confidence descending, then
	// ICD code.
	ListByNamasteCode(ctx context.Context, namasteCode string) ([]*CrosswalkEdge, error)
	UpsertEdge(ctx context.Context, e *CrosswalkEdge) error
	List(ctx context.Context, limit, offset int) ([]*CrosswalkRow, int, error)
}

// NamasteRepository holds NAMASTE reference data.
type NamasteRepository interface {
	GetByCode(ctx context.Context, code string) (*NamasteConcept, error)
	// Search matches code and display. An empty query lists concepts by code.
	Search(ctx context.Context, query string, limit int) ([]*NamasteConcept, error)
	Upsert(ctx context.Context, c *NamasteConcept) error
}

const defaultSearchLimit = 20

func syncTime(e *TermEntry) time.Time {
	if e.LastSynced.IsZero() {
		return time.Now().UTC()
	}
	return e.LastSynced
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps q for a LIKE ... ESCAPE '\' substring match.
func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
