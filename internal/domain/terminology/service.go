package terminology

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusync/ayusync/internal/platform/icd11"
)

// RemoteSearcher is the remote ICD-11 search with write-through caching.
// *icd11.Client implements it.
type RemoteSearcher interface {
	Search(ctx context.Context, query string, limit int) icd11.Outcome
}

// Counter is a labeled counter such as *telemetry.CounterVec.
type Counter interface {
	Inc(labelValues ...string)
}

// Limits bounds the result sizes of each lookup path.
type Limits struct {
	Remote  int
	Local   int
	Sample  int
	Namaste int
}

// DefaultLimits are the result caps used when a Limits field is zero.
var DefaultLimits = Limits{Remote: 10, Local: 20, Sample: 10, Namaste: 50}

func (l Limits) withDefaults() Limits {
	if l.Remote <= 0 {
		l.Remote = DefaultLimits.Remote
	}
	if l.Local <= 0 {
		l.Local = DefaultLimits.Local
	}
	if l.Sample <= 0 {
		l.Sample = DefaultLimits.Sample
	}
	if l.Namaste <= 0 {
		l.Namaste = DefaultLimits.Namaste
	}
	return l
}

// Service resolves ICD-11 queries and NAMASTE crosswalks.
type Service struct {
	terms     TermRepository
	crosswalk CrosswalkRepository
	namaste   NamasteRepository
	remote    RemoteSearcher
	limits    Limits
	logger    zerolog.Logger
	now       func() time.Time
	searches  Counter
}

// NewService creates a terminology service. remote may be nil, which is the
// same as running without WHO credentials.
func NewService(terms TermRepository, crosswalk CrosswalkRepository, namaste NamasteRepository, remote RemoteSearcher, limits Limits, logger zerolog.Logger) *Service {
	return &Service{
		terms:     terms,
		crosswalk: crosswalk,
		namaste:   namaste,
		remote:    remote,
		limits:    limits.withDefaults(),
		logger:    logger.With().Str("component", "resolver").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetSearchCounter counts Resolve calls by source ("remote", "cache" or
// "recent") and remote status.
func (s *Service) SetSearchCounter(c Counter) { s.searches = c }

func (s *Service) countSearch(source, remoteStatus string) {
	if s.searches != nil {
		s.searches.Inc(source, remoteStatus)
	}
}

// Resolve searches ICD-11. A non-empty remote result is returned as is;
// every remote failure or an empty remote result falls back to the local
// cache. An empty query skips the remote and returns the most recently
// synced cache entries. Only storage faults are returned as errors.
func (s *Service) Resolve(ctx context.Context, query string) ([]*TermEntry, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		entries, err := s.terms.ListRecent(ctx, s.limits.Sample, 0)
		if err != nil {
			return nil, fmt.Errorf("list cached icd terms: %w", err)
		}
		s.countSearch("recent", "none")
		return nonNil(entries), nil
	}

	out := icd11.Outcome{Status: icd11.StatusDisabled}
	if s.remote != nil {
		out = s.remote.Search(ctx, q, s.limits.Remote)
	}

	if out.OK() && len(out.Entities) > 0 {
		s.countSearch("remote", out.Status.String())
		return s.fromEntities(out.Entities), nil
	}
	s.logFallback(q, out)

	entries, err := s.terms.SearchTerms(ctx, q, s.limits.Local)
	if err != nil {
		return nil, fmt.Errorf("search cached icd terms: %w", err)
	}
	s.countSearch("cache", out.Status.String())
	return nonNil(entries), nil
}

func (s *Service) fromEntities(entities []icd11.Entity) []*TermEntry {
	synced := s.now()
	entries := make([]*TermEntry, 0, len(entities))
	for _, e := range entities {
		entries = append(entries, &TermEntry{
			Code:       e.Code,
			Display:    e.Title,
			Module:     e.Module,
			RawPayload: e.Raw,
			LastSynced: synced,
		})
	}
	return entries
}

func (s *Service) logFallback(query string, out icd11.Outcome) {
	var ev *zerolog.Event
	switch out.Status {
	case icd11.StatusDisabled, icd11.StatusOK:
		ev = s.logger.Debug()
	case icd11.StatusProtocol:
		ev = s.logger.Error()
	default:
		ev = s.logger.Warn()
	}
	ev.Err(out.Err).
		Str("query", query).
		Stringer("remote_status", out.Status).
		Msg("serving icd search from local cache")
}

// Crosswalk returns the ICD-11 candidates for a NAMASTE code, strongest
// first. An unknown NAMASTE code is a NotFoundError; a known code without
// mappings yields an empty slice.
func (s *Service) Crosswalk(ctx context.Context, namasteCode string) ([]*CrosswalkEdge, error) {
	code := strings.TrimSpace(namasteCode)
	if code == "" {
		return nil, fmt.Errorf("namaste code is required: %w", ErrInvalidInput)
	}
	if _, err := s.namaste.GetByCode(ctx, code); err != nil {
		return nil, err
	}
	edges, err := s.crosswalk.ListByNamasteCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("crosswalk %s: %w", code, err)
	}
	if edges == nil {
		edges = []*CrosswalkEdge{}
	}
	return edges, nil
}

// SearchNamaste matches NAMASTE concepts by code or display. An empty query
// lists the first concepts by code.
func (s *Service) SearchNamaste(ctx context.Context, query string) ([]*NamasteConcept, error) {
	concepts, err := s.namaste.Search(ctx, strings.TrimSpace(query), s.limits.Namaste)
	if err != nil {
		return nil, fmt.Errorf("search namaste: %w", err)
	}
	if concepts == nil {
		concepts = []*NamasteConcept{}
	}
	return concepts, nil
}

// LookupTerm returns a single cached ICD-11 entry.
func (s *Service) LookupTerm(ctx context.Context, code string) (*TermEntry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("icd code is required: %w", ErrInvalidInput)
	}
	return s.terms.GetTerm(ctx, code)
}

// ListCache pages through the cache, most recently synced first, and
// returns the cache size.
func (s *Service) ListCache(ctx context.Context, limit, offset int) ([]*TermEntry, int, error) {
	entries, err := s.terms.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list icd cache: %w", err)
	}
	total, err := s.terms.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return nonNil(entries), total, nil
}

// ListCrosswalk pages through every crosswalk edge.
func (s *Service) ListCrosswalk(ctx context.Context, limit, offset int) ([]*CrosswalkRow, int, error) {
	rows, total, err := s.crosswalk.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if rows == nil {
		rows = []*CrosswalkRow{}
	}
	return rows, total, nil
}

func nonNil(entries []*TermEntry) []*TermEntry {
	if entries == nil {
		return []*TermEntry{}
	}
	return entries
}
