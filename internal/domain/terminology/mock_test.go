package terminology

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ayusync/ayusync/internal/platform/icd11"
)

// =========== Mock Repositories ===========

type mockTermRepo struct {
	mu      sync.Mutex
	entries map[string]*TermEntry
	err     error
	calls   []string
}

func newMockTermRepo(entries ...*TermEntry) *mockTermRepo {
	r := &mockTermRepo{entries: make(map[string]*TermEntry)}
	for _, e := range entries {
		r.entries[e.Code] = e
	}
	return r
}

func (r *mockTermRepo) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *mockTermRepo) UpsertTerm(_ context.Context, e *TermEntry) error {
	r.record("upsert")
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[e.Code]; ok && cur.LastSynced.After(e.LastSynced) {
		return nil
	}
	c := *e
	r.entries[e.Code] = &c
	return nil
}

func (r *mockTermRepo) GetTerm(_ context.Context, code string) (*TermEntry, error) {
	r.record("get")
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return nil, &NotFoundError{System: SystemICD11, Code: code}
	}
	return e, nil
}

func (r *mockTermRepo) SearchTerms(_ context.Context, query string, limit int) ([]*TermEntry, error) {
	r.record("search")
	if r.err != nil {
		return nil, r.err
	}
	q := strings.ToLower(query)
	var out []*TermEntry
	for _, e := range r.sorted() {
		if strings.Contains(strings.ToLower(e.Code), q) || strings.Contains(strings.ToLower(e.Display), q) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockTermRepo) ListRecent(_ context.Context, limit, offset int) ([]*TermEntry, error) {
	r.record("recent")
	if r.err != nil {
		return nil, r.err
	}
	out := r.sorted()
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSynced.After(out[j].LastSynced) })
	if offset >= len(out) {
		return []*TermEntry{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockTermRepo) Count(context.Context) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries), nil
}

func (r *mockTermRepo) sorted() []*TermEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TermEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

type mockCrosswalkRepo struct {
	edges []*CrosswalkEdge
	err   error
	reads int
}

func (r *mockCrosswalkRepo) ListByNamasteCode(_ context.Context, code string) ([]*CrosswalkEdge, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	var out []*CrosswalkEdge
	for _, e := range r.edges {
		if e.NamasteCode == code {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ICDCode < out[j].ICDCode
	})
	return out, nil
}

func (r *mockCrosswalkRepo) UpsertEdge(_ context.Context, e *CrosswalkEdge) error {
	if r.err != nil {
		return r.err
	}
	for i, cur := range r.edges {
		if cur.NamasteCode == e.NamasteCode && cur.ICDCode == e.ICDCode {
			r.edges[i] = e
			return nil
		}
	}
	r.edges = append(r.edges, e)
	return nil
}

func (r *mockCrosswalkRepo) List(_ context.Context, limit, offset int) ([]*CrosswalkRow, int, error) {
	if r.err != nil {
		return nil, 0, r.err
	}
	var rows []*CrosswalkRow
	for i, e := range r.edges {
		if i < offset || len(rows) >= limit {
			continue
		}
		rows = append(rows, &CrosswalkRow{CrosswalkEdge: *e})
	}
	return rows, len(r.edges), nil
}

type mockNamasteRepo struct {
	concepts map[string]*NamasteConcept
	err      error
}

func newMockNamasteRepo(concepts ...*NamasteConcept) *mockNamasteRepo {
	r := &mockNamasteRepo{concepts: make(map[string]*NamasteConcept)}
	for _, c := range concepts {
		r.concepts[c.Code] = c
	}
	return r
}

func (r *mockNamasteRepo) GetByCode(_ context.Context, code string) (*NamasteConcept, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.concepts[code]
	if !ok {
		return nil, &NotFoundError{System: SystemNamaste, Code: code}
	}
	return c, nil
}

func (r *mockNamasteRepo) Search(_ context.Context, query string, limit int) ([]*NamasteConcept, error) {
	if r.err != nil {
		return nil, r.err
	}
	q := strings.ToLower(query)
	var out []*NamasteConcept
	for _, c := range r.concepts {
		if q == "" || strings.Contains(strings.ToLower(c.Code), q) || strings.Contains(strings.ToLower(c.Display), q) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockNamasteRepo) Upsert(_ context.Context, c *NamasteConcept) error {
	if r.err != nil {
		return r.err
	}
	r.concepts[c.Code] = c
	return nil
}

// =========== Mock Remote ===========

type mockRemote struct {
	outcome icd11.Outcome
	queries []string
	limits  []int
}

func (m *mockRemote) Search(_ context.Context, query string, limit int) icd11.Outcome {
	m.queries = append(m.queries, query)
	m.limits = append(m.limits, limit)
	return m.outcome
}

// =========== Fixtures ===========

func seedConcepts() []*NamasteConcept {
	return []*NamasteConcept{
		{Code: "NAM-001", Display: "Vata Dosha Imbalance", Category: "Dosha", System: SystemNamaste},
		{Code: "NAM-004", Display: "Madhumeha (Diabetes)", Category: "Metabolic", System: SystemNamaste},
		{Code: "NAM-011", Display: "Unmapped Concept", Category: "Test", System: SystemNamaste},
	}
}

func seedEdges() []*CrosswalkEdge {
	return []*CrosswalkEdge{
		{NamasteCode: "NAM-004", ICDCode: "5A11", ICDDisplay: "Type 2 diabetes mellitus", Module: ModuleBiomedical, Confidence: 90, MappingType: MappingAutomatic},
		{NamasteCode: "NAM-004", ICDCode: "5A10", ICDDisplay: "Type 1 diabetes mellitus", Module: ModuleBiomedical, Confidence: 95, MappingType: MappingAutomatic},
		{NamasteCode: "NAM-001", ICDCode: "TM2.A01.1Z", ICDDisplay: "Traditional Medicine - Vata Disorder", Module: ModuleTM2, Confidence: 95, MappingType: MappingAutomatic},
		{NamasteCode: "NAM-001", ICDCode: "K59.1", ICDDisplay: "Functional diarrhea", Module: ModuleBiomedical, Confidence: 85, MappingType: MappingAutomatic},
	}
}
