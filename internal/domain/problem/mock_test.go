package problem

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ayusync/ayusync/internal/domain/terminology"
)

type mockRepo struct {
	rows   []*Problem
	err    error
	nextID int64
}

func (r *mockRepo) Append(_ context.Context, rows []*Problem) error {
	if r.err != nil {
		return r.err
	}
	for _, p := range rows {
		r.nextID++
		p.ID = r.nextID
		r.rows = append(r.rows, p)
	}
	return nil
}

func (r *mockRepo) List(_ context.Context, limit, offset int) ([]*Problem, int, error) {
	if r.err != nil {
		return nil, 0, r.err
	}
	sorted := append([]*Problem(nil), r.rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	if offset > len(sorted) {
		offset = len(sorted)
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], len(sorted), nil
}

type mockConcepts map[string]*terminology.NamasteConcept

func (m mockConcepts) GetByCode(_ context.Context, code string) (*terminology.NamasteConcept, error) {
	c, ok := m[code]
	if !ok {
		return nil, &terminology.NotFoundError{System: terminology.SystemNamaste, Code: code}
	}
	return c, nil
}

type mockTerms struct {
	entries map[string]*terminology.TermEntry
	err     error
}

func (m *mockTerms) GetTerm(_ context.Context, code string) (*terminology.TermEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.entries[code]
	if !ok {
		return nil, &terminology.NotFoundError{System: terminology.SystemICD11, Code: code}
	}
	return e, nil
}

func fixtures() (mockConcepts, *mockTerms) {
	concepts := mockConcepts{
		"NAM-001": {Code: "NAM-001", Display: "Vata Dosha Imbalance", Category: "Dosha", System: terminology.SystemNamaste},
	}
	terms := &mockTerms{entries: map[string]*terminology.TermEntry{
		"TM2.A01.1Z": {Code: "TM2.A01.1Z", Display: "Traditional Medicine - Vata Disorder", Module: terminology.ModuleTM2},
		"K59.1":      {Code: "K59.1", Display: "Functional diarrhea", Module: terminology.ModuleBiomedical},
	}}
	return concepts, terms
}

func uuidFor(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}
