package problem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusync/ayusync/internal/domain/terminology"
	"github.com/ayusync/ayusync/internal/platform/fhir"
)

// ConceptLookup resolves NAMASTE reference data.
type ConceptLookup interface {
	GetByCode(ctx context.Context, code string) (*terminology.NamasteConcept, error)
}

// TermLookup reads the ICD-11 cache.
type TermLookup interface {
	GetTerm(ctx context.Context, code string) (*terminology.TermEntry, error)
}

type Service struct {
	repo    Repository
	namaste ConceptLookup
	terms   TermLookup
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewService(repo Repository, namaste ConceptLookup, terms TermLookup) *Service {
	return &Service{
		repo:    repo,
		namaste: namaste,
		terms:   terms,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.New,
	}
}

// Assemble builds a dual-coded record without storing it. Each ICD-11
// display comes from the cache, or is the code itself on a cache miss. An
// unknown NAMASTE code is a terminology.NotFoundError.
func (s *Service) Assemble(ctx context.Context, namasteCode string, icdCodes []string) (*DualCodeRecord, error) {
	code := strings.TrimSpace(namasteCode)
	if code == "" {
		return nil, fmt.Errorf("namasteCode is required: %w", terminology.ErrInvalidInput)
	}
	concept, err := s.namaste.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	rec := &DualCodeRecord{Namaste: namasteCoding(concept), ICD: make([]fhir.Coding, 0, len(icdCodes))}
	for i, raw := range icdCodes {
		icd := strings.TrimSpace(raw)
		if icd == "" {
			return nil, fmt.Errorf("icdCodes[%d] is blank: %w", i, terminology.ErrInvalidInput)
		}
		display, err := s.icdDisplay(ctx, icd)
		if err != nil {
			return nil, err
		}
		rec.ICD = append(rec.ICD, icdCoding(icd, display))
	}
	return rec, nil
}

func (s *Service) icdDisplay(ctx context.Context, code string) (string, error) {
	entry, err := s.terms.GetTerm(ctx, code)
	if terminology.IsNotFound(err) {
		return code, nil
	}
	if err != nil {
		return "", fmt.Errorf("icd display %s: %w", code, err)
	}
	if entry.Display == "" {
		return code, nil
	}
	return entry.Display, nil
}

// Record assembles a dual-coded record for a patient and appends one row per
// ICD-11 code under a shared record id.
func (s *Service) Record(ctx context.Context, patientID, namasteCode string, icdCodes []string) (*DualCodeRecord, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("patientId is required: %w", terminology.ErrInvalidInput)
	}
	if len(icdCodes) == 0 {
		return nil, fmt.Errorf("icdCodes must not be empty: %w", terminology.ErrInvalidInput)
	}

	rec, err := s.Assemble(ctx, namasteCode, icdCodes)
	if err != nil {
		return nil, err
	}
	rec.RecordID = s.newID()
	rec.PatientID = patientID
	rec.RecordedAt = s.now()

	if err := s.repo.Append(ctx, rec.rows()); err != nil {
		return nil, fmt.Errorf("save problem: %w", err)
	}
	return rec, nil
}

// List returns stored problem rows, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Problem, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Problem{}
	}
	return items, total, nil
}
