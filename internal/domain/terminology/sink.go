package terminology

import (
	"context"
	"time"

	"github.com/ayusync/ayusync/internal/platform/icd11"
)

// TermSink writes ICD-11 search hits into the term cache.
type TermSink struct {
	repo TermRepository
	now  func() time.Time
}

func NewTermSink(repo TermRepository) *TermSink {
	return &TermSink{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *TermSink) Store(ctx context.Context, e icd11.Entity) error {
	return s.repo.UpsertTerm(ctx, &TermEntry{
		Code:       e.Code,
		Display:    e.Title,
		Module:     e.Module,
		RawPayload: e.Raw,
		LastSynced: s.now(),
	})
}

var _ icd11.Sink = (*TermSink)(nil)
