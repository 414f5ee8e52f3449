package storage

import (
	"context"
	"errors"
	"testing"

	"carbitrage/models"
)

type recordingSink struct {
	results []*models.StudyRunResult
	err     error
}

func (s *recordingSink) AppendResult(ctx context.Context, r *models.StudyRunResult) error {
	s.results = append(s.results, r)
	return s.err
}

func TestMultiSinkWritesToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	sink := MultiSink{a, b}

	r := &models.StudyRunResult{StudyID: "golf", Status: models.ResultStatusNull}
	if err := sink.AppendResult(context.Background(), r); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if len(a.results) != 1 || len(b.results) != 1 {
		t.Fatalf("expected one write per sink, got %d and %d", len(a.results), len(b.results))
	}
}

func TestMultiSinkContinuesAfterError(t *testing.T) {
	boom := errors.New("disk full")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	sink := MultiSink{a, b}

	err := sink.AppendResult(context.Background(), &models.StudyRunResult{StudyID: "golf"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
	if len(b.results) != 1 {
		t.Fatalf("second sink should still be written, got %d rows", len(b.results))
	}
}
