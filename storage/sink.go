package storage

import (
	"context"
	"errors"
	"fmt"

	"carbitrage/models"
)

// ResultSink is the append-only destination for study outcomes.
type ResultSink interface {
	AppendResult(ctx context.Context, r *models.StudyRunResult) error
}

// RunStore records batch runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.StudyRun) error
	UpdateRun(ctx context.Context, run *models.StudyRun) error
}

// MultiSink writes each result to every sink. All sinks are attempted even
// when one fails; the errors are joined.
type MultiSink []ResultSink

func (m MultiSink) AppendResult(ctx context.Context, r *models.StudyRunResult) error {
	var errs []error
	for i, sink := range m {
		if err := sink.AppendResult(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// MultiRunStore mirrors run bookkeeping into several stores.
type MultiRunStore []RunStore

func (m MultiRunStore) CreateRun(ctx context.Context, run *models.StudyRun) error {
	var errs []error
	for _, s := range m {
		if err := s.CreateRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRunStore) UpdateRun(ctx context.Context, run *models.StudyRun) error {
	var errs []error
	for _, s := range m {
		if err := s.UpdateRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
