package services

import (
	"context"
	"fmt"
	"log"
	"sort"

	"carbitrage/models"
)

// StudySource supplies studies from an external store.
type StudySource interface {
	ListStudies(ctx context.Context) ([]*models.Study, error)
}

// StudyLookup is implemented by sources that can fetch a single study.
type StudyLookup interface {
	GetStudy(ctx context.Context, id string) (*models.Study, error)
}

// StudyService merges studies from config files with those from the
// database. A database row replaces a file entry with the same ID.
type StudyService struct {
	static           []*models.Study
	source           StudySource
	defaultThreshold float64
}

func NewStudyService(static []*models.Study, source StudySource, defaultThreshold float64) *StudyService {
	return &StudyService{
		static:           static,
		source:           source,
		defaultThreshold: defaultThreshold,
	}
}

// All returns every runnable study ordered by ID. Studies without both
// search URLs are skipped and logged.
func (s *StudyService) All(ctx context.Context) ([]*models.Study, error) {
	byID := make(map[string]*models.Study)
	for _, st := range s.static {
		byID[st.ID] = st
	}

	if s.source != nil {
		fromDB, err := s.source.ListStudies(ctx)
		if err != nil {
			return nil, fmt.Errorf("list studies: %w", err)
		}
		for _, st := range fromDB {
			byID[st.ID] = st
		}
	}

	studies := make([]*models.Study, 0, len(byID))
	for id, st := range byID {
		if err := Validate(st); err != nil {
			log.Printf("Skipping study %s: %v", id, err)
			continue
		}
		studies = append(studies, s.withDefaults(st))
	}
	sort.Slice(studies, func(i, j int) bool { return studies[i].ID < studies[j].ID })
	return studies, nil
}

// Get returns one runnable study, or nil when none has that ID. A source
// that supports lookups is asked directly instead of listing every study.
func (s *StudyService) Get(ctx context.Context, id string) (*models.Study, error) {
	if lookup, ok := s.source.(StudyLookup); ok {
		st, err := lookup.GetStudy(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get study %s: %w", id, err)
		}
		if st == nil {
			st = s.staticByID(id)
		}
		if st == nil {
			return nil, nil
		}
		if err := Validate(st); err != nil {
			log.Printf("Skipping study %s: %v", id, err)
			return nil, nil
		}
		return s.withDefaults(st), nil
	}

	studies, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range studies {
		if st.ID == id {
			return st, nil
		}
	}
	return nil, nil
}

func (s *StudyService) staticByID(id string) *models.Study {
	for _, st := range s.static {
		if st.ID == id {
			return st
		}
	}
	return nil
}

func Validate(st *models.Study) error {
	switch {
	case st.ID == "":
		return fmt.Errorf("missing id")
	case st.TargetURL == "":
		return fmt.Errorf("missing target_url")
	case st.SourceURL == "":
		return fmt.Errorf("missing source_url")
	case st.Mode != "" && st.Mode != models.ScanModeFast && st.Mode != models.ScanModeFull:
		return fmt.Errorf("unknown mode %q", st.Mode)
	}
	return nil
}

// withDefaults returns a copy so shared config entries are never mutated.
func (s *StudyService) withDefaults(st *models.Study) *models.Study {
	out := *st
	if out.Threshold <= 0 {
		out.Threshold = s.defaultThreshold
	}
	if out.Mode == "" {
		out.Mode = models.ScanModeFast
	}
	return &out
}
