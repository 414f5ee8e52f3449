package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carbitrage/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// =============================================================================
// Studies
// =============================================================================

const studyColumns = `
	id, COALESCE(brand, ''), COALESCE(model, ''), COALESCE(year, 0), COALESCE(max_mileage, 0),
	COALESCE(target_country, ''), COALESCE(source_country, ''), target_url, source_url,
	COALESCE(trim, ''), COALESCE(target_trim, ''), COALESCE(source_trim, ''),
	COALESCE(threshold, 0), COALESCE(mode, 'fast')`

func scanStudy(row pgx.Row) (*models.Study, error) {
	var st models.Study
	err := row.Scan(
		&st.ID, &st.Brand, &st.Model, &st.Year, &st.MaxMileage,
		&st.TargetCountry, &st.SourceCountry, &st.TargetURL, &st.SourceURL,
		&st.Trim, &st.TargetTrim, &st.SourceTrim,
		&st.Threshold, &st.Mode,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudies reads the studies table. The table is owned by the study
// editor; this store never writes to it.
func (s *PostgresStore) ListStudies(ctx context.Context) ([]*models.Study, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+studyColumns+` FROM studies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var studies []*models.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		studies = append(studies, st)
	}
	return studies, rows.Err()
}

func (s *PostgresStore) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	st, err := scanStudy(s.pool.QueryRow(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// =============================================================================
// Results
// =============================================================================

func (s *PostgresStore) AppendResult(ctx context.Context, r *models.StudyRunResult) error {
	var stats []byte
	if r.TargetStats != nil {
		var err error
		stats, err = json.Marshal(r.TargetStats)
		if err != nil {
			return fmt.Errorf("marshal target stats: %w", err)
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO study_results (
			run_id, study_id, status, target_market_price, best_source_price,
			price_difference, target_stats, target_error_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		r.RunID, r.StudyID, string(r.Status), r.TargetMarketPrice, r.BestSourcePrice,
		r.PriceDifference, stats, r.TargetErrorReason, r.CreatedAt,
	).Scan(&r.ID)
}

// =============================================================================
// Study Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.StudyRun) error {
	query := `
		INSERT INTO study_runs (id, started_at, status, studies_total)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, string(run.Status), run.StudiesTotal)
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.StudyRun) error {
	query := `
		UPDATE study_runs SET
			finished_at = $2, status = $3, studies_total = $4, opportunities = $5,
			nulls = $6, blocked = $7, error_message = $8
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, string(run.Status), run.StudiesTotal, run.Opportunities,
		run.Nulls, run.Blocked, run.ErrorMessage,
	)
	return err
}
