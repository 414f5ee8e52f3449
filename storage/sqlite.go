package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"carbitrage/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS study_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		studies_total INTEGER DEFAULT 0,
		opportunities INTEGER DEFAULT 0,
		nulls INTEGER DEFAULT 0,
		blocked INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS study_results (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		study_id TEXT NOT NULL,
		status TEXT NOT NULL,
		target_market_price REAL,
		best_source_price REAL,
		price_difference REAL,
		target_stats JSON,
		target_error_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		study_id TEXT
	);

	CREATE TABLE IF NOT EXISTS study_stats (
		study_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_status TEXT,
		total_runs INTEGER,
		opportunity_runs INTEGER,
		blocked_runs INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON study_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_study ON study_results(study_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scan_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON study_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.StudyRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_runs (id, started_at, status, studies_total)
		VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt, run.Status, run.StudiesTotal)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.StudyRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE study_runs SET finished_at = ?, status = ?, studies_total = ?,
			opportunities = ?, nulls = ?, blocked = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.StudiesTotal,
		run.Opportunities, run.Nulls, run.Blocked, run.ErrorMessage, run.ID.String())
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*models.StudyRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, studies_total, opportunities, nulls, blocked,
			COALESCE(error_message, '')
		FROM study_runs WHERE id = ?`, id.String())

	var run models.StudyRun
	var runID string
	err := row.Scan(&runID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.StudiesTotal,
		&run.Opportunities, &run.Nulls, &run.Blocked, &run.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if run.ID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	return &run, nil
}

// AppendResult inserts one immutable result row. Rows are never updated.
func (s *SQLiteStore) AppendResult(ctx context.Context, r *models.StudyRunResult) error {
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

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO study_results (run_id, study_id, status, target_market_price, best_source_price,
			price_difference, target_stats, target_error_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID.String(), r.StudyID, r.Status, r.TargetMarketPrice, r.BestSourcePrice,
		r.PriceDifference, nullableJSON(stats), r.TargetErrorReason, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) GetResultsForRun(ctx context.Context, runID uuid.UUID) ([]models.StudyRunResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, study_id, status, target_market_price, best_source_price, price_difference,
			target_stats, target_error_reason, created_at
		FROM study_results WHERE run_id = ? ORDER BY id`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.StudyRunResult
	for rows.Next() {
		var r models.StudyRunResult
		var rid string
		var stats sql.NullString
		var reason sql.NullString
		var target, best, diff sql.NullFloat64
		if err := rows.Scan(&r.ID, &rid, &r.StudyID, &r.Status, &target, &best, &diff,
			&stats, &reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RunID, _ = uuid.Parse(rid)
		r.TargetMarketPrice = floatPtr(target)
		r.BestSourcePrice = floatPtr(best)
		r.PriceDifference = floatPtr(diff)
		if reason.Valid {
			r.TargetErrorReason = &reason.String
		}
		if stats.Valid && stats.String != "" {
			var ts models.TargetStats
			if err := json.Unmarshal([]byte(stats.String), &ts); err != nil {
				return nil, fmt.Errorf("decode target stats for result %d: %w", r.ID, err)
			}
			r.TargetStats = &ts
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Log(runID *uuid.UUID, level models.LogLevel, message, studyID string) error {
	var id any
	if runID != nil {
		id = runID.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO scan_logs (run_id, timestamp, level, message, study_id)
		VALUES (?, ?, ?, ?, ?)`,
		id, time.Now(), level, message, studyID)
	return err
}

func (s *SQLiteStore) GetLogs(ctx context.Context, runID uuid.UUID) ([]models.ScanLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, level, message, COALESCE(study_id, '')
		FROM scan_logs WHERE run_id = ? ORDER BY id`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScanLog
	for rows.Next() {
		l := models.ScanLog{RunID: &runID}
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.StudyID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpdateStudyStats refreshes the per-study rollup from study_results.
func (s *SQLiteStore) UpdateStudyStats(ctx context.Context, studyID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_stats (study_id, last_run_at, last_status, total_runs, opportunity_runs, blocked_runs)
		SELECT
			study_id,
			MAX(created_at),
			(SELECT status FROM study_results WHERE study_id = ? ORDER BY id DESC LIMIT 1),
			COUNT(*),
			SUM(CASE WHEN status = 'OPPORTUNITIES' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN ('TARGET_BLOCKED', 'SOURCE_BLOCKED') THEN 1 ELSE 0 END)
		FROM study_results WHERE study_id = ?
		GROUP BY study_id
		ON CONFLICT(study_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_status = excluded.last_status,
			total_runs = excluded.total_runs,
			opportunity_runs = excluded.opportunity_runs,
			blocked_runs = excluded.blocked_runs`,
		studyID, studyID)
	return err
}

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullableJSON(raw), time.Now())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, fmt.Errorf("command %d params: %w", cmd.ID, err)
	}
	return &params, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
