package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

type runRepo struct {
	db *sqlx.DB
}

// NewRunRepo creates a new PostgreSQL-backed RunRepository.
func NewRunRepo(db *sqlx.DB) port.RunRepository {
	return &runRepo{db: db}
}

// runRow mirrors the pipeline_runs table. The full summary is kept as JSONB;
// the scalar columns exist for listing and filtering.
type runRow struct {
	ID           uuid.UUID `db:"id"`
	DocumentPath string    `db:"document_path"`
	Status       string    `db:"status"`
	Reason       string    `db:"reason"`
	TotalTables  int       `db:"total_tables"`
	TotalRows    int       `db:"total_rows"`
	Summary      []byte    `db:"summary"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

func toRunRow(s *domain.Summary) (*runRow, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	return &runRow{
		ID:           s.RunID,
		DocumentPath: s.DocumentPath,
		Status:       string(s.Status),
		Reason:       string(s.Reason),
		TotalTables:  s.TotalTables,
		TotalRows:    s.TotalRows,
		Summary:      raw,
		StartedAt:    s.StartedAt.UTC(),
		FinishedAt:   s.FinishedAt.UTC(),
	}, nil
}

func (r *runRow) toSummary() (*domain.Summary, error) {
	var s domain.Summary
	if err := json.Unmarshal(r.Summary, &s); err != nil {
		return nil, fmt.Errorf("decoding summary of run %s: %w", r.ID, err)
	}
	return &s, nil
}

const runColumns = `id, document_path, status, reason, total_tables, total_rows, summary, started_at, finished_at`

func (r *runRepo) Create(ctx context.Context, summary *domain.Summary) error {
	if summary.RunID == uuid.Nil {
		summary.RunID = uuid.New()
	}
	row, err := toRunRow(summary)
	if err != nil {
		return fmt.Errorf("runRepo.Create: %w", err)
	}

	query := `INSERT INTO pipeline_runs (` + runColumns + `)
		VALUES (:id, :document_path, :status, :reason, :total_tables, :total_rows, :summary, :started_at, :finished_at)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("runRepo.Create: %w", err)
	}
	return nil
}

func (r *runRepo) GetByID(ctx context.Context, runID uuid.UUID) (*domain.Summary, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE id = $1", runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("runRepo.GetByID: %w", err)
	}
	s, err := row.toSummary()
	if err != nil {
		return nil, fmt.Errorf("runRepo.GetByID: %w", err)
	}
	return s, nil
}

func (r *runRepo) ListRecent(ctx context.Context, limit int) ([]domain.Summary, error) {
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+runColumns+" FROM pipeline_runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("runRepo.ListRecent: %w", err)
	}

	summaries := make([]domain.Summary, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toSummary()
		if err != nil {
			return nil, fmt.Errorf("runRepo.ListRecent: %w", err)
		}
		summaries = append(summaries, *s)
	}
	return summaries, nil
}
