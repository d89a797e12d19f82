package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	domain "github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/tracing"
)

// ReconciliationRepository keeps reconciliation reports. Check results are
// stored as one JSONB document per run.
type ReconciliationRepository struct {
	conn
}

func NewReconciliationRepository(db *sqlx.DB) *ReconciliationRepository {
	return &ReconciliationRepository{conn{db}}
}

type reportRow struct {
	ID            uuid.UUID `db:"id"`
	RunType       string    `db:"run_type"`
	StartedAt     time.Time `db:"started_at"`
	CompletedAt   time.Time `db:"completed_at"`
	Discrepancies int       `db:"discrepancies"`
	Checks        []byte    `db:"checks"`
}

func (row *reportRow) toEntity() (*entities.ReconciliationReport, error) {
	report := &entities.ReconciliationReport{
		ID:            row.ID,
		RunType:       row.RunType,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
		Discrepancies: row.Discrepancies,
	}
	if err := json.Unmarshal(row.Checks, &report.Checks); err != nil {
		return nil, fmt.Errorf("decode checks of report %s: %w", row.ID, err)
	}
	return report, nil
}

const reportColumns = `id, run_type, started_at, completed_at, discrepancies, checks`

func (r *ReconciliationRepository) Save(ctx context.Context, report *entities.ReconciliationReport) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "INSERT",
		Table:     "reconciliation_reports",
	})
	defer span.End()

	checks, err := json.Marshal(report.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}

	query := `
		INSERT INTO reconciliation_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.ext(ctx).ExecContext(ctx, query,
		report.ID,
		report.RunType,
		report.StartedAt,
		report.CompletedAt,
		report.Discrepancies,
		string(checks),
	)
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("save reconciliation report: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.ReconciliationReport, error) {
	return r.getOne(ctx, `
		SELECT `+reportColumns+`
		FROM reconciliation_reports
		WHERE id = $1
	`, id)
}

func (r *ReconciliationRepository) GetLatest(ctx context.Context) (*entities.ReconciliationReport, error) {
	return r.getOne(ctx, `
		SELECT `+reportColumns+`
		FROM reconciliation_reports
		ORDER BY completed_at DESC
		LIMIT 1
	`)
}

func (r *ReconciliationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entities.ReconciliationReport, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "reconciliation_reports",
	})
	defer span.End()

	var row reportRow
	err := sqlx.GetContext(ctx, r.ext(ctx), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		tracing.EndDBSpan(span, nil, 0)
		return nil, domain.ErrNotFound
	}
	tracing.EndDBSpan(span, err, 1)
	if err != nil {
		return nil, fmt.Errorf("get reconciliation report: %w", err)
	}
	return row.toEntity()
}

func (r *ReconciliationRepository) List(ctx context.Context, limit int) ([]*entities.ReconciliationReport, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{
		Operation: "SELECT",
		Table:     "reconciliation_reports",
	})
	defer span.End()

	query := `
		SELECT ` + reportColumns + `
		FROM reconciliation_reports
		ORDER BY completed_at DESC
		LIMIT $1
	`
	var rows []reportRow
	err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, nullableLimit(limit))
	tracing.EndDBSpan(span, err, int64(len(rows)))
	if err != nil {
		return nil, fmt.Errorf("list reconciliation reports: %w", err)
	}

	reports := make([]*entities.ReconciliationReport, 0, len(rows))
	for i := range rows {
		report, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
