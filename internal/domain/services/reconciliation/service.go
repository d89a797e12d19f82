// Package reconciliation audits the bridge ledger: every journal transaction
// must balance, every stored balance must equal the sum of its entries, and
// only the treasury may hold a negative balance.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/repositories"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "reconciliation"

// Check names, also used as the metric label.
const (
	CheckTransactionBalance = "transaction_balance"
	CheckBalanceEntries     = "balance_entries"
	CheckNegativeBalance    = "negative_balance"
)

// Run types.
const (
	RunTypeScheduled = "scheduled"
	RunTypeManual    = "manual"
)

// Alerter is told about every run that found discrepancies.
type Alerter interface {
	ReportDiscrepancies(ctx context.Context, report *entities.ReconciliationReport) error
}

// Option configures a Service.
type Option func(*Service)

// WithAlerter notifies alerter after each failed run.
func WithAlerter(alerter Alerter) Option {
	return func(s *Service) { s.alerter = alerter }
}

type check struct {
	name string
	run  func(ctx context.Context) ([]entities.Discrepancy, error)
}

// Service runs the ledger checks against the store.
type Service struct {
	ledger   repositories.LedgerRepository
	reports  repositories.ReconciliationReportRepository
	alerter  Alerter
	treasury string
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a reconciliation service
func NewService(store repositories.Store, logger *logger.Logger, opts ...Option) *Service {
	s := &Service{
		ledger:   store.Ledger(),
		reports:  store.Reports(),
		treasury: entities.TreasuryAccount,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) checks() []check {
	return []check{
		{CheckTransactionBalance, s.CheckTransactionBalance},
		{CheckBalanceEntries, s.CheckBalanceEntries},
		{CheckNegativeBalance, s.CheckNegativeBalances},
	}
}

// RunReconciliation runs every check and saves the report. A check that
// cannot read the ledger fails the run; a report that cannot be saved is
// logged and still returned.
func (s *Service) RunReconciliation(ctx context.Context, runType string) (*entities.ReconciliationReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RunReconciliation")
	defer span.End()

	report := &entities.ReconciliationReport{
		ID:        uuid.New(),
		RunType:   runType,
		StartedAt: s.now(),
	}
	span.SetAttributes(
		attribute.String("report_id", report.ID.String()),
		attribute.String("run_type", runType),
	)

	for _, c := range s.checks() {
		start := time.Now()
		found, err := c.run(ctx)
		if err != nil {
			metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("Reconciliation check failed", "check", c.name, "report_id", report.ID, "error", err)
			return nil, fmt.Errorf("%s check: %w", c.name, err)
		}

		metrics.ReconciliationDiscrepancies.WithLabelValues(c.name).Set(float64(len(found)))
		for _, d := range found {
			s.logger.Warn("Ledger discrepancy",
				"check", c.name,
				"account", d.Account,
				"asset", d.Asset,
				"expected", d.Expected,
				"actual", d.Actual,
				"message", d.Message)
		}

		report.Checks = append(report.Checks, entities.ReconciliationCheck{
			Check:         c.name,
			Passed:        len(found) == 0,
			Discrepancies: found,
			Duration:      time.Since(start),
		})
		report.Discrepancies += len(found)
	}
	report.CompletedAt = s.now()

	result := "passed"
	if !report.Passed() {
		result = "discrepancies"
	}
	metrics.ReconciliationRunsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.Int("discrepancies", report.Discrepancies))

	if err := s.reports.Save(ctx, report); err != nil {
		s.logger.Error("Failed to save reconciliation report", "report_id", report.ID, "error", err)
	}
	if s.alerter != nil && !report.Passed() {
		if err := s.alerter.ReportDiscrepancies(ctx, report); err != nil {
			s.logger.Error("Failed to send reconciliation alert", "report_id", report.ID, "error", err)
		}
	}

	s.logger.Info("Reconciliation completed",
		"report_id", report.ID,
		"run_type", runType,
		"checks", len(report.Checks),
		"discrepancies", report.Discrepancies,
		"duration", report.CompletedAt.Sub(report.StartedAt).String())
	return report, nil
}

// LatestReport returns the most recently completed run.
func (s *Service) LatestReport(ctx context.Context) (*entities.ReconciliationReport, error) {
	report, err := s.reports.GetLatest(ctx)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFoundError("REPORT", "latest")
	}
	return report, err
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*entities.ReconciliationReport, error) {
	report, err := s.reports.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFoundError("REPORT", id.String())
	}
	return report, err
}

// ListReports returns up to limit runs, newest first.
func (s *Service) ListReports(ctx context.Context, limit int) ([]*entities.ReconciliationReport, error) {
	return s.reports.List(ctx, limit)
}
