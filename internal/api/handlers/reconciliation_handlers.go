package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/internal/domain/services/reconciliation"
	"github.com/rail-service/rail_bridge/pkg/logger"
)

const maxReportPageSize = 100

// Reconciler runs ledger reconciliation on demand and serves past reports.
type Reconciler interface {
	RunReconciliation(ctx context.Context, runType string) (*entities.ReconciliationReport, error)
	LatestReport(ctx context.Context) (*entities.ReconciliationReport, error)
	GetReport(ctx context.Context, id uuid.UUID) (*entities.ReconciliationReport, error)
	ListReports(ctx context.Context, limit int) ([]*entities.ReconciliationReport, error)
}

// ReconciliationHandlers exposes reconciliation to administrators.
type ReconciliationHandlers struct {
	reconciler Reconciler
	logger     *logger.Logger
}

func NewReconciliationHandlers(reconciler Reconciler, logger *logger.Logger) *ReconciliationHandlers {
	return &ReconciliationHandlers{reconciler: reconciler, logger: logger}
}

// Run handles POST /api/v1/admin/reconciliation/run
func (h *ReconciliationHandlers) Run(c *gin.Context) {
	report, err := h.reconciler.RunReconciliation(c.Request.Context(), reconciliation.RunTypeManual)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Latest handles GET /api/v1/admin/reconciliation/latest
func (h *ReconciliationHandlers) Latest(c *gin.Context) {
	report, err := h.reconciler.LatestReport(c.Request.Context())
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Get handles GET /api/v1/admin/reconciliation/reports/:id
func (h *ReconciliationHandlers) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "report id must be a UUID",
			map[string]interface{}{"id": c.Param("id")})
		return
	}
	report, err := h.reconciler.GetReport(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, report)
}

// List handles GET /api/v1/admin/reconciliation/reports?limit=
func (h *ReconciliationHandlers) List(c *gin.Context) {
	limit := parseIntParam(c, "limit", 20)
	if limit <= 0 || limit > maxReportPageSize {
		limit = maxReportPageSize
	}
	reports, err := h.reconciler.ListReports(c.Request.Context(), limit)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}
