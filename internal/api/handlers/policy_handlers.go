package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
)

// PolicyService reads and administers the bridge policy. Mutations check
// the caller's authority themselves.
type PolicyService interface {
	Snapshot(ctx context.Context) (*entities.Policy, error)
	SetAssetSupported(ctx context.Context, asset string, supported bool) (*entities.Policy, error)
	SetChainSupported(ctx context.Context, chain uint64, supported bool) (*entities.Policy, error)
	SetFeeRate(ctx context.Context, bps uint32) (*entities.Policy, error)
	SetLimits(ctx context.Context, min, max decimal.Decimal) (*entities.Policy, error)
	Pause(ctx context.Context) (*entities.Policy, error)
	Unpause(ctx context.Context) (*entities.Policy, error)
}

// PolicyHandlers serves the policy snapshot and admin mutations.
type PolicyHandlers struct {
	policy PolicyService
	logger *logger.Logger
}

func NewPolicyHandlers(policy PolicyService, logger *logger.Logger) *PolicyHandlers {
	return &PolicyHandlers{policy: policy, logger: logger}
}

// SupportRequest toggles an asset or chain.
type SupportRequest struct {
	Supported *bool `json:"supported" binding:"required"`
}

// FeeRateRequest is the body of PUT /admin/fee.
type FeeRateRequest struct {
	FeeRateBps *uint32 `json:"fee_rate_bps" binding:"required"`
}

// LimitsRequest is the body of PUT /admin/limits.
type LimitsRequest struct {
	MinAmount string `json:"min_amount" binding:"required,numeric"`
	MaxAmount string `json:"max_amount" binding:"required,numeric"`
}

// GetPolicy handles GET /api/v1/policy
// @Summary Get the bridge policy
// @Tags policy
// @Produce json
// @Success 200 {object} entities.Policy
// @Router /policy [get]
func (h *PolicyHandlers) GetPolicy(c *gin.Context) {
	p, err := h.policy.Snapshot(c.Request.Context())
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SetAssetSupported handles PUT /api/v1/admin/assets/:asset
func (h *PolicyHandlers) SetAssetSupported(c *gin.Context) {
	var req SupportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	h.respond(c)(h.policy.SetAssetSupported(c.Request.Context(), entities.NormalizeAccount(c.Param("asset")), *req.Supported))
}

// SetChainSupported handles PUT /api/v1/admin/chains/:chain
func (h *PolicyHandlers) SetChainSupported(c *gin.Context) {
	chain, ok := parseChainParam(c, "chain")
	if !ok {
		return
	}
	var req SupportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	h.respond(c)(h.policy.SetChainSupported(c.Request.Context(), chain, *req.Supported))
}

// SetFeeRate handles PUT /api/v1/admin/fee
func (h *PolicyHandlers) SetFeeRate(c *gin.Context) {
	var req FeeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	h.respond(c)(h.policy.SetFeeRate(c.Request.Context(), *req.FeeRateBps))
}

// SetLimits handles PUT /api/v1/admin/limits
func (h *PolicyHandlers) SetLimits(c *gin.Context) {
	var req LimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	min, ok := parseAmount(c, "min_amount", req.MinAmount)
	if !ok {
		return
	}
	max, ok := parseAmount(c, "max_amount", req.MaxAmount)
	if !ok {
		return
	}
	h.respond(c)(h.policy.SetLimits(c.Request.Context(), min, max))
}

// Pause handles POST /api/v1/admin/pause
func (h *PolicyHandlers) Pause(c *gin.Context) {
	h.respond(c)(h.policy.Pause(c.Request.Context()))
}

// Unpause handles POST /api/v1/admin/unpause
func (h *PolicyHandlers) Unpause(c *gin.Context) {
	h.respond(c)(h.policy.Unpause(c.Request.Context()))
}

func (h *PolicyHandlers) respond(c *gin.Context) func(*entities.Policy, error) {
	return func(p *entities.Policy, err error) {
		if err != nil {
			HandleError(c, err, h.logger)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
