package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/internal/api/middleware"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/pkg/logger"
	"github.com/shopspring/decimal"
)

// LedgerService is the asset ledger the bridge debits and credits.
type LedgerService interface {
	Fund(ctx context.Context, account, asset string, amount decimal.Decimal) error
	Approve(ctx context.Context, owner, asset string, amount decimal.Decimal) error
	Balance(ctx context.Context, account, asset string) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, asset string) (decimal.Decimal, error)
}

// LedgerHandlers serves balances, approvals and administrative funding.
type LedgerHandlers struct {
	ledger LedgerService
	logger *logger.Logger
}

func NewLedgerHandlers(ledger LedgerService, logger *logger.Logger) *LedgerHandlers {
	return &LedgerHandlers{ledger: ledger, logger: logger}
}

// FundRequest is the body of POST /admin/ledger/fund.
type FundRequest struct {
	Account string `json:"account" binding:"required,max=128"`
	Asset   string `json:"asset" binding:"required,max=128"`
	Amount  string `json:"amount" binding:"required,numeric"`
}

// ApproveRequest is the body of POST /ledger/allowances. The owner is the
// authenticated caller.
type ApproveRequest struct {
	Asset  string `json:"asset" binding:"required,max=128"`
	Amount string `json:"amount" binding:"required,numeric"`
}

// BalanceResponse reports an account's holding of one asset.
type BalanceResponse struct {
	Account   string          `json:"account"`
	Asset     string          `json:"asset"`
	Balance   decimal.Decimal `json:"balance"`
	Allowance decimal.Decimal `json:"allowance"`
}

// Fund handles POST /api/v1/admin/ledger/fund
func (h *LedgerHandlers) Fund(c *gin.Context) {
	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}

	account := entities.NormalizeAccount(req.Account)
	asset := entities.NormalizeAccount(req.Asset)
	if err := h.ledger.Fund(c.Request.Context(), account, asset, amount); err != nil {
		HandleError(c, err, h.logger)
		return
	}
	h.balance(c, account, asset)
}

// Approve handles POST /api/v1/ledger/allowances
func (h *LedgerHandlers) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}

	owner := middleware.Subject(c)
	asset := entities.NormalizeAccount(req.Asset)
	if err := h.ledger.Approve(c.Request.Context(), owner, asset, amount); err != nil {
		HandleError(c, err, h.logger)
		return
	}
	h.balance(c, owner, asset)
}

// GetBalance handles GET /api/v1/ledger/accounts/:account/balances/:asset
func (h *LedgerHandlers) GetBalance(c *gin.Context) {
	h.balance(c, entities.NormalizeAccount(c.Param("account")), entities.NormalizeAccount(c.Param("asset")))
}

func (h *LedgerHandlers) balance(c *gin.Context, account, asset string) {
	ctx := c.Request.Context()
	balance, err := h.ledger.Balance(ctx, account, asset)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	allowance, err := h.ledger.Allowance(ctx, account, asset)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, BalanceResponse{
		Account:   account,
		Asset:     asset,
		Balance:   balance,
		Allowance: allowance,
	})
}
