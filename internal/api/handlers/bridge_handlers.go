package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/internal/api/middleware"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/rail-service/rail_bridge/pkg/logger"
)

// TransferService is the source side of the bridge.
type TransferService interface {
	Initiate(ctx context.Context, req *entities.InitiateTransferRequest) (*entities.TransferRequest, error)
	GetTransferRequest(ctx context.Context, id entities.Identifier) (*entities.TransferRequest, error)
	NextNonce(ctx context.Context, sender string) (uint64, error)
	ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.TransferRequest, error)
}

// CompletionService is the destination side of the bridge.
type CompletionService interface {
	Complete(ctx context.Context, req *entities.CompleteTransferRequest) (*entities.CompletionRecord, error)
	IsProcessed(ctx context.Context, id entities.Identifier) (bool, error)
}

// BridgeHandlers serves transfer initiation, completion and lookups.
type BridgeHandlers struct {
	transfers   TransferService
	completions CompletionService
	logger      *logger.Logger
}

func NewBridgeHandlers(transfers TransferService, completions CompletionService, logger *logger.Logger) *BridgeHandlers {
	return &BridgeHandlers{
		transfers:   transfers,
		completions: completions,
		logger:      logger,
	}
}

// InitiateTransferRequest is the body of POST /transfers. The sender is the
// authenticated caller.
type InitiateTransferRequest struct {
	Recipient   string `json:"recipient" binding:"required,max=128"`
	Asset       string `json:"asset" binding:"required,max=128"`
	Amount      string `json:"amount" binding:"required,numeric"`
	TargetChain uint64 `json:"target_chain" binding:"required"`
}

// CompleteTransferRequest is the body of POST /completions.
type CompleteTransferRequest struct {
	Identifier  string                      `json:"identifier" binding:"required"`
	Sender      string                      `json:"sender" binding:"required,max=128"`
	Recipient   string                      `json:"recipient" binding:"required,max=128"`
	Asset       string                      `json:"asset" binding:"required,max=128"`
	GrossAmount string                      `json:"gross_amount" binding:"required,numeric"`
	SourceChain uint64                      `json:"source_chain" binding:"required"`
	Nonce       uint64                      `json:"nonce"`
	NetAmount   string                      `json:"net_amount" binding:"required,numeric"`
	Signatures  []entities.RelayerSignature `json:"signatures" binding:"omitempty,dive"`
}

// NonceResponse is returned by GET /accounts/:account/nonce.
type NonceResponse struct {
	Account   string `json:"account"`
	NextNonce uint64 `json:"next_nonce"`
}

// ProcessedResponse is returned by GET /transfers/:identifier/processed.
type ProcessedResponse struct {
	Identifier entities.Identifier `json:"identifier"`
	Processed  bool                `json:"processed"`
}

// InitiateTransfer handles POST /api/v1/transfers
// @Summary Initiate a cross-chain transfer
// @Description Debits the caller's allowance, takes the fee and records a transfer request
// @Tags bridge
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Replay key"
// @Param request body InitiateTransferRequest true "Transfer"
// @Success 201 {object} entities.TransferRequest
// @Failure 400 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Failure 503 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /transfers [post]
func (h *BridgeHandlers) InitiateTransfer(c *gin.Context) {
	var req InitiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}

	transfer, err := h.transfers.Initiate(c.Request.Context(), &entities.InitiateTransferRequest{
		Sender:      middleware.Subject(c),
		Recipient:   req.Recipient,
		Asset:       req.Asset,
		Amount:      amount,
		TargetChain: req.TargetChain,
	})
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, transfer)
}

// CompleteTransfer handles POST /api/v1/completions
// @Summary Complete a relayed transfer
// @Description Verifies the relayer attestation and credits the recipient exactly once
// @Tags bridge
// @Accept json
// @Produce json
// @Param request body CompleteTransferRequest true "Relayed transfer"
// @Success 200 {object} entities.CompletionRecord
// @Failure 403 {object} entities.ErrorResponse
// @Failure 409 {object} entities.ErrorResponse
// @Failure 422 {object} entities.ErrorResponse
// @Security BearerAuth
// @Router /completions [post]
func (h *BridgeHandlers) CompleteTransfer(c *gin.Context) {
	var req CompleteTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	id, err := entities.ParseIdentifier(req.Identifier)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidIdentifier, err.Error(), nil)
		return
	}
	gross, ok := parseAmount(c, "gross_amount", req.GrossAmount)
	if !ok {
		return
	}
	net, ok := parseAmount(c, "net_amount", req.NetAmount)
	if !ok {
		return
	}

	record, err := h.completions.Complete(c.Request.Context(), &entities.CompleteTransferRequest{
		Identifier:  id,
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Asset:       req.Asset,
		GrossAmount: gross,
		SourceChain: req.SourceChain,
		Nonce:       req.Nonce,
		NetAmount:   net,
		Signatures:  req.Signatures,
	})
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetTransfer handles GET /api/v1/transfers/:identifier
// @Summary Get a transfer request
// @Tags bridge
// @Produce json
// @Param identifier path string true "0x-prefixed transfer identifier"
// @Success 200 {object} entities.TransferRequest
// @Failure 404 {object} entities.ErrorResponse
// @Router /transfers/{identifier} [get]
func (h *BridgeHandlers) GetTransfer(c *gin.Context) {
	id, ok := parseIdentifierParam(c)
	if !ok {
		return
	}

	transfer, err := h.transfers.GetTransferRequest(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, transfer)
}

// IsProcessed handles GET /api/v1/transfers/:identifier/processed
// @Summary Check whether an inbound transfer was completed
// @Tags bridge
// @Produce json
// @Param identifier path string true "0x-prefixed transfer identifier"
// @Success 200 {object} ProcessedResponse
// @Router /transfers/{identifier}/processed [get]
func (h *BridgeHandlers) IsProcessed(c *gin.Context) {
	id, ok := parseIdentifierParam(c)
	if !ok {
		return
	}

	processed, err := h.completions.IsProcessed(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, ProcessedResponse{Identifier: id, Processed: processed})
}

// ListTransfers handles GET /api/v1/accounts/:account/transfers
func (h *BridgeHandlers) ListTransfers(c *gin.Context) {
	limit := parseIntParam(c, "limit", 0)
	offset := parseIntParam(c, "offset", 0)

	list, err := h.transfers.ListBySender(c.Request.Context(), c.Param("account"), limit, offset)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}
	if list == nil {
		list = []*entities.TransferRequest{}
	}

	c.JSON(http.StatusOK, gin.H{"transfers": list, "count": len(list)})
}

// NextNonce handles GET /api/v1/accounts/:account/nonce
func (h *BridgeHandlers) NextNonce(c *gin.Context) {
	account := entities.NormalizeAccount(c.Param("account"))

	nonce, err := h.transfers.NextNonce(c.Request.Context(), account)
	if err != nil {
		HandleError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, NonceResponse{Account: account, NextNonce: nonce})
}
