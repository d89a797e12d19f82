package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/rail-service/rail_bridge/pkg/logger"
)

// Error codes for failures raised by the API layer itself. Domain errors
// carry their own codes.
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInvalidIdentifier  = "INVALID_IDENTIFIER"
	ErrCodeInvalidAmount      = "INVALID_AMOUNT"
	ErrCodeInvalidChain       = "INVALID_CHAIN"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

const MsgInternalError = "Internal server error"

// statusRules maps error kinds to HTTP statuses. The first match wins.
var statusRules = []struct {
	kind   error
	status int
}{
	{apperrors.ErrTransferNotFound, http.StatusNotFound},
	{apperrors.ErrNotFound, http.StatusNotFound},
	{apperrors.ErrAlreadyProcessed, http.StatusConflict},
	{apperrors.ErrUnauthorized, http.StatusUnauthorized},
	{auth.ErrNoPrincipal, http.StatusUnauthorized},
	{apperrors.ErrForbidden, http.StatusForbidden},
	{auth.ErrForbidden, http.StatusForbidden},
	{apperrors.ErrUnauthorizedRelayer, http.StatusForbidden},
	{apperrors.ErrTransferPaused, http.StatusServiceUnavailable},
	{apperrors.ErrCreditFailed, http.StatusServiceUnavailable},
	{apperrors.ErrServiceUnavailable, http.StatusServiceUnavailable},
	{apperrors.ErrInvalidInput, http.StatusBadRequest},
	{apperrors.ErrFeeTooHigh, http.StatusBadRequest},
	{apperrors.ErrInvalidLimits, http.StatusBadRequest},
	{apperrors.ErrInvalidChainID, http.StatusBadRequest},
	{apperrors.ErrInvalidAssetAddress, http.StatusBadRequest},
	{apperrors.ErrInvalidRecipient, http.StatusUnprocessableEntity},
	{apperrors.ErrUnsupportedAsset, http.StatusUnprocessableEntity},
	{apperrors.ErrUnsupportedChain, http.StatusUnprocessableEntity},
	{apperrors.ErrSameChainTransfer, http.StatusUnprocessableEntity},
	{apperrors.ErrAmountOutOfRange, http.StatusUnprocessableEntity},
	{apperrors.ErrNonceOverflow, http.StatusUnprocessableEntity},
	{apperrors.ErrIdentifierMismatch, http.StatusUnprocessableEntity},
	{apperrors.ErrInvalidNetAmount, http.StatusUnprocessableEntity},
	{apperrors.ErrInsufficientFunds, http.StatusUnprocessableEntity},
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	for _, rule := range statusRules {
		if errors.Is(err, rule.kind) {
			return rule.status
		}
	}
	return http.StatusInternalServerError
}

// HandleError writes err as an error response. Errors without a known kind
// are logged and reported as internal errors without their cause.
func HandleError(c *gin.Context, err error, log *logger.Logger) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed",
			"request_id", getRequestID(c),
			"path", c.FullPath(),
			"error", err)
		respondError(c, status, ErrCodeInternalError, MsgInternalError, nil)
		return
	}

	var de *apperrors.DomainError
	if errors.As(err, &de) {
		respondError(c, status, de.Code, de.Message, de.Details)
		return
	}
	switch status {
	case http.StatusUnauthorized:
		respondError(c, status, ErrCodeUnauthorized, "Authentication required", nil)
	case http.StatusForbidden:
		respondError(c, status, ErrCodeForbidden, "Insufficient permissions", nil)
	default:
		respondError(c, status, ErrCodeInvalidRequest, err.Error(), nil)
	}
}

// respondBindError reports a request body that failed to decode or validate.
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, "Request validation failed",
			map[string]interface{}{"validation_errors": fields})
		return
	}
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request payload", nil)
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
