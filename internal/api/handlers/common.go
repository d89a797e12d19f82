package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
)

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// parseIdentifierParam reads the :identifier path parameter, writing a 400
// when it is malformed.
func parseIdentifierParam(c *gin.Context) (entities.Identifier, bool) {
	id, err := entities.ParseIdentifier(c.Param("identifier"))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidIdentifier, err.Error(), nil)
		return id, false
	}
	return id, true
}

// parseAmount parses a base-10 integer amount, writing a 400 when it is not
// one.
func parseAmount(c *gin.Context, field, s string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(s)
	if err != nil || !entities.IsValidAmount(amount) {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidAmount, "amount must be a non-negative integer",
			map[string]interface{}{"field": field, "value": s})
		return decimal.Zero, false
	}
	return amount, true
}

// parseChainParam reads a chain id path parameter.
func parseChainParam(c *gin.Context, name string) (uint64, bool) {
	chain, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidChain, "chain must be an unsigned integer",
			map[string]interface{}{"chain": c.Param(name)})
		return 0, false
	}
	return chain, true
}

// parseIntParam parses a query parameter to int with default value
func parseIntParam(c *gin.Context, param string, defaultVal int) int {
	if val := c.Query(param); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
