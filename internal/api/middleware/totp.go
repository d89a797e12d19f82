package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
)

// HeaderTOTPCode carries the one-time code required on protected routes.
const HeaderTOTPCode = "X-TOTP-Code"

// RequireTOTP admits requests whose X-TOTP-Code header is valid for secret
// in the current 30 second window.
func RequireTOTP(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.GetHeader(HeaderTOTPCode))
		if code == "" {
			abort(c, http.StatusUnauthorized, "TOTP_REQUIRED", "One-time code required")
			return
		}
		if !totp.Validate(code, secret) {
			abort(c, http.StatusForbidden, "INVALID_TOTP", "Invalid one-time code")
			return
		}
		c.Next()
	}
}
