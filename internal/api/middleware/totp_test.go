package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const totpSecret = "JBSWY3DPEHPK3PXP"

func TestRequireTOTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/pause", RequireTOTP(totpSecret), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	valid, err := totp.GenerateCode(totpSecret, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name string
		code string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "12345", http.StatusForbidden},
		{"valid", valid, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/pause", nil)
			if tt.code != "" {
				req.Header.Set(HeaderTOTPCode, tt.code)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
