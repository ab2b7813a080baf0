package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/tollgate/service"
	"go.uber.org/zap"
)

// LicenseHeader is accepted in place of an Authorization bearer
const LicenseHeader = "X-LICENSE"

// LicenseMiddleware rejects requests without a valid, unspent license. The
// license is only consumed by the handler once the request itself is valid.
func LicenseMiddleware(paymentService *service.PaymentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := licenseToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing license"})
			return
		}

		license, err := paymentService.ValidateLicense(c.Request.Context(), token)
		if err != nil {
			status, msg := statusFor(err)
			logger.Info("license rejected", zap.Int("status", status), zap.Error(err))
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set("licenseToken", token)
		c.Set("licenseNonce", license.Nonce)

		c.Next()
	}
}

func licenseToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.GetHeader(LicenseHeader))
}

// RequestLogger logs every request through zap and tags it with a request id
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
