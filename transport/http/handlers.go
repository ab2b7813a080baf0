package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
	"github.com/layer-3/tollgate/service"
	"go.uber.org/zap"
)

// PaymentHeader carries the JSON encoded payment proof
const PaymentHeader = "X-PAYMENT"

// Accept is one payment option offered in a 402 response
type Accept struct {
	Chain     core.Chain `json:"chain"`
	Token     string     `json:"token"`
	Recipient string     `json:"recipient"`
	Amount    string     `json:"amount"`
	Nonce     string     `json:"nonce"`
	Expires   int64      `json:"expires"`
}

// PaymentHandlers contains HTTP handlers for payment endpoints
type PaymentHandlers struct {
	paymentService *service.PaymentService
	generator      ports.Generator
	logger         *zap.Logger
}

// NewPaymentHandlers creates new payment handlers
func NewPaymentHandlers(paymentService *service.PaymentService, generator ports.Generator, logger *zap.Logger) *PaymentHandlers {
	return &PaymentHandlers{
		paymentService: paymentService,
		generator:      generator,
		logger:         logger,
	}
}

// Generate answers with a payment challenge, or redeems the proof in the
// X-PAYMENT header for a license.
func (h *PaymentHandlers) Generate(c *gin.Context) {
	var body struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	// The body is opaque to payment handling
	if err := c.ShouldBindJSON(&body); err == nil {
		h.logger.Debug("generate request", zap.String("model", body.Model), zap.String("prompt", body.Prompt))
	}

	header := c.GetHeader(PaymentHeader)
	if header == "" {
		h.challenge(c)
		return
	}

	var proof core.PaymentProof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		h.logger.Warn("payment header is not JSON", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": core.ErrInvalidProof.Error()})
		return
	}

	redemption, err := h.paymentService.Redeem(c.Request.Context(), proof)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"license":         redemption.License,
		"expires_in":      int64(redemption.ExpiresIn.Seconds()),
		"allow_inference": true,
		"message":         "Payment verified successfully",
	})
}

func (h *PaymentHandlers) challenge(c *gin.Context) {
	challenges, err := h.paymentService.CreateChallenges(c.Request.Context())
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	accepts := make([]Accept, 0, len(challenges))
	for _, ch := range challenges {
		accepts = append(accepts, Accept{
			Chain:     ch.Chain,
			Token:     ch.Token,
			Recipient: ch.Recipient,
			Amount:    ch.Amount,
			Nonce:     ch.Nonce,
			Expires:   ch.ExpiresAt.Unix(),
		})
	}

	c.JSON(http.StatusPaymentRequired, gin.H{"accepts": accepts})
}

// GenerateImage consumes the license validated by LicenseMiddleware and runs
// the generator. A malformed request leaves the license unspent.
func (h *PaymentHandlers) GenerateImage(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": core.ErrInvalidGeneration.Error()})
		return
	}

	if _, err := h.paymentService.ConsumeLicense(c.Request.Context(), c.GetString("licenseToken")); err != nil {
		status, msg := statusFor(err)
		h.logger.Info("license rejected", zap.Int("status", status), zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	result, err := h.generator.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("image generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate image"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Supported lists the chains and tokens payments are accepted in
func (h *PaymentHandlers) Supported(c *gin.Context) {
	options := h.paymentService.SupportedOptions()

	kinds := make([]gin.H, 0, len(options))
	for _, opt := range options {
		kinds = append(kinds, gin.H{
			"chain":     opt.Chain,
			"token":     opt.Token,
			"asset":     opt.Asset,
			"amount":    opt.Amount,
			"recipient": opt.Recipient,
		})
	}

	c.JSON(http.StatusOK, gin.H{"kinds": kinds})
}

// Health reports liveness
func (h *PaymentHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps service errors to an HTTP status and client message.
// Internal details are only ever logged.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidProof),
		errors.Is(err, core.ErrMissingReference),
		errors.Is(err, core.ErrUnsupportedChain),
		errors.Is(err, core.ErrNonceUsed),
		errors.Is(err, core.ErrUnknownNonce),
		errors.Is(err, core.ErrReferenceUsed):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, core.ErrPaymentNotVerified):
		return http.StatusPaymentRequired, core.ErrPaymentNotVerified.Error()
	case errors.Is(err, core.ErrLicenseExpired),
		errors.Is(err, core.ErrLicenseUsed),
		errors.Is(err, core.ErrLicenseInvalid):
		return http.StatusUnauthorized, rootMessage(err)
	case errors.Is(err, core.ErrServerMisconfigured):
		return http.StatusInternalServerError, core.ErrServerMisconfigured.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// rootMessage returns the sentinel text without the wrapped reason
func rootMessage(err error) string {
	for _, sentinel := range []error{
		core.ErrInvalidProof,
		core.ErrMissingReference,
		core.ErrUnsupportedChain,
		core.ErrNonceUsed,
		core.ErrUnknownNonce,
		core.ErrReferenceUsed,
		core.ErrLicenseExpired,
		core.ErrLicenseUsed,
		core.ErrLicenseInvalid,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
