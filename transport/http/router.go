package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/tollgate/ports"
	"github.com/layer-3/tollgate/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router. A nil gatherer disables /metrics.
func SetupRouter(paymentService *service.PaymentService, generator ports.Generator, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	handlers := NewPaymentHandlers(paymentService, generator, logger)

	router.GET("/healthz", handlers.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/generate", handlers.Generate)
		api.GET("/supported", handlers.Supported)
	}

	// License protected routes
	licensed := api.Group("")
	licensed.Use(LicenseMiddleware(paymentService, logger))
	{
		licensed.POST("/generate-image", handlers.GenerateImage)
	}

	return router
}
