package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/api/handler"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/identity"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

func newRouter(
	ctx context.Context,
	v *viper.Viper,
	eng *measurement.Engine,
	dev tpm.Device,
	reader handler.AuditReader,
	tokens *identity.TokenIssuer,
	logger *zap.Logger,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := v.GetStringSlice("imad.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(handler.SecurityHeaders())
	router.Use(handler.MaxBody(1 << 20))
	if rps := v.GetInt("imad.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "namespaces": len(eng.Namespaces())})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	requireToken := identity.RequireToken(tokens)
	nsAdmin := []gin.HandlerFunc{requireToken, identity.RequireScope(identity.ScopeNamespaces)}
	measureAdmin := []gin.HandlerFunc{requireToken, identity.RequireScope(identity.ScopeMeasure)}

	handler.NewNamespaceHandler(eng, logger).Register(v1, nsAdmin...)
	handler.NewMeasurementHandler(eng, v.GetInt("log.pcr"), logger).Register(v1, measureAdmin...)
	handler.NewAuditHandler(reader, logger).Register(v1, nsAdmin...)
	if dev != nil {
		if h := handler.NewPCRHandler(dev); h != nil {
			h.Register(v1)
		}
	}

	v1.GET("/auth/public_key", func(c *gin.Context) {
		pemStr, err := tokens.PublicKeyPEM()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "public key unavailable"})
			return
		}
		c.String(http.StatusOK, pemStr)
	})
	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
