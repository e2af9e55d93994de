package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cocina-api/internal/identity"
	"cocina-api/internal/metrics"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	tokens *identity.TokenService,
	m *metrics.Metrics,
	authH *AuthHandler,
	profileH *ProfileHandler,
	serviceH *ServiceHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	auth := r.Group("/auth")
	auth.POST("/signup", authH.SignUp)
	auth.POST("/login", authH.Login)
	auth.POST("/logout", authH.Logout)
	auth.POST("/refresh", authH.RefreshToken)
	auth.GET("/session", authH.Session)
	auth.POST("/reset/request", authH.RequestPasswordReset)
	auth.POST("/reset/confirm", authH.ConfirmPasswordReset)
	auth.POST("/recovery", authH.BeginRecovery)
	auth.POST("/recovery/cancel", authH.CancelRecovery)
	auth.GET("/google/login", authH.GoogleLogin)
	auth.GET("/google/callback", authH.GoogleCallback)

	profile := r.Group("/profile", JWTAuthMiddleware(tokens))
	profile.GET("", profileH.GetProfile)
	profile.PUT("", profileH.UpdateProfile)

	services := r.Group("/services", JWTAuthMiddleware(tokens))
	services.POST("", serviceH.CreateRequest)
	services.GET("", serviceH.ListRequests)
	services.PUT("/:id", serviceH.UpdateRequest)
	services.DELETE("/:id", serviceH.DeactivateRequest)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
