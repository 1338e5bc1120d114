package router

import (
	"github.com/labstack/echo/v4"

	"chatcore/internal/adapter/api/handler"
	"chatcore/internal/adapter/api/middleware"
	"chatcore/internal/infrastructure/ratelimit"
)

// SetupAuthRouter initializes auth routes
func SetupAuthRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	authHandler := handler.GetAuthHandler()

	// Public routes, throttled per IP
	public := e.Group("/auth")
	public.Use(middleware.RateLimit(limiter, ratelimit.ActionAuth))

	public.POST("/register", authHandler.Register)
	public.POST("/login", authHandler.Login)

	// Protected routes
	e.POST("/auth/logout", authHandler.Logout, authMiddleware.Authenticate)
}
