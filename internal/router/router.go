package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/online-market/internal/auth"       // token codec for the access-token middleware
	"github.com/iliyamo/online-market/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/online-market/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Load balancers and monitoring systems use this endpoint to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware.  Unauthenticated token-lifecycle operations live
// under /v1/auth; protected endpoints live under /v1.  The edge rate
// limiter and the origin check are passed in by main so route wiring stays
// free of configuration concerns.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens *auth.TokenService, edgeLimiter, originCheck echo.MiddlewareFunc) {
	// OTP onboarding flow: request/resend/verify a code, then redeem the
	// resulting ticket for a credential set.  All behind the edge limiter;
	// the identifier-scoped windows live inside the OTP state machine.
	g := e.Group("/v1/auth", edgeLimiter)
	g.POST("/otp/request", a.RequestOTP)
	g.POST("/otp/resend", a.ResendOTP)
	g.POST("/otp/verify", a.VerifyOTP)
	g.POST("/password", a.SetPassword)

	// Token lifecycle: login mints the first pair, refresh rotates it,
	// logout revokes it.  Refresh and logout read the HttpOnly cookie, so
	// they additionally pass the cross-site origin check.
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh, originCheck)
	// Logout never fails to the caller; the origin check still applies
	// because the request carries the ambient cookie.
	g.POST("/logout", a.Logout, originCheck)

	// Routes that require a valid access token.  JWTAuth verifies the
	// bearer token and stores the subject and role set in context; the
	// role guard accepts any known role at this surface.
	protected := e.Group("/v1")
	protected.Use(middleware.JWTAuth(tokens))
	protected.Use(middleware.RequireRole("CUSTOMER", "MERCHANT", "ADMIN"))
	protected.GET("/me", a.Me)
	// Device management: list the caller's sessions and log single
	// devices out remotely.
	protected.GET("/sessions", a.ListSessions)
	protected.DELETE("/sessions/:id", a.RevokeSession)
}
