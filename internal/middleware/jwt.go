package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/online-market/internal/auth"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// through the token codec and injects the verified subject and role set
// into the request context.  Handlers behind it read the values via
// `c.Get("user_id")` (uint64) and `c.Get("roles")` ([]string).  The codec
// already rejects refresh tokens presented here via the typ claim, so no
// extra token-confusion check is needed.
func JWTAuth(tokens *auth.TokenService) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // A valid header starts with "Bearer " followed by the JWT.
            header := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(header, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(header, "Bearer ")

            payload, err := tokens.VerifyAccess(raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set("user_id", payload.UserID)
            c.Set("roles", payload.Roles)
            return next(c)
        }
    }
}
