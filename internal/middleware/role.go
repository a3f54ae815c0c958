package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // http package defines standard HTTP status codes

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context
)

// RequireRole returns a middleware function that enforces that the
// authenticated user's role set contains at least one of the specified
// roles.  The role names correspond to the values carried in the access
// token's "roles" claim; JWTAuth must have run first and stored the set
// under the "roles" context key.  Anything else is rejected with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    // Build a set of allowed roles for constant-time lookups.
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            v := c.Get("roles")
            names, ok := v.([]string)
            if !ok {
                return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
            }
            for _, name := range names {
                if allowed[name] {
                    return next(c)
                }
            }
            return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
        }
    }
}
