package handler

import (
    "context"           // provides context with cancellation for store calls
    "net/http"          // HTTP status codes and cookie primitives
    "strconv"           // Retry-After header formatting
    "strings"           // string manipulation utilities
    "time"              // timeouts and cookie expiries

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/iliyamo/online-market/internal/auth"       // auth core services
    "github.com/iliyamo/online-market/internal/config"     // app configuration
    "github.com/iliyamo/online-market/internal/repository" // user collaborator
)

// refreshCookieName is the cookie carrying the refresh token between
// rotations.  HttpOnly always; SameSite/Secure follow configuration.
const refreshCookieName = "refresh_token"

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Cfg       config.Config
    OTP       *auth.OTPService
    Gate      *auth.LoginGate
    Refresher *auth.RefreshService
    Sessions  *auth.SessionStore
    Users     *repository.UserRepo
}

func NewAuthHandler(cfg config.Config, otp *auth.OTPService, gate *auth.LoginGate, refresher *auth.RefreshService, sessions *auth.SessionStore, users *repository.UserRepo) *AuthHandler {
    return &AuthHandler{Cfg: cfg, OTP: otp, Gate: gate, Refresher: refresher, Sessions: sessions, Users: users}
}

// ----- DTOs -----

type otpReq struct {
    Channel    string `json:"channel"`    // "sms" | "email"
    Identifier string `json:"identifier"` // phone number or email address
    Purpose    string `json:"purpose"`    // defaults to "register"
}
type otpVerifyReq struct {
    Channel    string `json:"channel"`
    Identifier string `json:"identifier"`
    Code       string `json:"code"`
    Purpose    string `json:"purpose"`
}
type loginReq struct {
    Identifier string `json:"identifier"`
    Password   string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}
type passwordReq struct {
    Ticket   string `json:"ticket"`
    Password string `json:"password"`
}

// writeErr maps a core failure onto the HTTP contract.  Taxonomy errors
// carry their status and machine code; anything else is a 500 with no
// detail leaked.
func writeErr(c echo.Context, err error) error {
    if e := auth.AsError(err); e != nil {
        if e.RetryAfter > 0 {
            c.Response().Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
        }
        return c.JSON(e.Status, echo.Map{"error": e.Code, "message": e.Message})
    }
    c.Logger().Errorf("auth: internal error: %v", err)
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal"})
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

func normalizePurpose(p string) string {
    p = strings.TrimSpace(strings.ToLower(p))
    if p == "" {
        return auth.PurposeRegister
    }
    return p
}

func validChannel(ch string) bool { return ch == auth.ChannelSMS || ch == auth.ChannelEmail }

// ----- OTP endpoints -----

// RequestOTP issues a one-time code, or reports the live one while the
// resend cooldown holds.
func (h *AuthHandler) RequestOTP(c echo.Context) error {
    var req otpReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if !validChannel(req.Channel) || strings.TrimSpace(req.Identifier) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "channel/identifier required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    status, err := h.OTP.RequestCode(ctx, req.Channel, req.Identifier, normalizePurpose(req.Purpose), c.RealIP())
    if err != nil {
        return writeErr(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": status})
}

// ResendOTP re-issues a code.  Same terminal behavior as RequestOTP; the
// endpoint exists to express caller intent.
func (h *AuthHandler) ResendOTP(c echo.Context) error {
    var req otpReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if !validChannel(req.Channel) || strings.TrimSpace(req.Identifier) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "channel/identifier required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    status, err := h.OTP.ResendCode(ctx, req.Channel, req.Identifier, normalizePurpose(req.Purpose), c.RealIP())
    if err != nil {
        return writeErr(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": status})
}

// VerifyOTP checks a submitted code and returns a one-time ticket for the
// credential-set step.
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
    var req otpVerifyReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if !validChannel(req.Channel) || strings.TrimSpace(req.Identifier) == "" || strings.TrimSpace(req.Code) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "channel/identifier/code required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    outcome, err := h.OTP.VerifyCode(ctx, req.Channel, req.Identifier, strings.TrimSpace(req.Code), normalizePurpose(req.Purpose), c.RealIP())
    if err != nil {
        return writeErr(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": outcome})
}

// SetPassword redeems a one-time ticket for a credential set: a fresh
// account for set-password tickets, a replaced hash (plus bulk logout) for
// reset-password tickets.
func (h *AuthHandler) SetPassword(c echo.Context) error {
    var req passwordReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if strings.TrimSpace(req.Ticket) == "" || len(req.Password) < 8 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket and password (min 8 chars) required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    payload, err := h.OTP.RedeemTicket(ctx, strings.TrimSpace(req.Ticket))
    if err != nil {
        return writeErr(c, err)
    }

    u, err := h.Users.GetByIdentifier(ctx, payload.Identifier)
    switch {
    case err == repository.ErrUserNotFound:
        if payload.Purpose == auth.PurposePasswordReset {
            // Account vanished between request and redemption; the
            // ticket is already burned, nothing to reset.
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_invalid", "message": "ticket is invalid or no longer valid"})
        }
        if _, err := h.Users.Create(ctx, payload.Channel, payload.Identifier, req.Password, h.Cfg.BcryptCost); err != nil {
            return writeErr(c, err)
        }
    case err != nil:
        return writeErr(c, err)
    default:
        if err := h.Users.SetPassword(ctx, u.ID, req.Password, h.Cfg.BcryptCost); err != nil {
            return writeErr(c, err)
        }
        if payload.Purpose == auth.PurposePasswordReset {
            // A reset implies compromise; drop every live session.
            if err := h.Refresher.RevokeAll(ctx, u.ID); err != nil {
                c.Logger().Warnf("auth: revoke-all after reset failed for user=%d: %v", u.ID, err)
            }
        }
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// ----- Login / refresh / logout -----

// Login authenticates credentials, opens a device session and returns an
// access token with the rotated refresh cookie.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "identifier/password required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    userID, err := h.Gate.Login(ctx, req.Identifier, req.Password)
    if err != nil {
        return writeErr(c, err)
    }

    sess, err := h.Sessions.Create(ctx, userID, c.RealIP(), c.Request().UserAgent())
    if err != nil {
        return writeErr(c, err)
    }
    pair, err := h.Refresher.IssueTokens(ctx, userID, sess.SessionID)
    if err != nil {
        return writeErr(c, err)
    }

    c.SetCookie(h.refreshCookie(pair.RefreshToken, pair.RefreshExpires))
    return c.JSON(http.StatusOK, echo.Map{"accessToken": pair.AccessToken})
}

// Refresh rotates the refresh token presented via cookie or body and
// returns a fresh access token.  Replayed tokens fail with 401.
func (h *AuthHandler) Refresh(c echo.Context) error {
    raw, ok := h.refreshTokenFrom(c)
    if !ok {
        return nil // response already written
    }
    if raw == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token_invalid", "message": "refresh token required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    pair, err := h.Refresher.Refresh(ctx, raw)
    if err != nil {
        return writeErr(c, err)
    }
    c.SetCookie(h.refreshCookie(pair.RefreshToken, pair.RefreshExpires))
    return c.JSON(http.StatusOK, echo.Map{"accessToken": pair.AccessToken})
}

// Logout revokes the presented refresh token (cookie or body) and clears
// the cookie.  Always answers success: a missing, expired or already
// revoked token leaves the caller in exactly the state they asked for.
func (h *AuthHandler) Logout(c echo.Context) error {
    // Unlike Refresh, malformed input is not an error here; it simply
    // leaves nothing to revoke.
    raw := ""
    if ck, err := c.Cookie(refreshCookieName); err == nil {
        raw = ck.Value
    }
    if raw == "" {
        var body refreshReq
        _ = c.Bind(&body)
        raw = strings.TrimSpace(body.RefreshToken)
    }

    if raw != "" {
        ctx, cancel := reqCtx(c)
        defer cancel()
        h.Refresher.Revoke(ctx, raw)
    }

    c.SetCookie(h.clearedRefreshCookie())
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// refreshTokenFrom pulls the refresh token from the cookie first, then the
// JSON body.  A body with the wrong content type is a 400 per the refresh
// contract; an absent body is fine when the cookie is present.  Returns
// ok=false when a failure response has already been written.
func (h *AuthHandler) refreshTokenFrom(c echo.Context) (string, bool) {
    if ck, err := c.Cookie(refreshCookieName); err == nil && ck.Value != "" {
        return ck.Value, true
    }
    req := c.Request()
    if req.ContentLength == 0 {
        return "", true
    }
    if ct := req.Header.Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
        _ = c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported content type"})
        return "", false
    }
    var body refreshReq
    if err := c.Bind(&body); err != nil {
        _ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
        return "", false
    }
    return strings.TrimSpace(body.RefreshToken), true
}

// ----- Cookie contract -----

// refreshCookie builds the HttpOnly refresh cookie.  SameSite=None without
// Secure is invalid per the cookie spec, so that combination is corrected
// to Secure here rather than trusting deployment config.
func (h *AuthHandler) refreshCookie(token string, expires time.Time) *http.Cookie {
    sameSite := http.SameSiteLaxMode
    secure := h.Cfg.CookieSecure
    switch strings.ToLower(h.Cfg.CookieSameSite) {
    case "strict":
        sameSite = http.SameSiteStrictMode
    case "none":
        sameSite = http.SameSiteNoneMode
        secure = true
    }
    return &http.Cookie{
        Name:     refreshCookieName,
        Value:    token,
        Path:     h.Cfg.CookiePath,
        Expires:  expires,
        MaxAge:   int(time.Until(expires) / time.Second),
        HttpOnly: true,
        Secure:   secure,
        SameSite: sameSite,
    }
}

func (h *AuthHandler) clearedRefreshCookie() *http.Cookie {
    ck := h.refreshCookie("", time.Unix(0, 0))
    ck.MaxAge = -1
    return ck
}

// ----- Protected endpoints -----

// Me returns the authenticated principal's identity and roles.
func (h *AuthHandler) Me(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{
        "user_id": c.Get("user_id"),
        "roles":   c.Get("roles"),
    })
}

// ListSessions returns the caller's live device sessions.
func (h *AuthHandler) ListSessions(c echo.Context) error {
    userID, ok := c.Get("user_id").(uint64)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    sessions, err := h.Sessions.List(ctx, userID)
    if err != nil {
        return writeErr(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": sessions})
}

// RevokeSession logs one of the caller's devices out.
func (h *AuthHandler) RevokeSession(c echo.Context) error {
    userID, ok := c.Get("user_id").(uint64)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    sessionID := c.Param("id")
    if sessionID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    if err := h.Refresher.RevokeSession(ctx, userID, sessionID); err != nil {
        return writeErr(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}
