package config // package config loads application configuration from environment variables

import (
    "log"      // log is used to report configuration errors and halt execution
    "os"       // os provides access to environment variables
    "strconv"  // strconv converts strings to other types
    "strings"  // strings helps parse list-valued variables
    "time"     // time.Duration fields for TTLs and windows
)

// Config holds all runtime configuration values.  It is constructed exactly
// once in main and passed by value into each component constructor; no
// component reads ambient environment state at call time.  Secrets for the
// three token families are independent so a leaked ticket secret cannot be
// used to forge refresh tokens.
type Config struct {
    Env  string // application environment (e.g. "dev", "prod")
    Port string // HTTP port to listen on

    DBUser string // database username
    DBPass string // database password (optional)
    DBHost string // database host address
    DBPort string // database port number
    DBName string // database name

    AccessSecret  string        // secret used to sign access tokens
    RefreshSecret string        // secret used to sign refresh tokens
    TicketSecret  string        // secret used to sign one-time tickets
    AccessTTL     time.Duration // access token lifetime (minutes scale)
    RefreshTTL    time.Duration // refresh token lifetime (days scale)
    TicketTTL     time.Duration // one-time ticket lifetime

    OTPTTL         time.Duration // how long a generated code stays valid
    OTPCooldown    time.Duration // minimum delay between code sends per tuple
    OTPMaxAttempts int           // failed verify attempts before lockout
    OTPMaxSends    int           // code sends per tuple while a record is live
    OTPBlockTTL    time.Duration // lockout duration once attempts are exhausted

    OTPRequestMax    int           // request-code attempts per identifier window
    OTPRequestWindow time.Duration // request-code window length
    OTPRequestIPMax  int           // request-code attempts per IP window
    OTPVerifyMax     int           // verify attempts per identifier window
    OTPVerifyWindow  time.Duration // verify window length
    OTPVerifyIPMax   int           // verify attempts per IP window
    RefreshMax       int           // refresh calls per token subject window
    RefreshWindow    time.Duration // refresh window length

    CookieSameSite string   // "lax", "strict" or "none"
    CookieSecure   bool     // Secure flag on the refresh cookie
    CookiePath     string   // cookie path scope
    AllowedOrigins []string // origins accepted on the refresh endpoint

    BcryptCost int // bcrypt cost for password hashing
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  Optional tuning
// values fall back to sensible defaults via the env* helpers in
// ratelimit.go.
func Load() Config {
    return Config{
        Env:  must("APP_ENV"),
        Port: must("APP_PORT"),

        DBUser: must("DB_USER"),
        DBPass: os.Getenv("DB_PASS"), // empty allowed
        DBHost: must("DB_HOST"),
        DBPort: must("DB_PORT"),
        DBName: must("DB_NAME"),

        AccessSecret:  must("ACCESS_TOKEN_SECRET"),
        RefreshSecret: must("REFRESH_TOKEN_SECRET"),
        TicketSecret:  must("TICKET_SECRET"),
        AccessTTL:     time.Duration(mustInt("ACCESS_TOKEN_TTL_MIN")) * time.Minute,
        RefreshTTL:    time.Duration(mustInt("REFRESH_TOKEN_TTL_DAYS")) * 24 * time.Hour,
        TicketTTL:     envDur("TICKET_TTL", 10*time.Minute),

        OTPTTL:         envDur("OTP_TTL", 5*time.Minute),
        OTPCooldown:    envDur("OTP_RESEND_COOLDOWN", time.Minute),
        OTPMaxAttempts: envInt("OTP_MAX_ATTEMPTS", 5),
        OTPMaxSends:    envInt("OTP_MAX_SENDS", 5),
        OTPBlockTTL:    envDur("OTP_BLOCK_TTL", 15*time.Minute),

        OTPRequestMax:    envInt("OTP_REQUEST_MAX", 5),
        OTPRequestWindow: envDur("OTP_REQUEST_WINDOW", 10*time.Minute),
        OTPRequestIPMax:  envInt("OTP_REQUEST_IP_MAX", 20),
        OTPVerifyMax:     envInt("OTP_VERIFY_MAX", 10),
        OTPVerifyWindow:  envDur("OTP_VERIFY_WINDOW", 10*time.Minute),
        OTPVerifyIPMax:   envInt("OTP_VERIFY_IP_MAX", 40),
        RefreshMax:       envInt("REFRESH_MAX", 30),
        RefreshWindow:    envDur("REFRESH_WINDOW", time.Minute),

        CookieSameSite: envStr("COOKIE_SAMESITE", "lax"),
        CookieSecure:   envBool("COOKIE_SECURE", false),
        CookiePath:     envStr("COOKIE_PATH", "/"),
        AllowedOrigins: parseOrigins(os.Getenv("ALLOWED_ORIGINS")),

        BcryptCost: mustInt("BCRYPT_COST"),
    }
}

// parseOrigins splits a comma separated origin list, dropping empty entries.
func parseOrigins(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
