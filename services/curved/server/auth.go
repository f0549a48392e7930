package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures trader token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// TraderAuthenticator verifies HMAC-signed JWTs whose subject is the
// trader's address.
type TraderAuthenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

type traderContextKey struct{}

// TraderFromContext returns the authenticated trader address.
func TraderFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(traderContextKey{}).(common.Address)
	return addr, ok
}

// NewTraderAuthenticator constructs an authenticator from configuration.
func NewTraderAuthenticator(cfg AuthConfig, logger *slog.Logger) (*TraderAuthenticator, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil, errors.New("auth secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TraderAuthenticator{cfg: cfg, secret: []byte(secret), logger: logger}, nil
}

// Middleware rejects requests without a valid trader token.
func (a *TraderAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := parseBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		trader, err := a.Verify(token)
		if err != nil {
			a.logger.Warn("trader token rejected", "error", err)
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), traderContextKey{}, trader)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses the token and returns the trader address in its subject.
func (a *TraderAuthenticator) Verify(tokenString string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := new(jwt.RegisteredClaims)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(subject) {
		return common.Address{}, errors.New("subject is not an address")
	}
	addr := common.HexToAddress(subject)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("subject is the zero address")
	}
	return addr, nil
}

// IssueToken signs a trader token. It backs local tooling and tests.
func (a *TraderAuthenticator) IssueToken(trader common.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   trader.Hex(),
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// AdminAuthenticator guards operator endpoints with a static bearer token.
type AdminAuthenticator struct {
	token string
}

// NewAdminAuthenticator returns nil when no token is configured, which
// disables the admin routes.
func NewAdminAuthenticator(token string) *AdminAuthenticator {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &AdminAuthenticator{token: token}
}

// Middleware enforces the admin bearer token.
func (a *AdminAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeProblem(w, http.StatusNotFound, "not_found", "admin endpoints disabled")
			return
		}
		provided := []byte(parseBearerToken(r.Header.Get("Authorization")))
		if len(provided) == 0 || subtle.ConstantTimeCompare(provided, []byte(a.token)) != 1 {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	scheme, token, found := strings.Cut(trimmed, " ")
	if !found || !strings.EqualFold(strings.TrimSpace(scheme), "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
