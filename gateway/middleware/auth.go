package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures bearer-token authentication for the HTTP surface.
// PrincipalClaim/OrgClaim/ActingAsClaim name the JWT claims carrying the
// acting principal, its organization, and an optional delegated principal
// it is exercising (spec.md §4.3's delegation-chain check reads this).
type AuthConfig struct {
	Enabled         bool
	HMACSecret      string
	Issuer          string
	Audience        string
	PrincipalClaim  string
	OrgClaim        string
	ActingAsClaim   string
	OptionalPaths   []string
	AllowAnonymous  bool
	ClockSkew       time.Duration
}

type contextKey string

const (
	ContextKeyPrincipalID contextKey = "gateway.principal_id"
	ContextKeyOrgID       contextKey = "gateway.organization_id"
	ContextKeyActingAs    contextKey = "gateway.acting_as"
)

// Principal carries the identity the Authenticator resolved from a bearer
// token, unpacked into request context so downstream handlers never touch
// raw JWT claims.
type Principal struct {
	PrincipalID    string
	OrganizationID string
	ActingAs       string
}

type Authenticator struct {
	cfg    AuthConfig
	logger *log.Logger
	secret []byte
	once   sync.Once
}

func NewAuthenticator(cfg AuthConfig, logger *log.Logger) *Authenticator {
	if logger == nil {
		logger = log.Default()
	}
	auth := &Authenticator{cfg: cfg, logger: logger}
	auth.once.Do(func() {
		auth.secret = []byte(strings.TrimSpace(cfg.HMACSecret))
		if auth.cfg.PrincipalClaim == "" {
			auth.cfg.PrincipalClaim = "sub"
		}
		if auth.cfg.OrgClaim == "" {
			auth.cfg.OrgClaim = "org_id"
		}
		if auth.cfg.ActingAsClaim == "" {
			auth.cfg.ActingAsClaim = "acting_as"
		}
		if auth.cfg.ClockSkew <= 0 {
			auth.cfg.ClockSkew = 2 * time.Minute
		}
	})
	return auth
}

func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if a.isOptional(r.URL.Path) && a.cfg.AllowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Printf("auth: token validation failed: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
				a.logger.Printf("auth: claim validation failed: %v", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			principal := a.extractPrincipal(claims)
			if principal.PrincipalID == "" {
				http.Error(w, "token missing principal claim", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPrincipalID, principal.PrincipalID)
			ctx = context.WithValue(ctx, ContextKeyOrgID, principal.OrganizationID)
			ctx = context.WithValue(ctx, ContextKeyActingAs, principal.ActingAs)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func (a *Authenticator) extractPrincipal(claims jwt.MapClaims) Principal {
	return Principal{
		PrincipalID:    stringClaim(claims, a.cfg.PrincipalClaim),
		OrganizationID: stringClaim(claims, a.cfg.OrgClaim),
		ActingAs:       stringClaim(claims, a.cfg.ActingAsClaim),
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if name == "" {
		return ""
	}
	v, ok := claims[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		if int64(exp) < time.Now().Unix() {
			return errors.New("token expired")
		}
	}
	return nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PrincipalFromContext reads back what Authenticator.Middleware stored, for
// use by httpapi handlers building a ResolveAndProposeInput.
func PrincipalFromContext(ctx context.Context) Principal {
	principalID, _ := ctx.Value(ContextKeyPrincipalID).(string)
	orgID, _ := ctx.Value(ContextKeyOrgID).(string)
	actingAs, _ := ctx.Value(ContextKeyActingAs).(string)
	return Principal{PrincipalID: principalID, OrganizationID: orgID, ActingAs: actingAs}
}
