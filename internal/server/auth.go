package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
)

type AuthConfig struct {
	JWTSecret     string
	Authenticator auth.Authenticator
	TokenTTL      time.Duration
	Logger        *zap.Logger
	// Now is overridden in tests.
	Now func() time.Time
}

func (c AuthConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c AuthConfig) ttl() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return 8 * time.Hour
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p, nil
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if p, ok := principalFromContext(req.Context()); ok && p.UserID != "" {
			return p, nil
		}
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requirePermission returns the caller when their role grants perm.
func requirePermission(ctx context.Context, perm string) (auth.Principal, huma.StatusError) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return p, authErr
	}
	if err := p.Require(perm); err != nil {
		return p, handleError(err)
	}
	return p, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func signToken(secret string, p auth.Principal, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	expires := now.Add(ttl)
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:       p.Email,
		Name:        p.Name,
		Roles:       []string{string(p.Role)},
		Permissions: p.Permissions,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return token, expires, err
}

func authenticateJWT(token, secret string, now time.Time) (auth.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.New("subject claim required")
	}
	p := auth.Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Name:        claims.Name,
		Permissions: claims.Permissions,
	}
	if len(claims.Roles) > 0 {
		p.Role = domain.Role(claims.Roles[0])
	}
	return p, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func publicPaths(basePath string) []string {
	return []string{path.Join(basePath, "health"), path.Join(basePath, "auth/login"), path.Join(basePath, "openapi.json")}
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret, cfg.now())
			if err != nil {
				cfg.Logger.Debug("bearer token rejected", zap.Error(err), zap.String("path", req.URL.Path))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerAuth(api huma.API, e *engine.Engine, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if cfg.Authenticator == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "service_unavailable", "authentication is not configured", nil)
		}
		p, err := cfg.Authenticator.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			cfg.Logger.Info("login refused", zap.String("email", strings.ToLower(strings.TrimSpace(input.Body.Email))), zap.Error(err))
			return nil, handleError(err)
		}
		token, expires, err := signToken(cfg.JWTSecret, p, cfg.now(), cfg.ttl())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:     token,
			ExpiresAt: expires.UTC().Format(time.RFC3339),
			User:      principalResponse(p),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PrincipalResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(p.Permissions) == 0 && e.Config != nil {
			p.Permissions = e.Config.Permissions(string(p.Role))
		}
		return &struct {
			Body PrincipalResponse `json:"body"`
		}{Body: principalResponse(p)}, nil
	})
}
