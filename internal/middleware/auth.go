package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"upscaler/internal/domain"
)

// SupabaseClaims are the claims Supabase puts in its access tokens.
type SupabaseClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type identityKey struct{}

const supabaseAudience = "authenticated"

// KeySource resolves asymmetric signing keys by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// Verifier checks Supabase access tokens. HS256 tokens use the project
// secret; RS256 and ES256 tokens need a KeySource.
type Verifier struct {
	secret  []byte
	issuer  string
	keys    KeySource
	timeout time.Duration
	now     func() time.Time
}

// NewVerifier returns a verifier for secret. When supabaseURL is set the
// issuer must be "<supabaseURL>/auth/v1".
func NewVerifier(secret, supabaseURL string) *Verifier {
	v := &Verifier{secret: []byte(secret), timeout: 5 * time.Second, now: time.Now}
	if base := strings.TrimRight(strings.TrimSpace(supabaseURL), "/"); base != "" {
		v.issuer = base + "/auth/v1"
	}
	return v
}

// WithKeys enables asymmetric tokens signed by keys from ks.
func (v *Verifier) WithKeys(ks KeySource) *Verifier {
	v.keys = ks
	return v
}

func (v *Verifier) methods() []string {
	var out []string
	if len(v.secret) > 0 {
		out = append(out, jwt.SigningMethodHS256.Alg())
	}
	if v.keys != nil {
		out = append(out, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg())
	}
	return out
}

func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			return v.secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		ctx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		return v.keys.Key(ctx, kid)
	}
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	methods := v.methods()
	if len(methods) == 0 {
		return nil, errors.New("auth: no signing keys configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithAudience(supabaseAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims SupabaseClaims
	if _, err := jwt.ParseWithClaims(token, &claims, v.keyFunc(ctx), opts...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return &domain.Identity{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Auth attaches the bearer token's identity to the request context. Requests
// without a token continue anonymously; a bad token is rejected.
func Auth(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization")
				return
			}
			identity, err := v.Verify(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext returns nil for anonymous requests.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	if v, ok := ctx.Value(identityKey{}).(*domain.Identity); ok {
		return v
	}
	return nil
}

func ContextWithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	if identity == nil || strings.TrimSpace(identity.UserID) == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

// SignToken issues an HS256 token in the Supabase shape. Used by tests and
// local tooling.
func SignToken(secret string, claims SupabaseClaims) (string, error) {
	if len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{supabaseAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
