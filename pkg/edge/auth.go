package edge

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cogforge/coc/core"
)

// Role is a peer's authorization level. admin implies read and write, per
// the role-authorization rule in the request pipeline.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

// Claims is the JWT payload this service expects. PeerID identifies the
// caller for breaker/registry lookups; Role drives authorization.
type Claims struct {
	jwt.RegisteredClaims
	PeerID string `json:"peer_id"`
	Role   Role   `json:"role"`
}

// Satisfies reports whether a claim's role grants the requested role,
// applying the admin-implies-read-and-write rule.
func (c Claims) Satisfies(required Role) bool {
	if required == "" {
		return true
	}
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == required
}

// JWTValidator validates bearer tokens against a shared signing secret.
// Grounded on the teacher's middleware.go wrapping pattern; the signing
// mechanism itself has no teacher analogue and is built from
// golang-jwt/jwt/v5, the dependency already pinned in the module's stack.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies a bearer token string, returning its claims.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, core.ErrDecryptionFailed
	}
	return claims, nil
}

// extractBearer pulls the token out of an Authorization: Bearer <token>
// header, returning "" if the header is absent or malformed.
func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// requiresJWT reports whether a path requires JWT bearer authentication,
// per the exemption list in the request pipeline: health, metrics, and
// the discovery-token-guarded peer endpoints are exempt.
func requiresJWT(path string) bool {
	switch path {
	case "/health", "/metrics", "/api/peers", "/api/register":
		return false
	}
	return true
}

func isDiscoveryPath(path string) bool {
	return path == "/api/peers" || path == "/api/register"
}
