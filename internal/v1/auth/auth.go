// Package auth provides JWT validation for the connection handshake and the
// AuthData shape attached to authenticated clients.
package auth

import (
	"strings"
)

// Claims is the decoded JWT claim set. Arbitrary custom claims ride along
// with the registered ones.
type Claims map[string]any

// Sub returns the subject claim, which becomes the client's user ID.
func (c Claims) Sub() string {
	if s, ok := c["sub"].(string); ok {
		return s
	}
	return ""
}

// Data is the authentication payload attached to a connected client.
type Data struct {
	JWT Claims `json:"jwt"`
}

// FromClaims builds AuthData from validated custom claims.
func FromClaims(claims *CustomClaims) *Data {
	jwt := Claims{"sub": claims.Subject}
	if claims.ExpiresAt != nil {
		jwt["exp"] = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		jwt["iat"] = claims.IssuedAt.Unix()
	}
	if claims.Scope != "" {
		jwt["scope"] = claims.Scope
	}
	if claims.Name != "" {
		jwt["name"] = claims.Name
	}
	if claims.Email != "" {
		jwt["email"] = claims.Email
	}
	return &Data{JWT: jwt}
}

// TokenValidator is the capability the transport needs from this package.
type TokenValidator interface {
	ValidateToken(tokenString string) (*CustomClaims, error)
}

// ExtractFallbackUserID applies the legacy identity extraction used when no
// authenticate hook is configured: auth.userId, else auth.token, else the
// transport's connection id.
func ExtractFallbackUserID(authData map[string]any, connectionID string) string {
	if uid, ok := authData["userId"].(string); ok && uid != "" {
		return uid
	}
	if tok, ok := authData["token"].(string); ok && tok != "" {
		return tok
	}
	return connectionID
}

// SplitOrigins parses a comma-separated origin list, trimming blanks.
func SplitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
