package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims decodes the token's claims segment without verifying the signature.
// Verification is the notes service's job; the client only reads identity.
func claims(token string) (jwt.MapClaims, bool) {
	if token == "" {
		return nil, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, false
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	return mc, ok
}

// SessionIDFromToken extracts the session identity from a bearer token.
// It reads the "sid" claim, then "sessionId". Undecodable tokens and tokens
// without either claim yield "".
func SessionIDFromToken(token string) string {
	mc, ok := claims(token)
	if !ok {
		return ""
	}
	for _, key := range []string{"sid", "sessionId"} {
		if v, ok := mc[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// TokenExpiry returns the "exp" claim of token.
func TokenExpiry(token string) (time.Time, bool) {
	mc, ok := claims(token)
	if !ok {
		return time.Time{}, false
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
