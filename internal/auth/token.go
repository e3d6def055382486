package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrMissingToken  = errors.New("missing access token")
	ErrTokenExpired  = errors.New("access token expired")
	ErrTokenMismatch = errors.New("access token issued to another user")
)

// user number claims, in order of preference
var userNoClaims = []string{"userNo", "user-id", "sub"}

// CheckToken performs the local sanity checks on a bearer token before a
// connection is attempted. Signatures are not verified here; the broker
// and the REST service do that. Opaque (non-JWT) tokens pass as long as
// they are not empty.
func CheckToken(token string, userNo int64, now time.Time) error {
	if token == "" {
		return ErrMissingToken
	}

	parsed, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}

	if !claims.VerifyExpiresAt(now.Unix(), false) {
		return ErrTokenExpired
	}

	if tokenUserNo, ok := userNoFromClaims(claims); ok && tokenUserNo != userNo {
		return fmt.Errorf("%w: token user %d, session user %d", ErrTokenMismatch, tokenUserNo, userNo)
	}

	return nil
}

func userNoFromClaims(claims jwt.MapClaims) (int64, bool) {
	for _, name := range userNoClaims {
		switch v := claims[name].(type) {
		case float64:
			return int64(v), true
		case string:
			var n int64
			if _, err := fmt.Sscan(v, &n); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
