package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const AdminScope = "captureq:admin"

type adminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// RequireAdmin accepts HS256 bearer tokens signed with secret and carrying
// the captureq:admin scope. An empty secret disables the check, which
// config validation only allows in dev.
func RequireAdmin(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		if err := validateAdmin(key, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func validateAdmin(key []byte, authHeader string) error {
	token := bearerToken(authHeader)
	if token == "" {
		return errors.New("missing bearer token")
	}
	var claims adminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return errors.Wrap(err, "invalid token")
	}
	if !slices.Contains(strings.Fields(claims.Scope), AdminScope) {
		return errors.New("unauthorized. Admin only")
	}
	return nil
}

func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
