package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/SimoSabev/LynkSkill-sub001/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	OwnerKey    = "owner"
	UserTypeKey = "user_type"
)

// Claims is what the identity provider puts in the bearer token.
type Claims struct {
	UserType string `json:"user_type"`
	jwt.RegisteredClaims
}

// AuthRequired accepts HS256 bearer tokens. The subject becomes the owner
// and user_type picks the assistant partition.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			common.Abort(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}

		claims, err := ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			common.Abort(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		ut := chat.UserType(claims.UserType)
		if !ut.Valid() {
			common.Abort(c, http.StatusForbidden, 40301, "unsupported user type")
			return
		}

		c.Set(OwnerKey, claims.Subject)
		c.Set(UserTypeKey, ut)
		c.Next()
	}
}

func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// SignToken issues a token for owner. Used by tests and local tooling.
func SignToken(secret, owner string, userType chat.UserType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserType: string(userType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func OwnerFromContext(c *gin.Context) (string, chat.UserType, bool) {
	owner := c.GetString(OwnerKey)
	v, ok := c.Get(UserTypeKey)
	if !ok || owner == "" {
		return "", "", false
	}
	ut, ok := v.(chat.UserType)
	return owner, ut, ok
}
