package middleware

import (
	stderrors "errors"
	"strings"
	"time"

	constants "AlertaPiura/pkg/constant"
	"AlertaPiura/pkg/errors"
	"AlertaPiura/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = stderrors.New("invalid token")

// TokenUser is the identity carried in the "user" claim.
type TokenUser struct {
	ID  int64  `json:"id"`
	Rol string `json:"rol"`
}

// IsOperator reports whether the user may act on the operator surface.
func (u TokenUser) IsOperator() bool {
	return u.Rol == constants.RoleAdmin
}

type Claims struct {
	jwt.RegisteredClaims
	User TokenUser `json:"user"`
}

// Authenticator validates HS256 tokens issued by the user module.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for user. Login lives in the user module; this is used
// by tooling and tests.
func (a *Authenticator) Issue(user TokenUser, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		User: user,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates the signature and expiry and returns the embedded user.
func (a *Authenticator) Parse(tokenString string) (TokenUser, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return TokenUser{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.User.ID == 0 {
		return TokenUser{}, ErrInvalidToken
	}
	return claims.User, nil
}

// tokenFromRequest reads "Authorization: Bearer <t>" and falls back to the
// token query parameter used by browser sockets and event streams.
func tokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// AuthRequired rejects requests without a valid token and stores the user
// in the context.
func (a *Authenticator) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)
		if raw == "" {
			response.Error(c, errors.Unauthorized("unauthorized", "missing token"))
			return
		}
		user, err := a.Parse(raw)
		if err != nil {
			response.Error(c, errors.Unauthorized("unauthorized", err.Error()))
			return
		}
		c.Set(constants.UserField, user)
		c.Set(constants.UserIDField, user.ID)
		c.Set(constants.RoleField, user.Rol)
		c.Next()
	}
}

// OperatorRequired must run after AuthRequired.
func OperatorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, errors.Unauthorized("unauthorized", "missing user"))
			return
		}
		if !user.IsOperator() {
			response.Error(c, errors.Forbidden("forbidden", "operator role required"))
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (TokenUser, bool) {
	v, ok := c.Get(constants.UserField)
	if !ok {
		return TokenUser{}, false
	}
	u, ok := v.(TokenUser)
	return u, ok
}
