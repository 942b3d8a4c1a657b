package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/makeasinger/videogen/pkg/response"
)

const tokenIssuer = "videogen"

// AuthMiddleware verifies HS256 bearer tokens issued for this service.
type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

// Claims identify the caller. The user id travels in the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(jwtSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate validates the bearer token. WebSocket upgrades may pass the
// token as ?token= since browsers cannot set headers on them.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, problem := bearerToken(c)
		if problem != "" {
			return response.Unauthorized(c, problem)
		}

		claims := &Claims{}
		_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return m.secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return response.Unauthorized(c, "Token expired")
		case err != nil:
			return response.Unauthorized(c, "Invalid token")
		case claims.Subject == "":
			return response.Unauthorized(c, "Token has no subject")
		}

		c.Locals("userId", claims.Subject)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// bearerToken returns the token or a message describing why there is none.
func bearerToken(c *fiber.Ctx) (string, string) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if token := c.Query("token"); token != "" && strings.HasPrefix(c.Path(), "/ws/") {
			return token, ""
		}
		return "", "Missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GenerateToken issues a token for userID valid for ttl.
func (m *AuthMiddleware) GenerateToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}
