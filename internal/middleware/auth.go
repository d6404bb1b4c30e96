package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/modules/serializer"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

var ErrInvalidToken = errors.New("invalid token")

// UserClaims are the claims accepted on collaboration tokens. The user id is
// the subject.
type UserClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// TokenVerifier validates HS256 user tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg *config.Config) *TokenVerifier {
	return &TokenVerifier{secret: []byte(cfg.Auth.JWTSecret), issuer: cfg.Auth.JWTIssuer}
}

// Verify parses raw and returns the user id it was issued for.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	if len(v.secret) == 0 || raw == "" {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &UserClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// bearerToken reads the token from the Authorization header. Browsers cannot
// set headers on a WebSocket handshake, so the token query parameter is
// accepted as well.
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// UserAuth returns a middleware that authenticates requests with a user JWT
// and stores the user id under UserIDKey.
func UserAuth(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, authSpan := otel.Tracer("middleware").Start(c.Request.Context(), "user_auth",
			trace.WithAttributes(attribute.String("middleware", "user_auth")))
		defer authSpan.End()

		userID, err := v.Verify(bearerToken(c))
		if err != nil {
			authSpan.SetAttributes(attribute.Bool("authenticated", false))
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}

		// tag the request span so traces can be filtered per user
		rootSpan := trace.SpanFromContext(c.Request.Context())
		if rootSpan.SpanContext().IsValid() {
			rootSpan.SetAttributes(attribute.String("user_id", userID))
		}
		authSpan.SetAttributes(
			attribute.String("user_id", userID),
			attribute.Bool("authenticated", true),
		)

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
