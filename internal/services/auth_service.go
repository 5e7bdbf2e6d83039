package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-inbox/config"
	inbox_errors "marketplace-inbox/pkg/errors"
	"marketplace-inbox/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService verifies access tokens issued by the marketplace. Tokens are
// never minted here for real users; SignAccessToken exists for tooling and
// tests that share the secret.
type AuthService struct {
	jwtSecret []byte
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{jwtSecret: []byte(cfg.JWTSecret)}
}

// AccessClaims carries the marketplace user id in "sub".
type AccessClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c AccessClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, inbox_errors.ErrUnauthorized
	}
	return id, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, inbox_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, inbox_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, inbox_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, inbox_errors.ErrUnauthorized
	}
	if _, err := claims.UserID(); err != nil {
		return AccessClaims{}, err
	}

	return *claims, nil
}

func (s *AuthService) SignAccessToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// HTTPStatus maps service and inbox errors to a status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, inbox_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, inbox_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, inbox_errors.ErrNotFound), errors.Is(err, inbox_errors.ErrNoSession):
		return 404
	case errors.Is(err, inbox_errors.ErrConflict), errors.Is(err, inbox_errors.ErrSendInFlight):
		return 409
	case errors.Is(err, inbox_errors.ErrRateLimited):
		return 429
	case errors.Is(err, inbox_errors.ErrServiceUnavailable):
		return 502
	case errors.Is(err, inbox_errors.ErrClosed):
		return 503
	default:
		return 500
	}
}

// ErrorCode is the machine readable code sent alongside HTTPStatus.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, inbox_errors.ErrInvalidInput):
		return "INVALID_REQUEST"
	case errors.Is(err, inbox_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, inbox_errors.ErrNoSession):
		return "NO_SESSION"
	case errors.Is(err, inbox_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, inbox_errors.ErrSendInFlight):
		return "SEND_IN_FLIGHT"
	case errors.Is(err, inbox_errors.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, inbox_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, inbox_errors.ErrServiceUnavailable), errors.Is(err, inbox_errors.ErrClosed):
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

type ctxKey string

var tokenKey ctxKey = "access_token"

// WithUserContext stores the user id under the logger's key so request logs
// carry it.
func WithUserContext(ctx context.Context, userID int64, token string) context.Context {
	ctx = context.WithValue(ctx, logger.UserIdKey, userID)
	return context.WithValue(ctx, tokenKey, token)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(logger.UserIdKey).(int64)
	return userID, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}
