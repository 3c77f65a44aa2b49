// Package token issues and verifies the bearer JWTs that carry a caller's
// restaurant and role.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
)

var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
	ErrMissingToken = errors.New("missing_token")
)

const leeway = 30 * time.Second

type Claims struct {
	RestaurantID string `json:"restaurant_id"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	RestaurantID snowflake.ID
	Actor        restaurantctx.Actor
	ExpiresAt    time.Time
}

type Verifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewVerifier(cfg config.Config, clk clock.Clock) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Verifier{secret: []byte(secret), issuer: cfg.AuthJWTIssuer, clock: clk}, nil
}

// Issue signs an HS256 token for id valid for ttl.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.RestaurantID == 0 || strings.TrimSpace(id.Actor.UserID) == "" {
		return "", ErrInvalidToken
	}
	now := v.clock.Now()
	claims := Claims{
		RestaurantID: id.RestaurantID.String(),
		Role:         string(id.Actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Actor.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks signature, expiry and issuer and resolves the identity.
// Tokens never carry the internal system role.
func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}

	restaurantID, err := snowflake.ParseString(strings.TrimSpace(claims.RestaurantID))
	if err != nil || restaurantID == 0 {
		return Identity{}, ErrInvalidToken
	}
	role, ok := restaurantctx.ParseRole(claims.Role)
	if !ok || role == restaurantctx.RoleSystem {
		return Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		RestaurantID: restaurantID,
		Actor:        restaurantctx.Actor{UserID: subject, Role: role},
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// FromRequest extracts a bearer token from an Authorization header value,
// falling back to the access_token query value browsers use for sockets.
func FromRequest(header, query string) string {
	if scheme, value, ok := strings.Cut(strings.TrimSpace(header), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(query)
}
