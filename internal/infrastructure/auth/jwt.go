package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iho/custody/internal/domain"
)

// Issuer is the iss claim of every token this service mints.
const Issuer = "custody"

// leeway absorbs clock skew between the issuing and verifying nodes.
const leeway = 5 * time.Second

// Claims carries the caller's role; the subject is the caller's address.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate is run by the parser after the registered claims check out.
func (c Claims) Validate() error {
	if !c.Role.IsValid() {
		return domain.ErrInvalidRole
	}
	return domain.Address(c.Subject).Validate()
}

// Principal returns the caller identified by the claims.
func (c *Claims) Principal() domain.Principal {
	return domain.Principal{Address: domain.Address(c.Subject), Role: c.Role}
}

// JWTManager signs and verifies HS256 caller tokens.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTManager issues tokens valid for ttl.
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	m := &JWTManager{secret: []byte(secret), ttl: ttl, now: time.Now}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// Generate signs a token for p.
func (m *JWTManager) Generate(p domain.Principal) (string, error) {
	if err := p.Address.Validate(); err != nil {
		return "", err
	}
	if !p.Role.IsValid() {
		return "", domain.ErrInvalidRole
	}

	now := m.now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   p.Address.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}).SignedString(m.secret)
}

// Verify checks the signature, issuer, lifetime and caller claims of a
// token. It returns ErrExpiredToken, ErrInvalidRole or ErrInvalidToken.
func (m *JWTManager) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case err == nil:
		return &claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrExpiredToken
	case errors.Is(err, domain.ErrInvalidRole):
		return nil, domain.ErrInvalidRole
	default:
		return nil, domain.ErrInvalidToken
	}
}
