package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Domain selects the secret, issuer and audience a token is signed for.
// A token signed in one domain never verifies in the other.
type Domain int

const (
	AccessDomain Domain = iota
	RefreshDomain
)

func (d Domain) String() string {
	if d == RefreshDomain {
		return "refresh"
	}
	return "access"
}

// Payload is what gets signed into a token.
type Payload struct {
	UserID    int64
	Email     string
	Role      entity.Role
	SessionID string
}

// Claims is the decoded form of a token.
type Claims struct {
	UserID int64       `json:"uid"`
	Email  string      `json:"email"`
	Role   entity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the public view of the authenticated user.
type Identity struct {
	ID    int64       `json:"id"`
	Email string      `json:"email"`
	Role  entity.Role `json:"role"`
}

func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Email: c.Email, Role: c.Role}
}

// Signer issues and checks HS256 tokens for both domains.
type Signer struct {
	access  config.TokenDomain
	refresh config.TokenDomain
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewSigner(access, refresh config.TokenDomain, logger *zap.SugaredLogger) *Signer {
	return &Signer{access: access, refresh: refresh, logger: logger, now: time.Now}
}

func (s *Signer) domain(d Domain) config.TokenDomain {
	if d == RefreshDomain {
		return s.refresh
	}
	return s.access
}

// TTL is the lifetime of tokens of domain d.
func (s *Signer) TTL(d Domain) time.Duration { return s.domain(d).TTL }

// Sign returns a compact token expiring TTL(d) from now.
func (s *Signer) Sign(p Payload, d Domain) (string, error) {
	cfg := s.domain(d)
	now := s.now()
	claims := Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        p.SessionID,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", d, err)
	}
	return signed, nil
}

// Parse validates signature, algorithm, issuer, audience and expiry.
// Failures are ErrTokenExpired or ErrTokenInvalid.
func (s *Signer) Parse(token string, d Domain) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	cfg := s.domain(d)
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Verify is Parse with every failure collapsed to nil.
func (s *Signer) Verify(token string, d Domain) *Claims {
	claims, err := s.Parse(token, d)
	if err != nil {
		s.logger.Debugw("token rejected", "domain", d, "error", err)
		return nil
	}
	return claims
}
