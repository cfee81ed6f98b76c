// Package auth issues and verifies the bearer tokens that carry a caller's
// identity. Tokens are obtained by signing a server-issued challenge with
// the wallet key of the identity (or of a delegated session key).
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
)

const issuer = "opinionsd"

var (
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrSignatureMismatch = errors.New("auth: signature does not match address")
)

// Claims are the JWT claims of an access token. Subject is the
// checksummed identity the token acts as.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	Identity    string    `json:"identity"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service issues HS256 tokens after wallet-signature login.
type Service struct {
	secret     []byte
	ttl        time.Duration
	challenges *crypto.ChallengeSigner
	now        func() time.Time
}

// NewService creates a Service. tokenTTL bounds access token lifetime and
// challengeTTL bounds the gap between Challenge and Login.
func NewService(secret string, tokenTTL, challengeTTL time.Duration) *Service {
	return &Service{
		secret:     []byte(secret),
		ttl:        tokenTTL,
		challenges: crypto.NewChallengeSigner(secret, challengeTTL),
		now:        time.Now,
	}
}

// Challenge returns the text address must personal_sign to log in.
func (s *Service) Challenge(address string) (string, error) {
	addr, err := crypto.NormalizeAddress(address)
	if err != nil {
		return "", fmt.Errorf("auth: challenge: %w", err)
	}
	return s.challenges.Issue(addr)
}

// Login checks that signature is address's signature over a live challenge
// and issues a token for the address.
func (s *Service) Login(address, challenge, signature string) (Token, error) {
	addr, err := crypto.NormalizeAddress(address)
	if err != nil {
		return Token{}, fmt.Errorf("auth: login: %w", err)
	}
	if _, err := s.challenges.Check(challenge, addr); err != nil {
		return Token{}, fmt.Errorf("auth: login: %w", err)
	}
	signer, err := crypto.RecoverText(challenge, signature)
	if err != nil {
		return Token{}, fmt.Errorf("auth: login: %w: %v", ErrSignatureMismatch, err)
	}
	if signer != addr {
		return Token{}, ErrSignatureMismatch
	}
	return s.Issue(addr, false)
}

// Issue signs a token for identity without a login round trip. It backs the
// operator CLI.
func (s *Service) Issue(identity string, admin bool) (Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{AccessToken: signed, Identity: identity, ExpiresAt: exp.UTC()}, nil
}

// Verify parses a token and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

type ctxKey struct{}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Identity string
	Admin    bool
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the caller attached by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.Identity != ""
}
