package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret        string
	Issuer        string
	TokenDuration time.Duration
}

// Claims are the custom claims carried by chat tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens signed with a shared secret. The token's
// user is authoritative; a user id sent next to it must agree.
type JWTProvider struct {
	config JWTConfig
	now    func() time.Time
}

func NewJWTProvider(config JWTConfig) *JWTProvider {
	if config.TokenDuration <= 0 {
		config.TokenDuration = time.Hour
	}
	return &JWTProvider{config: config, now: time.Now}
}

// IssueToken signs a token for userID. The chat server only verifies tokens;
// issuing lives here for the token subcommand and for tests.
func (p *JWTProvider) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserID
	}

	now := p.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.config.Secret))
}

func (p *JWTProvider) Verify(ctx context.Context, claim Claim) (string, error) {
	if claim.Token == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(p.now)}
	if p.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(claim.Token, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(p.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return "", ErrInvalidToken
	}
	if claim.UserID != "" && claim.UserID != subject {
		return "", ErrSubjectMismatch
	}
	return subject, nil
}
