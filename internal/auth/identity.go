package auth

import (
	"Roomchat/internal/model"
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingUserID   = errors.New("user id is required")
	ErrMissingToken    = errors.New("token is required")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
	ErrSubjectMismatch = errors.New("token subject does not match user id")
	ErrUnknownUser     = errors.New("unknown user")
	ErrInactiveUser    = errors.New("user is not active")
)

// Claim is what a client presents to prove who it is.
type Claim struct {
	UserID string
	Token  string
}

// IdentityProvider turns a claim into a stable user id or rejects it.
type IdentityProvider interface {
	Verify(ctx context.Context, claim Claim) (string, error)
}

// UserLookup is the part of the user repository the directory provider needs.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// DirectoryProvider accepts any user id that names an active user record.
// It trusts the client's claim and is meant for deployments behind a gateway
// that has already authenticated the caller.
type DirectoryProvider struct {
	users UserLookup
}

func NewDirectoryProvider(users UserLookup) *DirectoryProvider {
	return &DirectoryProvider{users: users}
}

func (p *DirectoryProvider) Verify(ctx context.Context, claim Claim) (string, error) {
	userID := strings.TrimSpace(claim.UserID)
	if userID == "" {
		return "", ErrMissingUserID
	}

	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return "", ErrUnknownUser
	}
	if !user.IsActive {
		return "", ErrInactiveUser
	}
	return user.UserID, nil
}

// IsRejection reports whether err means the claim was refused, as opposed to
// the provider being unable to decide.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrMissingUserID, ErrMissingToken, ErrInvalidToken, ErrExpiredToken,
		ErrSubjectMismatch, ErrUnknownUser, ErrInactiveUser,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
