package core

import (
	"context"
	"errors"
)

// Role names seeded at startup.
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// Credential is what the auth core reads about an account. It never writes one.
type Credential struct {
	Username       string
	PasswordDigest string
	Roles          []string
}

// LoginRequest carries a login attempt. Password is plaintext and must not be logged.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var (
	// ErrInvalidCredentials is returned for both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrCredentialNotFound is returned by a CredentialStore when the username is unknown.
	ErrCredentialNotFound = errors.New("credential not found")
)

// CredentialStore resolves usernames to their current credential.
type CredentialStore interface {
	FindCredential(ctx context.Context, username string) (*Credential, error)
}

// AuthService defines authentication behaviour.
type AuthService interface {
	Authenticate(ctx context.Context, req LoginRequest) (string, error)
}
