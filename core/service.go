package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// dummyPassword feeds the hasher when the username is unknown so both failure
// paths cost one hash comparison.
const dummyPassword = "usermgr-timing-equaliser"

// Authenticator verifies credentials against a CredentialStore and issues tokens.
type Authenticator struct {
	creds       CredentialStore
	hasher      PasswordHasher
	tokens      *TokenCodec
	now         func() time.Time
	dummyDigest string
}

func NewAuthenticator(creds CredentialStore, hasher PasswordHasher, tokens *TokenCodec) *Authenticator {
	dummy, _ := hasher.Hash(dummyPassword)
	return &Authenticator{
		creds:       creds,
		hasher:      hasher,
		tokens:      tokens,
		now:         time.Now,
		dummyDigest: dummy,
	}
}

// Authenticate returns a signed token for a matching username/password pair.
// Unknown user and wrong password both yield ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, req LoginRequest) (string, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		a.hasher.Verify(req.Password, a.dummyDigest)
		return "", ErrInvalidCredentials
	}

	cred, err := a.creds.FindCredential(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			a.hasher.Verify(req.Password, a.dummyDigest)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup credential: %w", err)
	}

	if !a.hasher.Verify(req.Password, cred.PasswordDigest) {
		return "", ErrInvalidCredentials
	}
	return a.tokens.Issue(cred.Username, a.now())
}
