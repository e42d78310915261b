package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

const bootstrapAdminUsername = "admin"

// BootstrapAdmin seeds ROLE_USER and ROLE_ADMIN and creates the "admin" account
// holding both roles when it does not exist. Running it again is a no-op.
func BootstrapAdmin(ctx context.Context, users UserRepository, roles RoleRepository, hasher PasswordHasher, cfg Config, log logrus.FieldLogger) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}
	if err := roles.EnsureRoles(ctx, RoleUser, RoleAdmin); err != nil {
		return err
	}

	_, err := users.FindCredential(ctx, bootstrapAdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCredentialNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	roleIDs := make([]int64, 0, 2)
	for _, name := range []string{RoleUser, RoleAdmin} {
		r, err := roles.FindRoleByName(ctx, name)
		if err != nil {
			return err
		}
		roleIDs = append(roleIDs, r.ID)
	}

	password := cfg.BootstrapAdminPassword
	generated := password == ""
	if generated {
		if password, err = generatePassword(24); err != nil {
			return err
		}
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	if _, err := users.Create(ctx, bootstrapAdminUsername, hash, roleIDs); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			// another instance won the race
			return nil
		}
		return err
	}

	entry := log.WithField("username", bootstrapAdminUsername)
	switch {
	case !generated:
		entry.Info("initial admin created with configured password")
	case cfg.InitialAdminPasswordPath != "":
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		entry.WithField("path", cfg.InitialAdminPasswordPath).Info("initial admin created; password written to file")
	default:
		entry.WithField("password", password).Warn("initial admin created; set INITIAL_ADMIN_PASSWORD_PATH to keep the password out of logs")
	}
	return nil
}

func generatePassword(length int) (string, error) {
	if length < 8 {
		return "", errors.New("password length must be at least 8")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	// guarantee a letter and a digit so the password passes the letterdigit rule
	return "a1" + base64.RawURLEncoding.EncodeToString(raw)[:length-2], nil
}
