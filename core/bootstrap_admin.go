package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"

	"github.com/rs/zerolog"
)

// BootstrapSuperAdmin creates an initial super admin when none exists.
// It is idempotent: if a super admin already exists, it does nothing.
// The generated password is written to cfg.InitialAdminPasswordPath, or
// logged when the path is empty.
func BootstrapSuperAdmin(ctx context.Context, repo UserRepository, hasher PasswordHasher, cfg Config, log zerolog.Logger) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}

	has, err := repo.HasSuperAdmin(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	email := "admin@elimuhub.co.ke"
	password, err := generatePassword(32)
	if err != nil {
		return err
	}

	digest, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	if _, err := repo.Create(ctx, CreateUserParams{
		Email:          email,
		PasswordDigest: digest,
		FirstName:      "System",
		LastName:       "Administrator",
		Role:           RoleSuperAdmin,
	}); err != nil {
		// A concurrent bootstrap already created the account.
		if errors.Is(err, ErrDuplicateEmail) {
			return nil
		}
		return err
	}

	if cfg.InitialAdminPasswordPath != "" {
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		log.Info().Str("path", cfg.InitialAdminPasswordPath).Msg("initial super admin created; credentials written to file")
	} else {
		log.Warn().Str("email", email).Str("password", password).Msg("initial super admin created")
	}

	return nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	// length random bytes encode to more than length characters.
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
