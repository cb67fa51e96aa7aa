// Package auth provides the session credential handed to media sources.
// The credential itself is opaque: the gateway that talks to the messaging
// platform issues it and this package only stores and retrieves it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// TokenEnv names the environment variable that overrides the stored token.
const TokenEnv = "MEDIA_SESSION_TOKEN"

const (
	credentialDir  = ".media-bundler"
	credentialFile = "session"
)

// ErrNoSession is returned when no credential source is configured.
var ErrNoSession = errors.New("no session credential")

// SessionToken retrieves the session credential from available sources.
// Priority order:
//  1. MEDIA_SESSION_TOKEN environment variable
//  2. ~/.media-bundler/session (must be owner-only)
func SessionToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		log.Debug().Msg("Using session token from environment variable")
		return token, nil
	}

	path, err := credentialPath()
	if err != nil {
		return "", err
	}
	token, err := readTokenFile(path)
	if err == nil {
		log.Debug().Str("file", path).Msg("Using session token from file")
		return token, nil
	}
	if errors.Is(err, ErrNoSession) {
		return "", fmt.Errorf("%w: set %s or run `media-dl login`", ErrNoSession, TokenEnv)
	}
	log.Error().Err(err).Msg("Failed to read session token")
	return "", err
}

// readTokenFile reads a token file, refusing files readable by others.
func readTokenFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("stat session file: %w", err)
	}

	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("session_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Session file has insecure permissions (should be 0600); ignoring")
		return "", fmt.Errorf("session file %s has insecure permissions %04o", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

// SaveSessionToken stores token in the owner-only credential file and
// returns its path.
func SaveSessionToken(token string) (string, error) {
	if err := CheckTokenFormat(token); err != nil {
		return "", err
	}
	path, err := credentialPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write session file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("restrict session file: %w", err)
	}
	log.Info().Str("file", path).Msg("Session token saved")
	return path, nil
}

// credentialPath returns the full path to the session file.
func credentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}
