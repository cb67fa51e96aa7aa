package cli

import (
	"errors"

	"github.com/fpang/media-bundler/internal/auth"
)

// ValidationMessage returns the user-facing hint for a session validation
// failure.
func ValidationMessage(err error) string {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return "unexpected error during session validation"
	}
	switch validationErr.Type {
	case auth.ErrTypeNoToken:
		return "No session token configured. Set " + auth.TokenEnv + " or run `media-dl login`"
	case auth.ErrTypeInvalidToken:
		return "Session token rejected. Run `media-dl login` with a fresh token"
	case auth.ErrTypeNetworkError:
		return "Network error. Check your connection and the gateway URL"
	case auth.ErrTypeNotFound:
		return "Chat not found. Check the link and that this session can see it"
	default:
		return "Session validation failed"
	}
}
