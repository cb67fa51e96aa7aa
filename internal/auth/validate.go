package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/metrics"
	"github.com/fpang/media-bundler/internal/source"
)

// ValidationError represents a specific type of session validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoToken indicates no session token was found.
	ErrTypeNoToken ValidationErrorType = iota
	// ErrTypeInvalidToken indicates the token is malformed, expired or revoked.
	ErrTypeInvalidToken
	// ErrTypeNetworkError indicates the source could not be reached.
	ErrTypeNetworkError
	// ErrTypeNotFound indicates the chat does not exist or is not visible.
	ErrTypeNotFound
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Lister is the part of a media source used to check a session.
type Lister interface {
	List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error)
}

// CheckTokenFormat rejects tokens that cannot be a valid credential.
func CheckTokenFormat(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &ValidationError{Type: ErrTypeNoToken, Message: "session token is empty"}
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return &ValidationError{Type: ErrTypeInvalidToken, Message: "session token must not contain whitespace"}
	}
	if len(token) < 16 {
		return &ValidationError{Type: ErrTypeInvalidToken, Message: "session token is too short"}
	}
	return nil
}

// ValidateSession verifies the source accepts the current session by
// listing a single item of ref.
func ValidateSession(ctx context.Context, src Lister, ref string) error {
	log.Debug().Str("ref", ref).Msg("Validating session against media source")

	start := time.Now()
	_, err := src.List(ctx, ref, 1)
	elapsed := time.Since(start)

	result := "success"
	var valErr *ValidationError
	if err != nil {
		valErr = classifyError(err)
		switch valErr.Type {
		case ErrTypeInvalidToken:
			result = "invalid"
		case ErrTypeNetworkError:
			result = "network_error"
		case ErrTypeNotFound:
			result = "not_found"
		default:
			result = "unknown"
		}
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("SessionValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("SessionValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("Session validated successfully")
	return nil
}

// classifyError maps a source error to a ValidationError.
func classifyError(err error) *ValidationError {
	switch {
	case errors.Is(err, source.ErrUnauthorized):
		log.Error().Err(err).Msg("Session rejected by source")
		return &ValidationError{
			Type:    ErrTypeInvalidToken,
			Message: "session token is invalid, expired, or lacks access",
			Err:     err,
		}
	case errors.Is(err, source.ErrNotFound):
		log.Error().Err(err).Msg("Chat not found")
		return &ValidationError{
			Type:    ErrTypeNotFound,
			Message: "chat not found or not visible to this session",
			Err:     err,
		}
	case source.IsTransient(err):
		log.Error().Err(err).Msg("Network error during session validation")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "source unreachable - check your connection and gateway URL",
			Err:     err,
		}
	default:
		log.Error().Err(err).Msg("Unknown error during session validation")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "failed to validate session",
			Err:     err,
		}
	}
}
