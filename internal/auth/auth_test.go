package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/source"
)

const testToken = "session-token-0123456789"

func TestSessionTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, testToken)

	token, err := SessionToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != testToken {
		t.Errorf("expected token %q, got %q", testToken, token)
	}
}

func TestSessionTokenNoSource(t *testing.T) {
	t.Setenv(TokenEnv, "")
	t.Setenv("HOME", t.TempDir())

	_, err := SessionToken()
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestSaveAndReadSessionToken(t *testing.T) {
	t.Setenv(TokenEnv, "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := SaveSessionToken(testToken)
	if err != nil {
		t.Fatalf("SaveSessionToken: %v", err)
	}
	if want := filepath.Join(home, ".media-bundler", "session"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %04o", fi.Mode().Perm())
	}

	token, err := SessionToken()
	if err != nil || token != testToken {
		t.Errorf("SessionToken = %q, %v", token, err)
	}
}

func TestSessionTokenInsecureFile(t *testing.T) {
	t.Setenv(TokenEnv, "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".media-bundler")
	os.MkdirAll(dir, 0o700)
	path := filepath.Join(dir, "session")
	if err := os.WriteFile(path, []byte(testToken), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Chmod(path, 0o644)

	if _, err := SessionToken(); err == nil || errors.Is(err, ErrNoSession) {
		t.Errorf("expected permissions error, got %v", err)
	}
}

func TestCheckTokenFormat(t *testing.T) {
	tests := []struct {
		token string
		want  ValidationErrorType
		ok    bool
	}{
		{testToken, 0, true},
		{"", ErrTypeNoToken, false},
		{"short", ErrTypeInvalidToken, false},
		{"has space in the middle of it", ErrTypeInvalidToken, false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			err := CheckTokenFormat(tt.token)
			if tt.ok {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Type != tt.want {
				t.Errorf("err = %v, want type %d", err, tt.want)
			}
		})
	}
}

type stubLister struct{ err error }

func (s stubLister) List(context.Context, string, int) ([]media.RawMetadata, error) {
	return nil, s.err
}

func TestValidateSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ValidationErrorType
	}{
		{"unauthorized", source.Permanent(fmt.Errorf("%w: status 401", source.ErrUnauthorized)), ErrTypeInvalidToken},
		{"not found", source.Permanent(source.ErrNotFound), ErrTypeNotFound},
		{"network", source.Transient(errors.New("dial tcp: refused"), 0), ErrTypeNetworkError},
		{"other", source.Permanent(errors.New("bad request")), ErrTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSession(context.Background(), stubLister{err: tt.err}, "@chan")
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Type != tt.want {
				t.Errorf("err = %v, want type %d", err, tt.want)
			}
		})
	}

	if err := ValidateSession(context.Background(), stubLister{}, "@chan"); err != nil {
		t.Errorf("valid session: %v", err)
	}
}
