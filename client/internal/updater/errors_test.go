package updater

import (
	"errors"
	"fmt"
	"testing"
)

func TestRequiresUserInteraction(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "authentication failure",
			err:      newError(CodeAuthenticationFailure, errors.New("bad signature")),
			expected: true,
		},
		{
			name:     "authorize later",
			err:      newError(CodeInstallAuthorizeLater, nil),
			expected: true,
		},
		{
			name:     "root interactive",
			err:      newError(CodeInstallRootInteractive, nil),
			expected: true,
		},
		{
			name:     "no write permission",
			err:      newError(CodeInstallNoWritePermission, errors.New("read-only volume")),
			expected: true,
		},
		{
			name:     "download failure",
			err:      newError(CodeDownloadFailure, errors.New("connection reset")),
			expected: false,
		},
		{
			name:     "invalid feed",
			err:      newError(CodeInvalidFeed, errors.New("not json")),
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("something else"),
			expected: false,
		},
		{
			name:     "wrapped coded error",
			err:      fmt.Errorf("check failed: %w", newError(CodeInstallNoWritePermission, nil)),
			expected: true,
		},
		{
			name: "foreign domain",
			err: &Error{
				Domain: "app.nightjar.other",
				Code:   CodeAuthenticationFailure,
			},
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequiresUserInteraction(tc.err); got != tc.expected {
				t.Errorf("expected %t, got %t", tc.expected, got)
			}
		})
	}
}

func TestDomainCode(t *testing.T) {
	wrapped := fmt.Errorf("stage: %w", newError(CodeDownloadFailure, errors.New("disk full")))
	domain, code, ok := DomainCode(wrapped)
	if !ok {
		t.Fatal("expected a coded error in the chain")
	}
	if domain != ErrorDomain {
		t.Errorf("expected domain %q, got %q", ErrorDomain, domain)
	}
	if code != CodeDownloadFailure {
		t.Errorf("expected code %d, got %d", CodeDownloadFailure, code)
	}

	if _, _, ok := DomainCode(errors.New("plain")); ok {
		t.Error("expected no code for a plain error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := newError(CodeDownloadFailure, cause)
	if !errors.Is(err, cause) {
		t.Error("expected coded error to unwrap to its cause")
	}
}
