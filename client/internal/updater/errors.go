package updater

import (
	"errors"
	"fmt"
)

// ErrorDomain identifies errors raised by this engine, as opposed to
// errors bubbled up verbatim from the feed transport or the OS.
const ErrorDomain = "app.nightjar.updater"

// Error codes. The first four describe conditions a silent installation
// cannot recover from without a human: they require the interactive path.
const (
	CodeAuthenticationFailure    = 4001
	CodeInstallAuthorizeLater    = 4008
	CodeInstallRootInteractive   = 4011
	CodeInstallNoWritePermission = 4012

	CodeDownloadFailure = 4100
	CodeInvalidFeed     = 4101
)

var interactionCodes = map[int]struct{}{
	CodeAuthenticationFailure:    {},
	CodeInstallAuthorizeLater:    {},
	CodeInstallRootInteractive:   {},
	CodeInstallNoWritePermission: {},
}

// Error is a coded engine error. Domain and Code together let callers
// classify a failure without string matching.
type Error struct {
	Domain string
	Code   int
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error %d", e.Domain, e.Code)
	}
	return fmt.Sprintf("%s error %d: %v", e.Domain, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code int, err error) *Error {
	return &Error{Domain: ErrorDomain, Code: code, Err: err}
}

// RequiresUserInteraction reports whether err identifies a condition the
// silent path must hand over to the interactive path, such as an
// installation that needs authorization.
func RequiresUserInteraction(err error) bool {
	domain, code, ok := DomainCode(err)
	if !ok || domain != ErrorDomain {
		return false
	}
	_, ok = interactionCodes[code]
	return ok
}

// DomainCode extracts the domain and code of a coded error. ok is false
// when err carries no *Error in its chain.
func DomainCode(err error) (domain string, code int, ok bool) {
	var ue *Error
	if !errors.As(err, &ue) {
		return "", 0, false
	}
	return ue.Domain, ue.Code, true
}
