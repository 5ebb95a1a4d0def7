package accounts

import (
	"errors"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeInvalidEmail       = "INVALID_EMAIL"
	TextCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	TextCodeDuplicateOAuth     = "DUPLICATE_OAUTH_IDENTITY"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeInvalidToken       = "INVALID_TOKEN"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenWrongPurpose  = "TOKEN_WRONG_PURPOSE"
	TextCodeTokenUsed          = "TOKEN_ALREADY_USED"
	TextCodeWrongOldPassword   = "WRONG_OLD_PASSWORD"
	TextCodeStaleWrite         = "STALE_WRITE"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeAlreadyVerified    = "ALREADY_VERIFIED"
	TextCodeEmailRequired      = "EMAIL_REQUIRED"
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeAccountInactive    = "ACCOUNT_INACTIVE"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeInvalidTransition  = "INVALID_ACCOUNT_STATE_TRANSITION"
	TextCodeUnsupportedHash    = "UNSUPPORTED_PASSWORD_HASH"
	TextCodeUnsupportedOAuthID = "UNSUPPORTED_OAUTH_PROVIDER"
)

// ErrValidation is the parent of every FieldErrors value
var ErrValidation = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidEmail is returned by the store for malformed addresses
var ErrInvalidEmail = goerrors.New("invalid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateEmail is returned when the email is already registered
var ErrDuplicateEmail = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeConflict)

// ErrDuplicateOAuthIdentity is returned when the provider identity is already linked
var ErrDuplicateOAuthIdentity = goerrors.New("oauth identity already linked", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateOAuth).
	WithCode(goerrors.CodeConflict)

// ErrForbidden is returned when the actor lacks the role or ownership
var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken is the only token failure callers of the lifecycle see
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is reported by the credential manager, logged only
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenWrongPurpose is reported by the credential manager, logged only
var ErrTokenWrongPurpose = goerrors.New("token issued for a different purpose", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenWrongPurpose).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenUsed is reported when the token record was already consumed
var ErrTokenUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenUsed).
	WithCode(goerrors.CodeConflict)

// ErrWrongOldPassword is returned by ChangePassword
var ErrWrongOldPassword = goerrors.New("old password is incorrect", goerrors.CategoryValidation).
	WithTextCode(TextCodeWrongOldPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrStaleWrite is returned when the account changed since it was read
var ErrStaleWrite = goerrors.New("account was modified concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeStaleWrite).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned for unknown ids
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyVerified is returned by VerifyEmail for verified accounts
var ErrAlreadyVerified = goerrors.New("email is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailRequired is returned when a new OAuth identity has no email
var ErrEmailRequired = goerrors.New("email is required for new oauth users", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmailRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when the password does not match
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountInactive is returned by logins on accounts that are not active
var ErrAccountInactive = goerrors.New("account is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrUnsupportedHash is returned for hashes no known Hasher produced
var ErrUnsupportedHash = goerrors.New("unsupported password hash format", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnsupportedHash)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// FieldErrors is a field level ValidationError: field name to message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match
func (f FieldErrors) Unwrap() error {
	return ErrValidation
}

// NewFieldError builds a single field validation error
func NewFieldError(field, message string) FieldErrors {
	return FieldErrors{field: message}
}

// ValidationFields extracts the field messages from a validation error
func ValidationFields(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsTokenError reports whether err is any of the token verification failures
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenWrongPurpose) ||
		errors.Is(err, ErrTokenUsed)
}

func internalError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	var fe FieldErrors
	if errors.As(err, &fe) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}
