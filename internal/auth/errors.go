package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateIdentity = errors.New("email already registered")

	// Gate rejections. NoCredential, InvalidCredential and the token kinds all
	// surface to clients as 401; they stay distinct for logging and tests.
	ErrNoCredential           = errors.New("no credential presented")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrInvalidToken           = errors.New("invalid token")
	ErrTokenExpired           = errors.New("token expired")
	ErrIdentitySubjectMissing = errors.New("token subject does not resolve to an identity")
	ErrForbidden              = errors.New("forbidden")

	ErrStorageFault = errors.New("storage fault")
)

// ValidationError describes malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ForbiddenError carries the identity's role and what the operation required.
type ForbiddenError struct {
	Role     Role
	Required []Role
}

func (e *ForbiddenError) Error() string {
	req := make([]string, len(e.Required))
	for i, r := range e.Required {
		req[i] = string(r)
	}
	return fmt.Sprintf("role: %s is not allowed to access this resource (requires %s)", e.Role, strings.Join(req, "|"))
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
