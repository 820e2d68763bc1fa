package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a ready HTTP status and machine-readable code.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNoAdapter() *DomainError {
	return domainError(http.StatusConflict, "NO_ADAPTER", "No sync adapter selected", nil)
}

// errDisabled reports a feature whose backend is not configured.
func errDisabled(code, feature string) *DomainError {
	return domainError(http.StatusConflict, code, feature+" is not configured", nil)
}
