package dto

import (
	"errors"
	"net/http"

	"mailgate/internal/domain"
)

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// Stable machine-readable error codes carried in every error envelope.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidSenderPrefix   = "invalid_sender_prefix"
	CodeInvalidRecipientEmail = "invalid_recipient_email"
	CodeUnauthorized          = "unauthorized"
	CodeForbidden             = "forbidden"
	CodeNotFound              = "not_found"
	CodeDomainExists          = "domain_exists"
	CodeDomainInUse           = "domain_in_use"
	CodeDomainNotVerified     = "domain_not_verified"
	CodeRateLimited           = "rate_limited"
	CodeInternalError         = "internal_error"
)

// ErrorInfoFor maps a service error to its HTTP status and envelope body.
// Unrecognized errors collapse to a generic 500 so internal detail never
// reaches a client.
func ErrorInfoFor(err error) (int, ErrorInfo) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidDomainName):
		return http.StatusBadRequest, ErrorInfo{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidSender):
		return http.StatusBadRequest, ErrorInfo{Code: CodeInvalidSenderPrefix, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidRecipient):
		return http.StatusBadRequest, ErrorInfo{Code: CodeInvalidRecipientEmail, Message: err.Error()}
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorInfo{Code: CodeUnauthorized, Message: "invalid or missing credentials"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorInfo{Code: CodeForbidden, Message: "access to this resource is denied"}
	case errors.Is(err, domain.ErrDomainNotFound),
		errors.Is(err, domain.ErrEmailNotFound),
		errors.Is(err, domain.ErrAPIKeyNotFound):
		return http.StatusNotFound, ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrDomainExists):
		return http.StatusConflict, ErrorInfo{Code: CodeDomainExists, Message: err.Error()}
	case errors.Is(err, domain.ErrDomainInUse):
		return http.StatusConflict, ErrorInfo{Code: CodeDomainInUse, Message: err.Error()}
	case errors.Is(err, domain.ErrDomainNotVerified):
		return http.StatusConflict, ErrorInfo{Code: CodeDomainNotVerified, Message: err.Error()}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, ErrorInfo{Code: CodeRateLimited, Message: "too many requests"}
	default:
		return http.StatusInternalServerError, ErrorInfo{Code: CodeInternalError, Message: "internal server error"}
	}
}
