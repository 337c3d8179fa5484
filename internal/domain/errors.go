package domain

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrDomainExists       = errors.New("domain already exists")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainNotVerified  = errors.New("domain not verified")
	ErrDomainInUse        = errors.New("domain referenced by api keys")
	ErrInvalidDomainName  = errors.New("invalid domain name")
	ErrInvalidSender      = errors.New("invalid sender address")
	ErrInvalidRecipient   = errors.New("invalid recipient address")
	ErrEmailNotFound      = errors.New("email not found")
	ErrAPIKeyNotFound     = errors.New("api key not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
)
