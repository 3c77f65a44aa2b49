package domain

import "errors"

var (
	ErrTokenInvalid        = errors.New("token_invalid")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrInvalidToken        = errors.New("invalid_device_token")
	ErrInvalidPlatform     = errors.New("invalid_platform")
	ErrInvalidUser         = errors.New("invalid_user")
)
