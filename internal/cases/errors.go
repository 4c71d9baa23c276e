package cases

import "errors"

var (
	ErrNotFound          = errors.New("case not found")
	ErrInvalidTransition = errors.New("onboarding status cannot regress")
	ErrInvalidStatus     = errors.New("invalid onboarding status")
	ErrClaimNotFound     = errors.New("delivery claim not found")
)
