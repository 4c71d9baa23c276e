package ingestion

import "errors"

var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformed           = errors.New("malformed webhook payload")
	ErrUnknownReference    = errors.New("unknown reference id")
	ErrRequestNotFound     = errors.New("ingestion request not found")
	ErrProviderUnavailable = errors.New("provider client not configured")
	ErrNoLawsuitNumber     = errors.New("case has no lawsuit number")
)
