package core

import "errors"

var (
	// Client input errors
	ErrInvalidProof      = errors.New("invalid payment header")
	ErrMissingReference  = errors.New("missing transaction reference")
	ErrUnsupportedChain  = errors.New("invalid chain or token")
	ErrNonceUsed         = errors.New("nonce already used")
	ErrUnknownNonce      = errors.New("unknown or expired nonce")
	ErrReferenceUsed     = errors.New("transaction already used")
	ErrInvalidGeneration = errors.New("invalid prompt")

	// Payment not satisfied
	ErrPaymentNotVerified = errors.New("payment verification failed")

	// License errors
	ErrLicenseInvalid = errors.New("invalid license")
	ErrLicenseExpired = errors.New("license has expired")
	ErrLicenseUsed    = errors.New("license already used")

	// Server errors
	ErrServerMisconfigured = errors.New("server configuration error")
	ErrStoreUnavailable    = errors.New("store operation failed")
)
