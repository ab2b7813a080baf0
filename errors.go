package tollgate

import (
	"errors"
)

var (
	// ErrUnexpectedStatus is returned when the gate answers with a status the call does not expect
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrNoAcceptableOption is returned when no challenge matches the payer's chain
	ErrNoAcceptableOption = errors.New("no acceptable payment option")

	// ErrPaymentRejected is returned when the gate refuses the payment proof
	ErrPaymentRejected = errors.New("payment rejected")

	// ErrLicenseRejected is returned when the gate refuses the license
	ErrLicenseRejected = errors.New("license rejected")
)
