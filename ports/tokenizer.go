package ports

import (
	"time"

	"github.com/layer-3/tollgate/core"
)

// LicenseSigner converts between licenses and bearer tokens
type LicenseSigner interface {
	Issue(nonce string, ttl time.Duration) (string, *core.License, error)

	// Verify returns core.ErrLicenseInvalid or core.ErrLicenseExpired on failure.
	Verify(token string) (*core.License, error)
}
