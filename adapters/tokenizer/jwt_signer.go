package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

const AudienceLicense = "tollgate:license"

// JWTSigner implements ports.LicenseSigner using HS256 JWTs
type JWTSigner struct {
	secret []byte
	now    func() time.Time
}

var _ ports.LicenseSigner = (*JWTSigner)(nil)

// NewJWTSigner creates a new JWT license signer
func NewJWTSigner(secret []byte) *JWTSigner {
	return &JWTSigner{secret: secret, now: time.Now}
}

// Issue implements ports.LicenseSigner.
func (j *JWTSigner) Issue(nonce string, ttl time.Duration) (string, *core.License, error) {
	if len(j.secret) == 0 {
		return "", nil, errors.New("license secret is empty")
	}

	now := j.now()
	claims := LicenseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{AudienceLicense},
		},
		AllowInference: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign license: %w", err)
	}

	return signedToken, j.toLicense(&claims, signatureSegment(signedToken)), nil
}

// Verify implements ports.LicenseSigner.
func (j *JWTSigner) Verify(tokenStr string) (*core.License, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &LicenseClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceLicense),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		// the signature is checked before expiry, so an expired token is authentic
		if errors.Is(err, jwt.ErrTokenExpired) && token != nil {
			if claims, ok := token.Claims.(*LicenseClaims); ok {
				return j.toLicense(claims, signatureSegment(tokenStr)), core.ErrLicenseExpired
			}
			return nil, core.ErrLicenseExpired
		}
		return nil, core.ErrLicenseInvalid
	}

	claims, ok := token.Claims.(*LicenseClaims)
	if !ok || !token.Valid || claims.ID == "" || !claims.AllowInference {
		return nil, core.ErrLicenseInvalid
	}

	return j.toLicense(claims, signatureSegment(tokenStr)), nil
}

func (j *JWTSigner) toLicense(claims *LicenseClaims, sig string) *core.License {
	license := &core.License{
		Nonce:     claims.ID,
		Signature: sig,
	}
	if claims.IssuedAt != nil {
		license.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		license.ExpiresAt = claims.ExpiresAt.Time
	}
	return license
}

func signatureSegment(token string) string {
	return token[strings.LastIndex(token, ".")+1:]
}
