package tokenizer

import "github.com/golang-jwt/jwt/v5"

// LicenseClaims are the standard claims of a license token; the nonce is the JWT ID
type LicenseClaims struct {
	jwt.RegisteredClaims
	AllowInference bool `json:"inf"`
}
