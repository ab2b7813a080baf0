package tokenizer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

// compactPayload is the signed part of a compact license. Field order is the
// canonical serialization order.
type compactPayload struct {
	Nonce   string `json:"nonce"`
	Expires int64  `json:"expires"` // unix ms
	Issued  int64  `json:"issued"`  // unix ms
}

type compactEnvelope struct {
	Nonce     string `json:"nonce"`
	Expires   int64  `json:"expires"`
	Issued    int64  `json:"issued"`
	Signature string `json:"signature"`
}

// CompactSigner issues licenses as base64(JSON) blobs carrying a hex
// HMAC-SHA256 signature over the canonical payload.
type CompactSigner struct {
	secret []byte
	now    func() time.Time
}

var _ ports.LicenseSigner = (*CompactSigner)(nil)

// NewCompactSigner creates a compact license signer
func NewCompactSigner(secret []byte) *CompactSigner {
	return &CompactSigner{secret: secret, now: time.Now}
}

// Issue implements ports.LicenseSigner.
func (s *CompactSigner) Issue(nonce string, ttl time.Duration) (string, *core.License, error) {
	now := s.now()
	payload := compactPayload{
		Nonce:   nonce,
		Expires: now.Add(ttl).UnixMilli(),
		Issued:  now.UnixMilli(),
	}

	sig, err := s.sign(payload)
	if err != nil {
		return "", nil, err
	}

	blob, err := json.Marshal(compactEnvelope{
		Nonce:     payload.Nonce,
		Expires:   payload.Expires,
		Issued:    payload.Issued,
		Signature: sig,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode license: %w", err)
	}

	return base64.StdEncoding.EncodeToString(blob), payload.license(sig), nil
}

// Verify implements ports.LicenseSigner. Anything but the exact bytes Issue
// produced is rejected.
func (s *CompactSigner) Verify(token string) (*core.License, error) {
	blob, err := base64.StdEncoding.Strict().DecodeString(token)
	if err != nil {
		return nil, core.ErrLicenseInvalid
	}

	var env compactEnvelope
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, core.ErrLicenseInvalid
	}

	// json decoding tolerates key case and spacing, the signature must not
	canonical, err := json.Marshal(env)
	if err != nil || !bytes.Equal(canonical, blob) {
		return nil, core.ErrLicenseInvalid
	}

	payload := compactPayload{Nonce: env.Nonce, Expires: env.Expires, Issued: env.Issued}
	want, err := s.sign(payload)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(want), []byte(env.Signature)) {
		return nil, core.ErrLicenseInvalid
	}

	license := payload.license(env.Signature)
	if license.Expired(s.now()) {
		return license, core.ErrLicenseExpired
	}

	return license, nil
}

func (s *CompactSigner) sign(payload compactPayload) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("license secret is empty")
	}

	msg, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (p compactPayload) license(sig string) *core.License {
	return &core.License{
		Nonce:     p.Nonce,
		IssuedAt:  time.UnixMilli(p.Issued),
		ExpiresAt: time.UnixMilli(p.Expires),
		Signature: sig,
	}
}
