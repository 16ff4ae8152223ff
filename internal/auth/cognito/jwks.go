package cognito

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// decodeRSAKey decodes the base64url-encoded modulus and exponent of
// one JWKS RSA key entry.
func decodeRSAKey(nEncoded, eEncoded string) (*rsaPublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nEncoded)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eEncoded)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsaPublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func (k *rsaPublicKey) toRSAPublicKey() *rsa.PublicKey {
	return &rsa.PublicKey{N: k.N, E: k.E}
}
